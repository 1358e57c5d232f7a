// Package storage records the offers the simulator sends and the accepts
// it receives, so runs can be inspected after the fact.
package storage

import (
	"errors"
	"sync"
	"time"
)

var ErrOfferNotFound = errors.New("offer not found")

type OfferStatus string

const (
	OfferSent     OfferStatus = "sent"
	OfferAccepted OfferStatus = "accepted"
)

type OfferRecord struct {
	CorrelationID string
	DriverID      string
	PickupName    string
	DropName      string
	DistanceKm    float64
	Status        OfferStatus
	SentAt        time.Time
	AcceptedAt    *time.Time
	AcceptedBy    string
}

// OfferLog persists the offer lifecycle.
type OfferLog interface {
	RecordOffer(rec OfferRecord) error
	MarkAccepted(correlationID, driverID string, at time.Time) error
}

type MemoryOfferLog struct {
	mu     sync.RWMutex
	offers map[string]*OfferRecord
}

func NewMemoryOfferLog() *MemoryOfferLog {
	return &MemoryOfferLog{offers: make(map[string]*OfferRecord)}
}

func (m *MemoryOfferLog) RecordOffer(rec OfferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = OfferSent
	m.offers[rec.CorrelationID] = &rec
	return nil
}

// MarkAccepted records the winning driver. A second accept for the same
// offer returns ErrOfferNotFound semantics only when the offer never
// existed; a lost race keeps the first winner.
func (m *MemoryOfferLog) MarkAccepted(correlationID, driverID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.offers[correlationID]
	if !ok {
		return ErrOfferNotFound
	}
	if rec.Status == OfferAccepted {
		return nil
	}
	rec.Status = OfferAccepted
	rec.AcceptedBy = driverID
	rec.AcceptedAt = &at
	return nil
}

func (m *MemoryOfferLog) Get(correlationID string) (OfferRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.offers[correlationID]
	if !ok {
		return OfferRecord{}, false
	}
	return *rec, true
}
