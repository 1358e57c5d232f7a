// Package geo tracks last-known driver positions for the dispatch
// simulator. Heartbeats feed it; the offer generator reads it back.
package geo

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/models"
)

// DriverState is the simulator's view of one connected driver.
type DriverState struct {
	DriverID    string       `json:"driver_id"`
	Coord       models.Coord `json:"coord"`
	IsAvailable bool         `json:"is_available"`
	Updated     time.Time    `json:"updated"`
}

// Presence is the minimal surface the websocket ingest and the offer
// generator need.
type Presence interface {
	Update(st DriverState)
	Nearby(center models.Coord, radiusM float64, limit int) []DriverState
	Remove(driverID string)
}

type MemoryPresence struct {
	mu      sync.RWMutex
	drivers map[string]DriverState
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{drivers: make(map[string]DriverState)}
}

func (m *MemoryPresence) Update(st DriverState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[st.DriverID] = st
}

func (m *MemoryPresence) Remove(driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
}

// Nearby scans all available drivers and returns the closest first. Fine
// for a simulator; a real index would use geo-hashing.
func (m *MemoryPresence) Nearby(center models.Coord, radiusM float64, limit int) []DriverState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type pair struct {
		st   DriverState
		dist float64
	}
	arr := make([]pair, 0, len(m.drivers))
	for _, st := range m.drivers {
		if !st.IsAvailable {
			continue
		}
		dist := Haversine(center, st.Coord)
		if dist > radiusM {
			continue
		}
		arr = append(arr, pair{st, dist})
	}
	sort.Slice(arr, func(a, b int) bool { return arr[a].dist < arr[b].dist })

	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]DriverState, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, arr[i].st)
	}
	return out
}

// Haversine distance in meters.
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}
