// Package inbox manages the queue of inbound ride offers. Every offer
// carries a fixed accept window; a single clock tick drains a min-heap of
// expiry deadlines rather than running one timer per offer.
package inbox

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/channel"
	"github.com/example/driver-dispatch/internal/clock"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
)

var (
	ErrNotFound        = errors.New("ride request not found")
	ErrNotPending      = errors.New("ride request is not pending")
	ErrAcceptInFlight  = errors.New("another accept is already in flight")
	ErrMissingCorrelID = errors.New("ride request missing correlation id")
)

type State string

const (
	StatePending   State = "pending"
	StateAccepting State = "accepting"
	StateAccepted  State = "accepted"
	StateDeclined  State = "declined"
	StateExpired   State = "expired"
)

// Record is one inbound ride offer. ExpiresAt is fixed at arrival and never
// changes. Consumers receive copies and never mutate records.
type Record struct {
	CorrelationID string             `json:"correlation_id"`
	Payload       models.RideRequest `json:"payload"`
	ReceivedAt    time.Time          `json:"received_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	State         State              `json:"state"`
}

// RemainingAt reports the accept window left at the given instant.
func (r Record) RemainingAt(now time.Time) time.Duration {
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type Config struct {
	DriverID string
	TTL      time.Duration
	Tick     time.Duration
}

type Inbox struct {
	cfg  Config
	emit channel.Emitter
	clk  clock.Clock
	log  *slog.Logger

	mu        sync.Mutex
	records   map[string]*Record
	order     []string
	deadlines deadlineHeap
	// inFlight holds the correlation id of the one accept allowed to be
	// unresolved at a time. Server-side arbitration still decides races
	// between drivers; this only stops a second local accept.
	inFlight string
	running  bool

	onChange func()

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, emit channel.Emitter, clk clock.Clock, log *slog.Logger) *Inbox {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Inbox{
		cfg:      cfg,
		emit:     emit,
		clk:      clk,
		log:      log,
		records:  make(map[string]*Record),
		onChange: func() {},
		stop:     make(chan struct{}),
	}
}

// SetOnChange registers the callback invoked after any queue change. Call
// before Start.
func (i *Inbox) SetOnChange(fn func()) {
	if fn != nil {
		i.onChange = fn
	}
}

// Start runs the expiry tick loop.
func (i *Inbox) Start() {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return
	}
	i.running = true
	i.mu.Unlock()

	ticker := i.clk.NewTicker(i.cfg.Tick)
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-i.stop:
				return
			case now := <-ticker.C():
				i.expire(now)
			}
		}
	}()
}

// Stop cancels the tick loop. Idempotent.
func (i *Inbox) Stop() {
	i.stopOnce.Do(func() {
		close(i.stop)
	})
	i.wg.Wait()
}

// Add appends a new pending offer with a fresh accept window. Duplicate
// correlation ids are ignored so redelivered offers apply idempotently.
func (i *Inbox) Add(req models.RideRequest) error {
	if req.CorrelationID == "" {
		return ErrMissingCorrelID
	}

	i.mu.Lock()
	if _, exists := i.records[req.CorrelationID]; exists {
		i.mu.Unlock()
		i.log.Debug("duplicate ride request ignored", "correlation_id", req.CorrelationID)
		return nil
	}
	now := i.clk.Now()
	rec := &Record{
		CorrelationID: req.CorrelationID,
		Payload:       req,
		ReceivedAt:    now,
		ExpiresAt:     now.Add(i.cfg.TTL),
		State:         StatePending,
	}
	i.records[req.CorrelationID] = rec
	i.order = append(i.order, req.CorrelationID)
	heap.Push(&i.deadlines, deadline{at: rec.ExpiresAt, id: req.CorrelationID})
	i.mu.Unlock()

	observability.OffersReceivedTotal.Inc()
	i.log.Info("ride request received",
		"correlation_id", req.CorrelationID,
		"pickup", req.PickupName,
		"drop", req.DropName,
	)
	i.onChange()
	return nil
}

// Accept emits the accept message for one pending offer. Only a single
// accept may be unresolved at a time; other pending offers keep counting
// down untouched. On emit failure the record returns to pending with its
// original deadline, unless that deadline already passed, in which case
// it expires instead.
func (i *Inbox) Accept(id string) error {
	i.mu.Lock()
	if i.inFlight != "" {
		i.mu.Unlock()
		return ErrAcceptInFlight
	}
	rec, ok := i.records[id]
	if !ok {
		i.mu.Unlock()
		return ErrNotFound
	}
	if rec.State != StatePending {
		i.mu.Unlock()
		return ErrNotPending
	}
	rec.State = StateAccepting
	i.inFlight = id
	msg := models.NewRideAccept(i.cfg.DriverID, rec.Payload)
	i.mu.Unlock()
	i.onChange()

	err := i.emit.Emit(msg)

	i.mu.Lock()
	i.inFlight = ""
	rec, ok = i.records[id]
	if !ok {
		// expired out from under us between emit and resolution
		i.mu.Unlock()
		if err != nil {
			return fmt.Errorf("accepting ride %s: %w", id, err)
		}
		return nil
	}
	if err != nil {
		now := i.clk.Now()
		if !now.Before(rec.ExpiresAt) {
			// the deadline passed while the accept was in flight; the tick
			// already discarded the heap entry, so expire here
			rec.State = StateExpired
			i.removeLocked(id)
			i.mu.Unlock()
			observability.AcceptFailuresTotal.Inc()
			observability.OffersExpiredTotal.Inc()
			i.log.Info("ride request expired", "correlation_id", id)
			i.onChange()
			return fmt.Errorf("accepting ride %s: %w", id, err)
		}
		rec.State = StatePending
		// restore the deadline the tick may have dropped; duplicates are
		// harmless, expire skips ids it no longer knows
		heap.Push(&i.deadlines, deadline{at: rec.ExpiresAt, id: id})
		i.mu.Unlock()
		observability.AcceptFailuresTotal.Inc()
		i.onChange()
		return fmt.Errorf("accepting ride %s: %w", id, err)
	}
	rec.State = StateAccepted
	i.removeLocked(id)
	i.mu.Unlock()

	observability.OffersAcceptedTotal.Inc()
	i.log.Info("ride request accepted", "correlation_id", id)
	i.onChange()
	return nil
}

// Decline removes the offer locally. No message is sent: rejection is
// silent and the server times the offer out on its own.
func (i *Inbox) Decline(id string) error {
	i.mu.Lock()
	rec, ok := i.records[id]
	if !ok {
		i.mu.Unlock()
		return ErrNotFound
	}
	if rec.State != StatePending {
		i.mu.Unlock()
		return ErrNotPending
	}
	rec.State = StateDeclined
	i.removeLocked(id)
	i.mu.Unlock()

	observability.OffersDeclinedTotal.Inc()
	i.log.Info("ride request declined", "correlation_id", id)
	i.onChange()
	return nil
}

// Snapshot returns the active queue in arrival order.
func (i *Inbox) Snapshot() []Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Record, 0, len(i.order))
	for _, id := range i.order {
		if rec, ok := i.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

func (i *Inbox) PendingCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.order)
}

// expire silently removes every record whose deadline has passed. Expiry is
// local-only: no network message is sent.
func (i *Inbox) expire(now time.Time) {
	var expired []string

	i.mu.Lock()
	for i.deadlines.Len() > 0 && !i.deadlines[0].at.After(now) {
		d := heap.Pop(&i.deadlines).(deadline)
		rec, ok := i.records[d.id]
		if !ok || rec.State != StatePending {
			continue
		}
		rec.State = StateExpired
		i.removeLocked(d.id)
		expired = append(expired, d.id)
	}
	i.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for _, id := range expired {
		observability.OffersExpiredTotal.Inc()
		i.log.Info("ride request expired", "correlation_id", id)
	}
	i.onChange()
}

func (i *Inbox) removeLocked(id string) {
	delete(i.records, id)
	for idx, v := range i.order {
		if v == id {
			i.order = append(i.order[:idx], i.order[idx+1:]...)
			break
		}
	}
}

type deadline struct {
	at time.Time
	id string
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(a, b int) bool { return h[a].at.Before(h[b].at) }
func (h deadlineHeap) Swap(a, b int)      { h[a], h[b] = h[b], h[a] }
func (h *deadlineHeap) Push(x any)        { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
