// Package panel derives the sliding panel height from the combined inbox
// and booking state. One pure mapping serves both the immediate command
// path and the debounced reactive path, so the two can never diverge.
package panel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/example/driver-dispatch/internal/clock"
	"github.com/example/driver-dispatch/internal/observability"
	"github.com/example/driver-dispatch/internal/wizard"
)

// Detent is one of the fixed heights the panel can snap to.
type Detent string

const (
	DetentCompact  Detent = "compact"
	DetentHalf     Detent = "half"
	DetentExpanded Detent = "expanded"
)

// Inputs is the combined state the mapping is computed from.
type Inputs struct {
	PendingOffers int
	Wizard        wizard.State
}

// DetentFor is the single source of truth for the panel height.
func DetentFor(in Inputs) Detent {
	switch in.Wizard {
	case wizard.StateLocationSearch:
		return DetentExpanded
	case wizard.StateVehicleSelection, wizard.StateConfirmation, wizard.StateRiderSearch:
		return DetentHalf
	default:
		return DetentCompact
	}
}

// Controller applies DetentFor over two paths: SetImmediate for perceived
// responsiveness when entering location search, and Observe, which settles
// after a short debounce to avoid flicker on rapid transitions.
type Controller struct {
	clk      clock.Clock
	debounce time.Duration
	onApply  func(Detent)
	log      *slog.Logger

	mu      sync.Mutex
	current Detent
	latest  Inputs
	timer   clock.Timer
	stopped bool
}

func NewController(clk clock.Clock, debounce time.Duration, onApply func(Detent), log *slog.Logger) *Controller {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if onApply == nil {
		onApply = func(Detent) {}
	}
	return &Controller{
		clk:      clk,
		debounce: debounce,
		onApply:  onApply,
		log:      log,
		current:  DetentCompact,
	}
}

// SetImmediate recomputes and applies the detent synchronously.
func (c *Controller) SetImmediate(in Inputs) {
	c.mu.Lock()
	c.latest = in
	changed, d := c.applyLocked(DetentFor(in))
	c.mu.Unlock()
	if changed {
		c.onApply(d)
	}
}

// Observe notes a state change and schedules a debounced recomputation.
// Later observations within the window supersede earlier ones.
func (c *Controller) Observe(in Inputs) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.latest = in
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clk.AfterFunc(c.debounce, c.settle)
}

func (c *Controller) settle() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	changed, d := c.applyLocked(DetentFor(c.latest))
	c.mu.Unlock()
	if changed {
		c.onApply(d)
	}
}

func (c *Controller) Current() Detent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stop cancels any pending recomputation. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) applyLocked(d Detent) (bool, Detent) {
	if d == c.current {
		return false, d
	}
	c.current = d
	observability.PanelTransitionsTotal.WithLabelValues(string(d)).Inc()
	c.log.Debug("panel detent", "detent", string(d))
	return true, d
}
