package panel

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-dispatch/internal/clock"
	"github.com/example/driver-dispatch/internal/wizard"
)

var testLogger = slog.New(slog.NewTextHandler(discard{}, nil))

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDetentMapping(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want Detent
	}{
		{"location search expands", Inputs{Wizard: wizard.StateLocationSearch}, DetentExpanded},
		{"location search expands with offers queued", Inputs{PendingOffers: 3, Wizard: wizard.StateLocationSearch}, DetentExpanded},
		{"vehicle selection is half", Inputs{Wizard: wizard.StateVehicleSelection}, DetentHalf},
		{"confirmation is half", Inputs{Wizard: wizard.StateConfirmation}, DetentHalf},
		{"rider search is half", Inputs{Wizard: wizard.StateRiderSearch}, DetentHalf},
		{"idle is compact", Inputs{Wizard: wizard.StateIdle}, DetentCompact},
		{"idle with offers is compact", Inputs{PendingOffers: 2, Wizard: wizard.StateIdle}, DetentCompact},
		{"transient cancelled is compact", Inputs{Wizard: wizard.StateCancelled}, DetentCompact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetentFor(tt.in); got != tt.want {
				t.Errorf("DetentFor(%+v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

type applyLog struct {
	mu      sync.Mutex
	applied []Detent
}

func (a *applyLog) apply(d Detent) {
	a.mu.Lock()
	a.applied = append(a.applied, d)
	a.mu.Unlock()
}

func (a *applyLog) all() []Detent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Detent, len(a.applied))
	copy(out, a.applied)
	return out
}

func TestImmediateAndDebouncedPathsConverge(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	al := &applyLog{}
	c := NewController(clk, 100*time.Millisecond, al.apply, testLogger)
	defer c.Stop()

	// immediate command path on entering location search
	in := Inputs{Wizard: wizard.StateLocationSearch}
	c.SetImmediate(in)
	if got := c.Current(); got != DetentExpanded {
		t.Fatalf("immediate path = %s, want expanded", got)
	}

	// reactive path for the same inputs must agree and not re-apply
	c.Observe(in)
	clk.Advance(100 * time.Millisecond)
	if got := c.Current(); got != DetentExpanded {
		t.Fatalf("debounced path = %s, want expanded", got)
	}
	if applied := al.all(); len(applied) != 1 {
		t.Fatalf("applied %v, want a single transition", applied)
	}
}

func TestDebounceCoalescesRapidTransitions(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	al := &applyLog{}
	c := NewController(clk, 100*time.Millisecond, al.apply, testLogger)
	defer c.Stop()

	c.Observe(Inputs{Wizard: wizard.StateLocationSearch})
	clk.Advance(50 * time.Millisecond)
	c.Observe(Inputs{Wizard: wizard.StateVehicleSelection})
	clk.Advance(50 * time.Millisecond)
	c.Observe(Inputs{Wizard: wizard.StateConfirmation})
	clk.Advance(100 * time.Millisecond)

	if applied := al.all(); len(applied) != 1 || applied[0] != DetentHalf {
		t.Fatalf("applied %v, want one settle to half", applied)
	}
	if got := c.Current(); got != DetentHalf {
		t.Fatalf("current = %s, want half", got)
	}
}

func TestObserveAfterStopIsIgnored(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	al := &applyLog{}
	c := NewController(clk, 100*time.Millisecond, al.apply, testLogger)

	c.Observe(Inputs{Wizard: wizard.StateLocationSearch})
	c.Stop()
	clk.Advance(time.Second)

	if applied := al.all(); len(applied) != 0 {
		t.Fatalf("applied %v after Stop, want none", applied)
	}
	if got := c.Current(); got != DetentCompact {
		t.Fatalf("current = %s, want compact", got)
	}
}

func TestHalfHeldThroughBookingTail(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	c := NewController(clk, 100*time.Millisecond, nil, testLogger)
	defer c.Stop()

	for _, s := range []wizard.State{wizard.StateVehicleSelection, wizard.StateConfirmation, wizard.StateRiderSearch} {
		c.Observe(Inputs{Wizard: s})
		clk.Advance(100 * time.Millisecond)
		if got := c.Current(); got != DetentHalf {
			t.Fatalf("state %s: detent = %s, want half", s, got)
		}
	}
}
