package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Advance moves the current
// time forward, delivering ticker ticks into buffered channels and running
// due AfterFunc callbacks in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{
		// Generous buffer: a stopped consumer must not wedge Advance.
		ch:       make(chan time.Time, 128),
		interval: d,
		next:     f.now.Add(d),
		mu:       &f.mu,
	}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn, deadline: f.now.Add(d), mu: &f.mu}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the fake time forward by d, firing every ticker tick and
// timer whose deadline falls inside the window, in chronological order.
// Timer callbacks run without the internal lock held.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	var fns []func()
	for {
		event, at := f.nextEventLocked(target)
		if event == nil {
			break
		}
		f.now = at
		fns = append(fns, event()...)
	}
	f.now = target
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// nextEventLocked finds the earliest pending ticker tick or timer at or
// before target and returns a closure that fires it.
func (f *Fake) nextEventLocked(target time.Time) (func() []func(), time.Time) {
	var at time.Time
	var fire func() []func()

	for _, t := range f.tickers {
		t := t
		if t.stopped || t.next.After(target) {
			continue
		}
		if fire == nil || t.next.Before(at) {
			at = t.next
			fire = func() []func() {
				select {
				case t.ch <- t.next:
				default:
				}
				t.next = t.next.Add(t.interval)
				return nil
			}
		}
	}
	for _, t := range f.timers {
		t := t
		if t.fired || t.stopped || t.deadline.After(target) {
			continue
		}
		if fire == nil || t.deadline.Before(at) {
			at = t.deadline
			fire = func() []func() {
				t.fired = true
				return []func(){t.fn}
			}
		}
	}
	return fire, at
}

type fakeTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
	mu       *sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

type fakeTimer struct {
	fn       func()
	deadline time.Time
	fired    bool
	stopped  bool
	mu       *sync.Mutex
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.fired && !t.stopped
	t.stopped = true
	return was
}
