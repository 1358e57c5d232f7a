package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/driver-dispatch/internal/channel"
	"github.com/example/driver-dispatch/internal/clock"
	"github.com/example/driver-dispatch/internal/heartbeat"
	"github.com/example/driver-dispatch/internal/inbox"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/panel"
	"github.com/example/driver-dispatch/internal/places"
	"github.com/example/driver-dispatch/internal/pricing"
	"github.com/example/driver-dispatch/internal/routing"
	"github.com/example/driver-dispatch/internal/wizard"
)

var testLogger = slog.New(slog.NewTextHandler(discard{}, nil))

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitted   []any
	handler   channel.Handler
	lifecycle channel.LifecycleListener
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	lc := f.lifecycle
	f.mu.Unlock()
	if lc != nil {
		lc.Connected()
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Emit(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return channel.ErrNotConnected
	}
	f.emitted = append(f.emitted, v)
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) SetHandler(h channel.Handler) { f.handler = h }

func (f *fakeChannel) SetLifecycleListener(l channel.LifecycleListener) { f.lifecycle = l }

// push delivers an inbound message the way the read loop would.
func (f *fakeChannel) push(t *testing.T, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var env models.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatal(err)
	}
	f.handler(env.Type, payload)
}

func (f *fakeChannel) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.emitted {
		if _, ok := v.(models.Heartbeat); ok {
			n++
		}
	}
	return n
}

func (f *fakeChannel) lastEmitted() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emitted) == 0 {
		return nil
	}
	return f.emitted[len(f.emitted)-1]
}

type staticSource struct{ pos models.Position }

func (s staticSource) Current(context.Context) (models.Position, error) { return s.pos, nil }

type fakeEstimator struct{ route routing.Route }

func (f fakeEstimator) Estimate(context.Context, models.Coord, models.Coord) (routing.Route, error) {
	return f.route, nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type fixture struct {
	clk  *clock.Fake
	ch   *fakeChannel
	coor *Coordinator
}

func newFixture(t *testing.T, route routing.Route) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	ch := &fakeChannel{}

	b := heartbeat.NewBroadcaster(heartbeat.Config{
		DriverID: "d1",
		Interval: 5 * time.Second,
		Fallback: models.Coord{Lat: 23.8103, Lng: 90.4125},
	}, staticSource{pos: models.Position{Coord: models.Coord{Lat: 23.79, Lng: 90.41}}}, ch, clk, testLogger)

	in := inbox.New(inbox.Config{DriverID: "d1", TTL: 10 * time.Second, Tick: time.Second}, ch, clk, testLogger)

	hist := places.NewHistory(clk)
	wiz := wizard.New(fakeEstimator{route: route}, pricing.DefaultCatalog(), hist, testLogger)
	pnl := panel.NewController(clk, 100*time.Millisecond, nil, testLogger)

	coor := New("d1", ch, b, in, wiz, pnl, testLogger)
	if err := coor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(coor.Stop)
	return &fixture{clk: clk, ch: ch, coor: coor}
}

func TestEndToEndBookingScenario(t *testing.T) {
	f := newFixture(t, routing.Route{DistanceKm: 5.2, DurationMin: 14, Polyline: "poly"})
	wiz := f.coor.Wizard()
	ctx := context.Background()

	if err := wiz.SelectField(wizard.DirectionFrom); err != nil {
		t.Fatal(err)
	}
	// the direct command path applies before any debounce elapses
	if d := f.coor.Status().Detent; d != panel.DetentExpanded {
		t.Fatalf("detent on entering search = %s, want expanded", d)
	}

	if err := wiz.ChoosePlace(ctx, places.Place{ID: "p1", Description: "Gulshan", Coord: &models.Coord{Lat: 23.79, Lng: 90.41}}); err != nil {
		t.Fatal(err)
	}
	if err := wiz.SelectField(wizard.DirectionTo); err != nil {
		t.Fatal(err)
	}
	if err := wiz.ChoosePlace(ctx, places.Place{ID: "p2", Description: "Dhanmondi", Coord: &models.Coord{Lat: 23.74, Lng: 90.37}}); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(100 * time.Millisecond)
	if d := f.coor.Status().Detent; d != panel.DetentHalf {
		t.Fatalf("detent in vehicle selection = %s, want half", d)
	}

	if err := wiz.ChooseVehicle("car"); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(100 * time.Millisecond)
	if d := f.coor.Status().Detent; d != panel.DetentHalf {
		t.Fatalf("detent in confirmation = %s, want half", d)
	}

	raw, display, err := wiz.Quote()
	if err != nil {
		t.Fatal(err)
	}
	if raw != 112.4 || display != 112 {
		t.Fatalf("quote = %v/%v", raw, display)
	}

	if err := wiz.Confirm(); err != nil {
		t.Fatal(err)
	}
	f.clk.Advance(100 * time.Millisecond)
	st := f.coor.Status()
	if st.Booking.State != wizard.StateRiderSearch {
		t.Fatalf("booking state = %s", st.Booking.State)
	}
	if st.Detent != panel.DetentHalf {
		t.Fatalf("detent in rider search = %s, want half", st.Detent)
	}
}

func TestInboundRideRequestFlow(t *testing.T) {
	f := newFixture(t, routing.Route{})

	req := models.RideRequest{
		Envelope:      models.Envelope{Type: models.MsgRideRequest},
		CorrelationID: "corr-9",
		PickupName:    "Banani",
		DropName:      "Uttara",
	}
	f.ch.push(t, req)

	st := f.coor.Status()
	if len(st.Requests) != 1 || st.Requests[0].CorrelationID != "corr-9" {
		t.Fatalf("requests = %+v", st.Requests)
	}

	if err := f.coor.Inbox().Accept("corr-9"); err != nil {
		t.Fatal(err)
	}
	acc, ok := f.ch.lastEmitted().(models.RideAccept)
	if !ok {
		t.Fatalf("last emitted %T, want RideAccept", f.ch.lastEmitted())
	}
	if acc.CorrelationID != "corr-9" || acc.Request.PickupName != "Banani" {
		t.Fatalf("accept = %+v", acc)
	}
}

func TestUnknownInboundMessageIsTolerated(t *testing.T) {
	f := newFixture(t, routing.Route{})
	f.ch.push(t, map[string]any{"type": "ride_taken", "correlation_id": "corr-1"})
	if n := len(f.coor.Status().Requests); n != 0 {
		t.Fatalf("unknown message created %d requests", n)
	}
}

func TestHeartbeatsFlowAndStopOnTeardown(t *testing.T) {
	f := newFixture(t, routing.Route{})

	f.clk.Advance(5 * time.Second)
	waitFor(t, func() bool { return f.ch.heartbeatCount() == 1 }, "heartbeat missing")

	f.coor.Stop()
	before := f.ch.heartbeatCount()
	f.clk.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	if got := f.ch.heartbeatCount(); got != before {
		t.Fatalf("heartbeats after Stop: %d, want %d", got, before)
	}
	if f.coor.Presence().IsOnline {
		t.Fatal("presence still online after Stop")
	}
}

func TestLogoutBroadcastsThenStops(t *testing.T) {
	f := newFixture(t, routing.Route{})

	f.coor.ToggleAvailability(true)
	f.clk.Advance(5 * time.Second)
	waitFor(t, func() bool { return f.ch.heartbeatCount() >= 1 }, "seed heartbeat missing")

	f.coor.Logout()

	var out *models.Logout
	f.ch.mu.Lock()
	for _, v := range f.ch.emitted {
		if lo, ok := v.(models.Logout); ok {
			out = &lo
		}
	}
	f.ch.mu.Unlock()
	if out == nil {
		t.Fatal("logout message never emitted")
	}
	if out.IsLoggedIn {
		t.Fatal("logout must carry is_logged_in=false")
	}
	if out.Type != models.MsgLogout {
		t.Fatalf("logout type = %q", out.Type)
	}
	if f.coor.Presence().IsOnline {
		t.Fatal("presence online after logout")
	}
}

func TestLogoutWithoutPositionUsesFallback(t *testing.T) {
	f := newFixture(t, routing.Route{})

	// no clock advance: nothing was ever sampled
	f.coor.Logout()

	lo, ok := f.ch.lastEmitted().(models.Logout)
	if !ok {
		t.Fatalf("last emitted %T, want Logout", f.ch.lastEmitted())
	}
	if lo.IsLoggedIn {
		t.Fatal("logout must carry is_logged_in=false")
	}
	if lo.Lat < 23.80 || lo.Lat > 23.82 || lo.Lng < 90.40 || lo.Lng > 90.42 {
		t.Fatalf("logout coordinate = %v,%v, want near the fallback", lo.Lat, lo.Lng)
	}
}

func TestExhaustedChannelPresentsOffline(t *testing.T) {
	f := newFixture(t, routing.Route{})

	f.coor.Reconnecting(3)
	if st := f.coor.Status(); !st.Reconnecting || st.ChannelDown {
		t.Fatalf("status during reconnect = %+v", st)
	}

	f.coor.ChannelError("reconnect budget exhausted")
	st := f.coor.Status()
	if !st.ChannelDown || st.Reconnecting {
		t.Fatalf("status after channel death = %+v", st)
	}
	if st.Presence.IsOnline {
		t.Fatal("dead channel must not present as online")
	}

	// a fresh connection recovers the session view
	f.coor.Connected()
	st = f.coor.Status()
	if st.ChannelDown || !st.Presence.IsOnline {
		t.Fatalf("status after reconnect = %+v", st)
	}
}

func TestRequestsExpireThroughCoordinator(t *testing.T) {
	f := newFixture(t, routing.Route{})

	f.ch.push(t, models.RideRequest{Envelope: models.Envelope{Type: models.MsgRideRequest}, CorrelationID: "corr-1"})
	f.clk.Advance(11 * time.Second)
	waitFor(t, func() bool { return len(f.coor.Status().Requests) == 0 }, "request never expired")

	// expiry is silent: heartbeats may flow, but no accept/decline message
	f.ch.mu.Lock()
	for _, v := range f.ch.emitted {
		if _, ok := v.(models.RideAccept); ok {
			t.Fatal("expiry must not emit an accept")
		}
	}
	f.ch.mu.Unlock()
}
