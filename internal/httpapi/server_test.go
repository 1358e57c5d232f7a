package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
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
	"github.com/example/driver-dispatch/internal/session"
	"github.com/example/driver-dispatch/internal/wizard"
)

var testLogger = slog.New(slog.NewTextHandler(discard{}, nil))

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	emitted   []any
}

func (f *fakeChannel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
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

func (f *fakeChannel) SetHandler(channel.Handler)                     {}
func (f *fakeChannel) SetLifecycleListener(channel.LifecycleListener) {}

type staticSource struct{}

func (staticSource) Current(context.Context) (models.Position, error) {
	return models.Position{Coord: models.Coord{Lat: 23.79, Lng: 90.41}}, nil
}

type fakeEstimator struct{ route routing.Route }

func (f fakeEstimator) Estimate(context.Context, models.Coord, models.Coord) (routing.Route, error) {
	return f.route, nil
}

func newTestServer(t *testing.T) (*Server, *session.Coordinator) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	ch := &fakeChannel{}

	b := heartbeat.NewBroadcaster(heartbeat.Config{DriverID: "d1"}, staticSource{}, ch, clk, testLogger)
	in := inbox.New(inbox.Config{DriverID: "d1"}, ch, clk, testLogger)
	hist := places.NewHistory(clk)
	catalog := pricing.DefaultCatalog()
	wiz := wizard.New(fakeEstimator{route: routing.Route{DistanceKm: 5.2, DurationMin: 14}}, catalog, hist, testLogger)
	pnl := panel.NewController(clk, 100*time.Millisecond, nil, testLogger)

	coor := session.New("d1", ch, b, in, wiz, pnl, testLogger)
	if err := coor.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(coor.Stop)

	searcher := places.NewStaticSearcher([]places.Place{
		{ID: "p1", Description: "Gulshan Circle 2", Coord: &models.Coord{Lat: 23.793, Lng: 90.414}},
		{ID: "p2", Description: "Dhanmondi Lake", Coord: &models.Coord{Lat: 23.746, Lng: 90.376}},
	})
	return NewServer(coor, searcher, hist, catalog, testLogger), coor
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequestIDEchoedAndMinted(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/state", nil)
	req.Header.Set("X-Request-ID", "rid-42")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "rid-42" {
		t.Fatalf("echoed id = %q", got)
	}

	rec = doJSON(t, s, "GET", "/api/v1/state", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing id must be minted")
	}
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := doJSON(t, s, "POST", "/api/v1/booking/select-field", map[string]string{"direction": "from"}); rec.Code != http.StatusNoContent {
		t.Fatalf("select-field: %d %s", rec.Code, rec.Body)
	}

	rec := doJSON(t, s, "GET", "/api/v1/booking/places?q=gulshan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("places: %d", rec.Code)
	}
	var found struct {
		Results []places.Place `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &found); err != nil {
		t.Fatal(err)
	}
	if len(found.Results) != 1 || found.Results[0].ID != "p1" {
		t.Fatalf("results = %+v", found.Results)
	}

	if rec := doJSON(t, s, "POST", "/api/v1/booking/place", map[string]any{"place": found.Results[0]}); rec.Code != http.StatusOK {
		t.Fatalf("place: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, s, "POST", "/api/v1/booking/select-field", map[string]string{"direction": "to"}); rec.Code != http.StatusNoContent {
		t.Fatalf("select-field to: %d", rec.Code)
	}
	dest := places.Place{ID: "p2", Description: "Dhanmondi Lake", Coord: &models.Coord{Lat: 23.746, Lng: 90.376}}
	rec = doJSON(t, s, "POST", "/api/v1/booking/place", map[string]any{"place": dest})
	if rec.Code != http.StatusOK {
		t.Fatalf("place to: %d %s", rec.Code, rec.Body)
	}
	var sess wizard.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if sess.State != wizard.StateVehicleSelection || sess.RouteDistanceKm != 5.2 {
		t.Fatalf("session = %+v", sess)
	}

	if rec := doJSON(t, s, "POST", "/api/v1/booking/vehicle", map[string]string{"vehicle_id": "car"}); rec.Code != http.StatusNoContent {
		t.Fatalf("vehicle: %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, s, "GET", "/api/v1/booking/quote", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote: %d", rec.Code)
	}
	var quote struct {
		Amount        float64 `json:"amount"`
		DisplayAmount int64   `json:"display_amount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &quote); err != nil {
		t.Fatal(err)
	}
	if quote.Amount != 112.4 || quote.DisplayAmount != 112 {
		t.Fatalf("quote = %+v", quote)
	}

	if rec := doJSON(t, s, "POST", "/api/v1/booking/confirm", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("confirm: %d %s", rec.Code, rec.Body)
	}

	// rider search demands a reason before it lets go
	if rec := doJSON(t, s, "POST", "/api/v1/booking/cancel", nil); rec.Code != http.StatusConflict {
		t.Fatalf("bare cancel: %d, want conflict", rec.Code)
	}
	if rec := doJSON(t, s, "POST", "/api/v1/booking/cancel", map[string]string{"reason": "whatever"}); rec.Code != http.StatusConflict {
		t.Fatalf("bogus reason: %d, want conflict", rec.Code)
	}
	if rec := doJSON(t, s, "POST", "/api/v1/booking/cancel", map[string]string{"reason": "changed_mind"}); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel with reason: %d %s", rec.Code, rec.Body)
	}
}

func TestStateEndpointShape(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/api/v1/state", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: %d", rec.Code)
	}
	var body struct {
		Status        session.Status         `json:"status"`
		Vehicles      []models.VehicleOption `json:"vehicles"`
		CancelReasons []wizard.CancelReason  `json:"cancel_reasons"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status.Booking.State != wizard.StateIdle {
		t.Fatalf("state = %s", body.Status.Booking.State)
	}
	if body.Status.Detent != panel.DetentCompact {
		t.Fatalf("detent = %s", body.Status.Detent)
	}
	if len(body.Vehicles) == 0 || len(body.CancelReasons) != 5 {
		t.Fatalf("vehicles=%d reasons=%d", len(body.Vehicles), len(body.CancelReasons))
	}
}

func TestAcceptUnknownRequestIs404(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := doJSON(t, s, "POST", "/api/v1/requests/nope/accept", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("accept: %d", rec.Code)
	}
	if rec := doJSON(t, s, "POST", "/api/v1/requests/nope/decline", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("decline: %d", rec.Code)
	}
}

func TestAcceptAndDeclineOverHTTP(t *testing.T) {
	s, coor := newTestServer(t)

	for i := 1; i <= 2; i++ {
		err := coor.Inbox().Add(models.RideRequest{
			Envelope:      models.Envelope{Type: models.MsgRideRequest},
			CorrelationID: fmt.Sprintf("corr-%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if rec := doJSON(t, s, "POST", "/api/v1/requests/corr-1/accept", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, s, "POST", "/api/v1/requests/corr-2/decline", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("decline: %d %s", rec.Code, rec.Body)
	}
	if rec := doJSON(t, s, "POST", "/api/v1/requests/corr-2/decline", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("double decline: %d", rec.Code)
	}
	if n := len(coor.Status().Requests); n != 0 {
		t.Fatalf("requests left = %d", n)
	}
}

func TestAvailabilityToggle(t *testing.T) {
	s, coor := newTestServer(t)

	if rec := doJSON(t, s, "POST", "/api/v1/availability", map[string]bool{"available": true}); rec.Code != http.StatusNoContent {
		t.Fatalf("availability: %d", rec.Code)
	}
	if !coor.Presence().IsAvailable {
		t.Fatal("availability not applied")
	}
	if rec := doJSON(t, s, "POST", "/api/v1/availability", map[string]bool{"available": false}); rec.Code != http.StatusNoContent {
		t.Fatalf("availability off: %d", rec.Code)
	}
	if coor.Presence().IsAvailable {
		t.Fatal("availability not cleared")
	}
}
