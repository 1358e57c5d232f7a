// Package wizard drives the outbound trip-request flow: location search,
// vehicle selection, price confirmation, rider search.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/observability"
	"github.com/example/driver-dispatch/internal/places"
	"github.com/example/driver-dispatch/internal/pricing"
	"github.com/example/driver-dispatch/internal/routing"
)

type State string

const (
	StateIdle             State = "idle"
	StateLocationSearch   State = "location_search"
	StateVehicleSelection State = "vehicle_selection"
	StateConfirmation     State = "confirmation"
	StateRiderSearch      State = "rider_search"
	// StateCancelled is transient: the wizard passes through it and resets
	// to idle in the same call.
	StateCancelled State = "cancelled"
)

type Direction string

const (
	DirectionFrom Direction = "from"
	DirectionTo   Direction = "to"
)

// AllowedTransitions represents the booking flow as code.
var AllowedTransitions = map[State][]State{
	StateIdle:             {StateLocationSearch},
	StateLocationSearch:   {StateIdle, StateVehicleSelection},
	StateVehicleSelection: {StateConfirmation, StateIdle},
	StateConfirmation:     {StateRiderSearch, StateVehicleSelection, StateIdle},
	StateRiderSearch:      {StateCancelled},
	StateCancelled:        {StateIdle},
}

func CanTransition(from, to State) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CancelReason is one of the fixed choices required to leave rider search.
type CancelReason string

const (
	ReasonRiderNotFound CancelReason = "rider_not_found"
	ReasonChangedMind   CancelReason = "changed_mind"
	ReasonWrongLocation CancelReason = "wrong_location"
	ReasonPriceTooHigh  CancelReason = "price_too_high"
	ReasonOther         CancelReason = "other"
)

// CancelReasons lists the choices shown in the cancel dialog.
func CancelReasons() []CancelReason {
	return []CancelReason{
		ReasonRiderNotFound,
		ReasonChangedMind,
		ReasonWrongLocation,
		ReasonPriceTooHigh,
		ReasonOther,
	}
}

var (
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrReasonRequired    = errors.New("cancel reason required")
	ErrUnknownReason     = errors.New("unknown cancel reason")
	ErrUnknownVehicle    = errors.New("unknown vehicle option")
	ErrNoVehicle         = errors.New("no vehicle selected")
	// ErrIncomplete marks a programmer error: a transition into rider
	// search without the required fields should be unreachable.
	ErrIncomplete = errors.New("booking session incomplete")
)

// Session is the singleton booking state. At most one is active.
type Session struct {
	State            State         `json:"state"`
	SearchDirection  Direction     `json:"search_direction,omitempty"`
	FromPlace        string        `json:"from_place,omitempty"`
	ToPlace          string        `json:"to_place,omitempty"`
	FromCoords       *models.Coord `json:"from_coords,omitempty"`
	ToCoords         *models.Coord `json:"to_coords,omitempty"`
	RouteDistanceKm  float64       `json:"route_distance_km,omitempty"`
	RouteDurationMin float64       `json:"route_duration_min,omitempty"`
	RoutePolyline    string        `json:"route_polyline,omitempty"`
	SelectedVehicle  string        `json:"selected_vehicle,omitempty"`
}

type Wizard struct {
	mu   sync.Mutex
	sess Session

	estimator routing.Estimator
	catalog   *pricing.Catalog
	history   *places.History
	log       *slog.Logger

	onChange func(State)
}

func New(estimator routing.Estimator, catalog *pricing.Catalog, history *places.History, log *slog.Logger) *Wizard {
	return &Wizard{
		sess:      Session{State: StateIdle},
		estimator: estimator,
		catalog:   catalog,
		history:   history,
		log:       log,
		onChange:  func(State) {},
	}
}

// SetOnChange registers the state-transition callback. Call before use.
func (w *Wizard) SetOnChange(fn func(State)) {
	if fn != nil {
		w.onChange = fn
	}
}

func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess.State
}

func (w *Wizard) Snapshot() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess
}

// SelectField opens the location search for one endpoint.
func (w *Wizard) SelectField(dir Direction) error {
	if dir != DirectionFrom && dir != DirectionTo {
		return fmt.Errorf("%w: direction %q", ErrInvalidTransition, dir)
	}
	w.mu.Lock()
	if err := w.transitionLocked(StateLocationSearch); err != nil {
		w.mu.Unlock()
		return err
	}
	w.sess.SearchDirection = dir
	w.mu.Unlock()

	w.onChange(StateLocationSearch)
	return nil
}

// ChoosePlace records the selected place for the open search direction. When
// both endpoints have concrete coordinates a route is estimated; only a
// successful estimate advances to vehicle selection. A failed or missing
// estimate leaves the wizard at idle with plain inputs.
func (w *Wizard) ChoosePlace(ctx context.Context, p places.Place) error {
	w.mu.Lock()
	if w.sess.State != StateLocationSearch {
		w.mu.Unlock()
		return fmt.Errorf("%w: place chosen in %s", ErrInvalidTransition, w.sess.State)
	}
	switch w.sess.SearchDirection {
	case DirectionFrom:
		w.sess.FromPlace = p.Description
		w.sess.FromCoords = p.Coord
	case DirectionTo:
		w.sess.ToPlace = p.Description
		w.sess.ToCoords = p.Coord
	}
	from, to := w.sess.FromCoords, w.sess.ToCoords
	w.mu.Unlock()

	if w.history != nil {
		w.history.Add(p)
	}

	if from == nil || to == nil {
		return w.settle(StateIdle)
	}

	route, err := w.estimator.Estimate(ctx, *from, *to)
	if err != nil {
		// degrade silently: no route, no auto-advance
		observability.RouteEstimatesTotal.WithLabelValues("failure").Inc()
		w.log.Warn("route estimation failed", "error", err)
		return w.settle(StateIdle)
	}
	observability.RouteEstimatesTotal.WithLabelValues("success").Inc()

	w.mu.Lock()
	w.sess.RouteDistanceKm = route.DistanceKm
	w.sess.RouteDurationMin = route.DurationMin
	w.sess.RoutePolyline = route.Polyline
	w.mu.Unlock()
	return w.settle(StateVehicleSelection)
}

// ChooseVehicle picks a catalog option and advances to confirmation.
func (w *Wizard) ChooseVehicle(id string) error {
	if _, ok := w.catalog.Get(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVehicle, id)
	}
	w.mu.Lock()
	if err := w.transitionLocked(StateConfirmation); err != nil {
		w.mu.Unlock()
		return err
	}
	w.sess.SelectedVehicle = id
	w.mu.Unlock()

	w.onChange(StateConfirmation)
	return nil
}

// Confirm moves from confirmation to rider search. Both endpoints and the
// vehicle must be set; anything else is a bug in the flow above.
func (w *Wizard) Confirm() error {
	w.mu.Lock()
	if w.sess.State != StateConfirmation {
		w.mu.Unlock()
		return fmt.Errorf("%w: confirm in %s", ErrInvalidTransition, w.sess.State)
	}
	if w.sess.FromCoords == nil || w.sess.ToCoords == nil || w.sess.SelectedVehicle == "" {
		w.mu.Unlock()
		return ErrIncomplete
	}
	w.sess.State = StateRiderSearch
	w.mu.Unlock()

	w.onChange(StateRiderSearch)
	return nil
}

// Back returns from confirmation to vehicle selection.
func (w *Wizard) Back() error {
	w.mu.Lock()
	if err := w.transitionLocked(StateVehicleSelection); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	w.onChange(StateVehicleSelection)
	return nil
}

// Cancel hard-resets the wizard from any state except rider search, which
// demands a reason first.
func (w *Wizard) Cancel() error {
	w.mu.Lock()
	if w.sess.State == StateRiderSearch {
		w.mu.Unlock()
		return ErrReasonRequired
	}
	w.resetLocked()
	w.mu.Unlock()

	w.onChange(StateIdle)
	return nil
}

// CancelWithReason leaves rider search. The dialog blocks completion until a
// reason from the fixed list is selected; state is unchanged on a bad reason.
func (w *Wizard) CancelWithReason(reason CancelReason) error {
	if reason == "" {
		return ErrReasonRequired
	}
	if !validReason(reason) {
		return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}

	w.mu.Lock()
	if err := w.transitionLocked(StateCancelled); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	w.onChange(StateCancelled)

	w.log.Info("rider search cancelled", "reason", string(reason))

	w.mu.Lock()
	w.resetLocked()
	w.mu.Unlock()
	w.onChange(StateIdle)
	return nil
}

// Quote recomputes the fare for the current vehicle and route on demand.
func (w *Wizard) Quote() (raw float64, display int64, err error) {
	w.mu.Lock()
	id := w.sess.SelectedVehicle
	dist := w.sess.RouteDistanceKm
	w.mu.Unlock()

	if id == "" {
		return 0, 0, ErrNoVehicle
	}
	v, ok := w.catalog.Get(id)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownVehicle, id)
	}
	raw = pricing.Quote(v, dist)
	return raw, pricing.DisplayAmount(raw), nil
}

func (w *Wizard) transitionLocked(to State) error {
	if !CanTransition(w.sess.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.sess.State, to)
	}
	w.sess.State = to
	return nil
}

// settle moves to the target state and notifies, used by the place-chosen
// paths that always land somewhere valid.
func (w *Wizard) settle(to State) error {
	w.mu.Lock()
	if err := w.transitionLocked(to); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()
	w.onChange(to)
	return nil
}

// resetLocked clears the whole session: endpoints, route, vehicle.
func (w *Wizard) resetLocked() {
	w.sess = Session{State: StateIdle}
}

func validReason(r CancelReason) bool {
	for _, v := range CancelReasons() {
		if v == r {
			return true
		}
	}
	return false
}
