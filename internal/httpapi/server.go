// Package httpapi is the local control surface of the driver agent. The UI
// drives the session coordinator through it and polls the combined state.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-dispatch/internal/inbox"
	"github.com/example/driver-dispatch/internal/places"
	"github.com/example/driver-dispatch/internal/pricing"
	"github.com/example/driver-dispatch/internal/session"
	"github.com/example/driver-dispatch/internal/wizard"
)

type Server struct {
	coor     *session.Coordinator
	driverID string
	searcher places.Searcher
	history  *places.History
	catalog  *pricing.Catalog
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(coor *session.Coordinator, searcher places.Searcher, history *places.History, catalog *pricing.Catalog, logger *slog.Logger) *Server {
	s := &Server{
		coor:     coor,
		driverID: coor.Presence().DriverID,
		searcher: searcher,
		history:  history,
		catalog:  catalog,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/availability", s.handleAvailability).Methods("POST")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/requests/{id}/decline", s.handleDecline).Methods("POST")

	api.HandleFunc("/booking/select-field", s.handleSelectField).Methods("POST")
	api.HandleFunc("/booking/places", s.handlePlaces).Methods("GET")
	api.HandleFunc("/booking/place", s.handlePlace).Methods("POST")
	api.HandleFunc("/booking/vehicle", s.handleVehicle).Methods("POST")
	api.HandleFunc("/booking/quote", s.handleQuote).Methods("GET")
	api.HandleFunc("/booking/confirm", s.handleConfirm).Methods("POST")
	api.HandleFunc("/booking/back", s.handleBack).Methods("POST")
	api.HandleFunc("/booking/cancel", s.handleCancel).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.coor.Status()
	resp := map[string]any{
		"status":         st,
		"vehicles":       s.catalog.Options(),
		"cancel_reasons": wizard.CancelReasons(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Available bool `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.coor.ToggleAvailability(body.Available)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.coor.Inbox().Accept(id); err != nil {
		s.writeInboxError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.coor.Inbox().Decline(id); err != nil {
		s.writeInboxError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Direction wizard.Direction `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coor.Wizard().SelectField(body.Direction); err != nil {
		s.writeWizardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	results, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("place search failed", "error", err)
		http.Error(w, "place search unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": s.history.Entries(),
		"results": results,
	})
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Place places.Place `json:"place"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coor.Wizard().ChoosePlace(r.Context(), body.Place); err != nil {
		s.writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coor.Wizard().Snapshot())
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VehicleID string `json:"vehicle_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.coor.Wizard().ChooseVehicle(body.VehicleID); err != nil {
		s.writeWizardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	raw, display, err := s.coor.Wizard().Quote()
	if err != nil {
		s.writeWizardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": raw, "display_amount": display})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.coor.Wizard().Confirm(); err != nil {
		s.writeWizardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	if err := s.coor.Wizard().Back(); err != nil {
		s.writeWizardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason wizard.CancelReason `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var err error
	if body.Reason != "" {
		err = s.coor.Wizard().CancelWithReason(body.Reason)
	} else {
		err = s.coor.Wizard().Cancel()
	}
	if err != nil {
		s.writeWizardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeInboxError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inbox.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, inbox.ErrNotPending), errors.Is(err, inbox.ErrAcceptInFlight):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("inbox operation failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) writeWizardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wizard.ErrInvalidTransition),
		errors.Is(err, wizard.ErrReasonRequired),
		errors.Is(err, wizard.ErrUnknownReason),
		errors.Is(err, wizard.ErrUnknownVehicle),
		errors.Is(err, wizard.ErrNoVehicle):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, wizard.ErrIncomplete):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("booking operation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
