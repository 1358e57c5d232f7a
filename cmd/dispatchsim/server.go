package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-dispatch/internal/config"
	"github.com/example/driver-dispatch/internal/geo"
	"github.com/example/driver-dispatch/internal/ingest"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/storage"
)

// dhaka is the center the offer generator spreads pickups around.
var dhaka = models.Coord{Lat: 23.8103, Lng: 90.4125}

var pickupSpots = []string{
	"Gulshan Circle 2", "Banani 11", "Dhanmondi Lake", "Uttara Sector 7",
	"Motijheel", "Mirpur 10", "Bashundhara Gate", "Farmgate",
}

type simServer struct {
	cfg      config.SimConfig
	logger   *slog.Logger
	presence geo.Presence
	kafka    *ingest.HeartbeatPublisher
	offers   storage.OfferLog
	mux      *mux.Router

	mu       sync.RWMutex
	sessions map[string]*driverSession

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// driverSession is one connected agent. Writes are serialized; reads run
// on the per-connection goroutine only.
type driverSession struct {
	driverID string
	conn     *websocket.Conn
	mu       sync.Mutex
}

func (s *driverSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func newSimServer(cfg config.SimConfig, logger *slog.Logger) *simServer {
	var presence geo.Presence
	if cfg.RedisAddr != "" {
		presence = geo.NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("presence backed by redis", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		presence = geo.NewMemoryPresence()
	}

	var kp *ingest.HeartbeatPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewHeartbeatPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("heartbeats forwarded to kafka", "topic", cfg.KafkaTopic)
	}

	var offers storage.OfferLog
	if cfg.PGDSN != "" {
		if pl, err := storage.NewPostgresOfferLog(cfg.PGDSN); err == nil {
			offers = pl
			logger.Info("offer log backed by postgres")
		} else {
			logger.Warn("postgres unavailable, falling back to memory", "error", err)
		}
	}
	if offers == nil {
		offers = storage.NewMemoryOfferLog()
	}

	s := &simServer{
		cfg:      cfg,
		logger:   logger,
		presence: presence,
		kafka:    kp,
		offers:   offers,
		mux:      mux.NewRouter(),
		sessions: make(map[string]*driverSession),
		stop:     make(chan struct{}),
	}
	s.routes()
	return s
}

func (s *simServer) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *simServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// startOfferLoop periodically offers a ride to the nearest available driver.
func (s *simServer) startOfferLoop() {
	ticker := time.NewTicker(s.cfg.OfferInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.offerOnce()
			}
		}
	}()
}

func (s *simServer) shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	for _, sess := range s.sessions {
		_ = sess.conn.Close()
	}
	s.sessions = make(map[string]*driverSession)
	s.mu.Unlock()

	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			s.logger.Warn("kafka close failed", "error", err)
		}
	}
}

var upgrader = websocket.Upgrader{}

func (s *simServer) handleWS(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	sess := &driverSession{driverID: driverID, conn: conn}
	s.mu.Lock()
	if old, ok := s.sessions[driverID]; ok {
		_ = old.conn.Close()
	}
	s.sessions[driverID] = sess
	s.mu.Unlock()
	s.logger.Info("driver connected", "driver_id", driverID)

	go s.readLoop(sess)
}

func (s *simServer) readLoop(sess *driverSession) {
	defer func() {
		s.mu.Lock()
		if s.sessions[sess.driverID] == sess {
			delete(s.sessions, sess.driverID)
		}
		s.mu.Unlock()
		s.presence.Remove(sess.driverID)
		_ = sess.conn.Close()
		s.logger.Info("driver disconnected", "driver_id", sess.driverID)
	}()

	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.logger.Warn("undecodable message", "driver_id", sess.driverID, "error", err)
			continue
		}
		switch env.Type {
		case models.MsgHeartbeat:
			s.handleHeartbeat(payload)
		case models.MsgLogout:
			s.presence.Remove(sess.driverID)
			s.logger.Info("driver logged out", "driver_id", sess.driverID)
		case models.MsgRideAccept:
			s.handleAccept(payload)
		default:
			s.logger.Warn("unhandled message", "driver_id", sess.driverID, "type", env.Type)
		}
	}
}

func (s *simServer) handleHeartbeat(payload []byte) {
	var hb models.Heartbeat
	if err := json.Unmarshal(payload, &hb); err != nil {
		s.logger.Warn("malformed heartbeat", "error", err)
		return
	}
	s.presence.Update(geo.DriverState{
		DriverID:    hb.DriverID,
		Coord:       models.Coord{Lat: hb.Lat, Lng: hb.Lng},
		IsAvailable: hb.IsAvailable,
		Updated:     hb.Timestamp,
	})
	if s.kafka != nil {
		if err := s.kafka.Publish(hb); err != nil {
			s.logger.Warn("kafka publish failed", "error", err)
		}
	}
}

// handleAccept applies first-accept-wins. Late accepts are logged and
// dropped; the losing driver gets no notification.
func (s *simServer) handleAccept(payload []byte) {
	var acc models.RideAccept
	if err := json.Unmarshal(payload, &acc); err != nil {
		s.logger.Warn("malformed accept", "error", err)
		return
	}
	if err := s.offers.MarkAccepted(acc.CorrelationID, acc.DriverID, time.Now()); err != nil {
		s.logger.Warn("accept for unknown offer", "correlation_id", acc.CorrelationID, "driver_id", acc.DriverID)
		return
	}
	s.logger.Info("ride accepted", "correlation_id", acc.CorrelationID, "driver_id", acc.DriverID)
}

func (s *simServer) offerOnce() {
	targets := s.presence.Nearby(dhaka, 50000, 3)
	if len(targets) == 0 {
		return
	}

	pickup := pickupSpots[rand.Intn(len(pickupSpots))]
	drop := pickupSpots[rand.Intn(len(pickupSpots))]
	for drop == pickup {
		drop = pickupSpots[rand.Intn(len(pickupSpots))]
	}

	req := models.RideRequest{
		Envelope:      models.Envelope{Type: models.MsgRideRequest},
		CorrelationID: uuid.NewString(),
		CustomerInfo:  fmt.Sprintf("customer-%04d", rand.Intn(10000)),
		PickupName:    pickup,
		DropName:      drop,
		PickupTime:    time.Now().Add(5 * time.Minute).Format(time.Kitchen),
		DistanceKm:    1 + rand.Float64()*11,
		TravelWay:     "road",
	}

	if err := s.offers.RecordOffer(storage.OfferRecord{
		CorrelationID: req.CorrelationID,
		DriverID:      targets[0].DriverID,
		PickupName:    req.PickupName,
		DropName:      req.DropName,
		DistanceKm:    req.DistanceKm,
		SentAt:        time.Now(),
	}); err != nil {
		s.logger.Warn("offer log write failed", "error", err)
	}

	sent := 0
	for _, target := range targets {
		s.mu.RLock()
		sess, ok := s.sessions[target.DriverID]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := sess.send(req); err != nil {
			s.logger.Warn("offer send failed", "driver_id", target.DriverID, "error", err)
			continue
		}
		sent++
	}
	s.logger.Info("offer broadcast", "correlation_id", req.CorrelationID, "pickup", pickup, "drop", drop, "drivers", sent)
}
