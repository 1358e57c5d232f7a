// driverd is the driver-side dispatch agent: it keeps the realtime channel
// to the dispatch backend alive, broadcasts location heartbeats, queues
// incoming ride offers and drives the outbound booking flow. A local HTTP
// API is the control surface for the UI.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/driver-dispatch/internal/channel"
	"github.com/example/driver-dispatch/internal/clock"
	"github.com/example/driver-dispatch/internal/config"
	"github.com/example/driver-dispatch/internal/heartbeat"
	"github.com/example/driver-dispatch/internal/httpapi"
	"github.com/example/driver-dispatch/internal/inbox"
	"github.com/example/driver-dispatch/internal/logging"
	"github.com/example/driver-dispatch/internal/models"
	"github.com/example/driver-dispatch/internal/panel"
	"github.com/example/driver-dispatch/internal/places"
	"github.com/example/driver-dispatch/internal/pricing"
	"github.com/example/driver-dispatch/internal/routing"
	"github.com/example/driver-dispatch/internal/session"
	"github.com/example/driver-dispatch/internal/wizard"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAgentConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	clk := clock.Real()

	ch := channel.NewClient(channel.Options{
		URL:           cfg.ChannelURL,
		MaxReconnects: cfg.ReconnectMaxAttempts,
		BaseDelay:     cfg.ReconnectBaseDelay,
		MaxDelay:      cfg.ReconnectMaxDelay,
	}, logging.ForComponent(logger, "channel"))

	fallback := models.Coord{Lat: cfg.FallbackLat, Lng: cfg.FallbackLng}
	source := heartbeat.NewSimulatedSource(fallback, time.Now().UnixNano())
	broadcaster := heartbeat.NewBroadcaster(heartbeat.Config{
		DriverID: cfg.DriverID,
		Interval: cfg.HeartbeatInterval,
		Fallback: fallback,
	}, source, ch, clk, logging.ForComponent(logger, "heartbeat"))

	in := inbox.New(inbox.Config{
		DriverID: cfg.DriverID,
		TTL:      cfg.OfferTTL,
		Tick:     cfg.ExpiryTick,
	}, ch, clk, logging.ForComponent(logger, "inbox"))

	estimator := &routing.CachingEstimator{
		Inner: routing.NewOSRMClient(cfg.OSRMEndpoint),
		Cache: routing.NewCache(cfg.RouteCacheTTL),
	}

	history := places.NewHistory(clk)
	catalog := pricing.DefaultCatalog()
	wiz := wizard.New(estimator, catalog, history, logging.ForComponent(logger, "wizard"))
	pnl := panel.NewController(clk, cfg.PanelDebounce, nil, logging.ForComponent(logger, "panel"))

	searcher := newSearcher(cfg, logger)

	coor := session.New(cfg.DriverID, ch, broadcaster, in, wiz, pnl, logging.ForComponent(logger, "session"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coor.Start(ctx); err != nil {
		logger.Error("session start failed", "error", err)
		os.Exit(1)
	}

	api := httpapi.NewServer(coor, searcher, history, catalog, logging.ForComponent(logger, "http"))
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("driverd listening", "addr", cfg.HTTPAddr, "driver_id", cfg.DriverID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	coor.Logout()
}

// newSearcher uses Google Places when a key is configured and otherwise a
// fixed local list, so the agent runs end to end without credentials.
func newSearcher(cfg config.AgentConfig, logger *slog.Logger) places.Searcher {
	if cfg.MapsAPIKey != "" {
		gp, err := places.NewGooglePlaces(cfg.MapsAPIKey, "bd")
		if err == nil {
			return gp
		}
		logger.Warn("maps client unavailable, using static places", "error", err)
	}
	return places.NewStaticSearcher(defaultPlaces())
}

func defaultPlaces() []places.Place {
	return []places.Place{
		{ID: "gulshan-2", Description: "Gulshan Circle 2, Dhaka", Coord: &models.Coord{Lat: 23.7945, Lng: 90.4143}},
		{ID: "banani-11", Description: "Banani Road 11, Dhaka", Coord: &models.Coord{Lat: 23.7937, Lng: 90.4007}},
		{ID: "dhanmondi-lake", Description: "Dhanmondi Lake, Dhaka", Coord: &models.Coord{Lat: 23.7465, Lng: 90.3760}},
		{ID: "uttara-7", Description: "Uttara Sector 7, Dhaka", Coord: &models.Coord{Lat: 23.8675, Lng: 90.3995}},
		{ID: "motijheel", Description: "Motijheel, Dhaka", Coord: &models.Coord{Lat: 23.7330, Lng: 90.4172}},
		{ID: "mirpur-10", Description: "Mirpur 10 Circle, Dhaka", Coord: &models.Coord{Lat: 23.8069, Lng: 90.3687}},
		{ID: "farmgate", Description: "Farmgate, Dhaka", Coord: &models.Coord{Lat: 23.7570, Lng: 90.3890}},
	}
}
