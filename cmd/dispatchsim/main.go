// dispatchsim is a stand-in dispatch backend for local development: it
// accepts driver websocket sessions, tracks presence from heartbeats and
// periodically offers rides to nearby drivers.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/driver-dispatch/internal/config"
	"github.com/example/driver-dispatch/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadSimConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && os.Getenv("MIGRATE") == "true" {
		migrate(cfg.PGDSN, logger.Info, logger.Warn)
	}

	sim := newSimServer(cfg, logger)
	sim.startOfferLoop()

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: sim}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatchsim listening", "addr", cfg.HTTPAddr)
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
	sim.shutdown()
}

func migrate(dsn string, info, warn func(string, ...any)) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		warn("migration db open failed", "error", err)
		return
	}
	defer db.Close()

	path := filepath.Join("migrations", "001_create_offers.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		warn("migration read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		warn("migration exec failed", "error", err)
		return
	}
	info("migration applied", "file", path)
}
