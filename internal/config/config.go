package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentConfig captures all tunable parameters for the driver agent process.
// Values are loaded from environment variables with defaults that let the
// binary run against a local dispatchsim without any setup.
type AgentConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	DriverID   string
	ChannelURL string

	HeartbeatInterval time.Duration
	FallbackLat       float64
	FallbackLng       float64

	OfferTTL      time.Duration
	ExpiryTick    time.Duration
	PanelDebounce time.Duration

	ReconnectMaxAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	OSRMEndpoint  string
	RouteCacheTTL time.Duration
	MapsAPIKey    string

	LogLevel string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		HTTPAddr:        ":8090",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		DriverID:   "driver-local",
		ChannelURL: "ws://localhost:8080/ws/driver-local",

		HeartbeatInterval: 5 * time.Second,
		// Central Dhaka; only used when device position sampling fails.
		FallbackLat: 23.8103,
		FallbackLng: 90.4125,

		OfferTTL:      10 * time.Second,
		ExpiryTick:    time.Second,
		PanelDebounce: 100 * time.Millisecond,

		ReconnectMaxAttempts: 8,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,

		OSRMEndpoint:  "https://router.project-osrm.org",
		RouteCacheTTL: 2 * time.Minute,

		LogLevel: "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")
	setStringFromEnv(&cfg.ChannelURL, "CHANNEL_URL")

	setDurationFromEnv(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL", &errs)
	setFloatFromEnv(&cfg.FallbackLat, "FALLBACK_LAT", &errs)
	setFloatFromEnv(&cfg.FallbackLng, "FALLBACK_LNG", &errs)

	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setDurationFromEnv(&cfg.ExpiryTick, "OFFER_EXPIRY_TICK", &errs)
	setDurationFromEnv(&cfg.PanelDebounce, "PANEL_DEBOUNCE", &errs)

	setIntFromEnv(&cfg.ReconnectMaxAttempts, "CHANNEL_MAX_RECONNECTS", &errs)
	setDurationFromEnv(&cfg.ReconnectBaseDelay, "CHANNEL_RECONNECT_BASE_DELAY", &errs)
	setDurationFromEnv(&cfg.ReconnectMaxDelay, "CHANNEL_RECONNECT_MAX_DELAY", &errs)

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	cfg.MapsAPIKey = strings.TrimSpace(os.Getenv("MAPS_API_KEY"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.DriverID == "" {
		errs = append(errs, fmt.Errorf("DRIVER_ID must not be empty"))
	}
	if cfg.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("HEARTBEAT_INTERVAL must be > 0"))
	}
	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL must be > 0"))
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("CHANNEL_MAX_RECONNECTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// SimConfig drives the dispatchsim backend stand-in.
type SimConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OfferInterval time.Duration
	OfferTTL      time.Duration

	LogLevel string
}

func defaultSimConfig() SimConfig {
	return SimConfig{
		HTTPAddr:        ":8080",
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-heartbeats",
		OfferInterval:   20 * time.Second,
		OfferTTL:        10 * time.Second,
		LogLevel:        "info",
	}
}

func LoadSimConfig() (SimConfig, error) {
	cfg := defaultSimConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.OfferInterval, "OFFER_INTERVAL", &errs)
	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferInterval <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
