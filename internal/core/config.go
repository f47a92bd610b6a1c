package core

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"pulse/internal/engine"
)

// MetricsBackend selects the MetricsRecorder the server installs.
type MetricsBackend string

const (
	MetricsExpvar     MetricsBackend = "expvar"
	MetricsPrometheus MetricsBackend = "prometheus"
)

// Config holds the service settings shared by the binaries.
type Config struct {
	HTTPAddr        string
	DatasetPrefix   string
	RefreshInterval time.Duration
	LogLevel        slog.Level
	Metrics         MetricsBackend
	FetchRetain     int
	SnapshotRetain  int
	Fallback        engine.Fallback
}

// DefaultConfig returns the settings used when no variable is set.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        ":8080",
		DatasetPrefix:   "datasets/",
		RefreshInterval: 15 * time.Minute,
		LogLevel:        slog.LevelInfo,
		Metrics:         MetricsPrometheus,
		FetchRetain:     5,
		SnapshotRetain:  10,
		Fallback:        engine.FallbackEarliest,
	}
}

// LoadConfig overlays environment variables on DefaultConfig.
//
//	PULSE_HTTP_ADDR: listen address (default :8080)
//	PULSE_DATASET_PREFIX: blob key prefix of raw datasets (default datasets/)
//	PULSE_REFRESH_INTERVAL: Go duration between reloads, 0 disables (default 15m)
//	PULSE_LOG_LEVEL: debug|info|warn|error (default info)
//	PULSE_METRICS: expvar|prometheus (default prometheus)
//	PULSE_FETCH_RETAIN: raw datasets kept by pulse-fetch (default 5)
//	PULSE_SNAPSHOT_RETAIN: snapshots kept by the persistence backend (default 10)
//	PULSE_RESOLVE_FALLBACK: earliest|latest (default earliest)
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if v, ok := env("PULSE_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := env("PULSE_DATASET_PREFIX"); ok {
		cfg.DatasetPrefix = v
	}
	if v, ok := env("PULSE_REFRESH_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("invalid PULSE_REFRESH_INTERVAL %q", v)
		}
		cfg.RefreshInterval = d
	}
	if v, ok := env("PULSE_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("invalid PULSE_LOG_LEVEL %q: %w", v, err)
		}
	}
	if v, ok := env("PULSE_METRICS"); ok {
		switch MetricsBackend(strings.ToLower(v)) {
		case MetricsExpvar:
			cfg.Metrics = MetricsExpvar
		case MetricsPrometheus:
			cfg.Metrics = MetricsPrometheus
		default:
			return Config{}, fmt.Errorf("unknown metrics backend %s", v)
		}
	}
	var err error
	if cfg.FetchRetain, err = positiveInt("PULSE_FETCH_RETAIN", cfg.FetchRetain); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotRetain, err = positiveInt("PULSE_SNAPSHOT_RETAIN", cfg.SnapshotRetain); err != nil {
		return Config{}, err
	}
	if v, ok := env("PULSE_RESOLVE_FALLBACK"); ok {
		if cfg.Fallback, err = engine.ParseFallback(v); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func env(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func positiveInt(key string, def int) (int, error) {
	v, ok := env(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}
