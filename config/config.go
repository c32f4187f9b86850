// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// App is the process-level configuration of the runtime daemon.
type App struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `env:"FSM_LOG_LEVEL" envDefault:"info"`
	// LogJSON switches structured JSON output on.
	LogJSON bool `env:"FSM_LOG_JSON" envDefault:"true"`

	// HTTPAddr is the listen address of the hub API.
	HTTPAddr string `env:"FSM_HTTP_ADDR" envDefault:":8080"`

	// DefinitionsDir holds YAML machine definitions loaded at boot.
	DefinitionsDir string `env:"FSM_DEFINITIONS_DIR" envDefault:"./definitions"`

	// HistoryBound caps every per-machine transition and event ledger.
	HistoryBound int `env:"FSM_HISTORY_BOUND" envDefault:"1000"`

	// SweepExpression schedules the hub health sweep; empty disables it.
	SweepExpression string `env:"FSM_SWEEP_CRON" envDefault:"@every 30s"`
	// SweepAutoRestart lets the sweeper restart unhealthy instances.
	SweepAutoRestart bool `env:"FSM_SWEEP_AUTO_RESTART" envDefault:"false"`

	Redis Redis `envPrefix:"FSM_REDIS_"`
}

// Redis configures the optional history snapshot store.
type Redis struct {
	// Addr enables the store when non empty, e.g. localhost:6379.
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	TTL      time.Duration `env:"TTL" envDefault:"0"`
}

// Enabled reports whether a snapshot store should be wired.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Load reads .env (when present) and parses the environment into an App.
func Load() (App, error) {
	// the .env file is optional
	_ = godotenv.Load()

	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.HistoryBound <= 0 {
		return App{}, fmt.Errorf("FSM_HISTORY_BOUND must be positive, got %d", cfg.HistoryBound)
	}
	return cfg, nil
}
