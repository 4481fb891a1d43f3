// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults come from New(); Load layers a YAML file and env vars on top.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"maps"
	"runtime"
	"time"

	"github.com/okian/leadscore/internal/domain/rules"
)

// Intake modes.
const (
	IntakeSync  = "sync"
	IntakeAsync = "async"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFile, when set, mirrors logs into a size-rotated file.
	LogFile       string `koanf:"log_file"`
	LogMaxSizeMB  int    `koanf:"log_max_size_mb"`
	LogMaxBackups int    `koanf:"log_max_backups"`
	// Addr configures the HTTP listen address, e.g. ":5001".
	Addr string `koanf:"addr"`
	// CORSOrigins lists browser origins admitted by CORS; "*" admits any.
	CORSOrigins []string `koanf:"cors_origins"`

	// IntakeMode selects inline application (sync) or the bounded queue (async).
	IntakeMode string `koanf:"intake_mode"`
	// EventQueueSize bounds the async intake queue.
	EventQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of async intake workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize sets the size of the in-memory applied-event cache.
	DedupeSize int `koanf:"dedupe_size"`
	// PendingSweepMS is how often async mode requeues stored pending events.
	PendingSweepMS int `koanf:"pending_sweep_ms"`

	// StoreDriver selects the storage backend: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`
	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `koanf:"sqlite_path"`
	// StoreTimeoutMS bounds every storage round trip.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// NotifyBuffer bounds the notifier dispatch queue and each subscriber buffer.
	NotifyBuffer int `koanf:"notify_buffer"`
	// RedisURL enables the Redis pub/sub transport when set.
	RedisURL     string `koanf:"redis_url"`
	RedisChannel string `koanf:"redis_channel"`
	// NATSURL enables the NATS transport when set.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`

	// MaxLeaderboardLimit caps GET /api/leads?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
	// HistoryLimit is the number of history and event rows on the lead detail view.
	HistoryLimit int `koanf:"history_limit"`

	// SeedRules is written to an empty rule table at startup.
	SeedRules map[string]int64 `koanf:"seed_rules"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogMaxSizeMB:        100,
		LogMaxBackups:       5,
		Addr:                ":5001",
		CORSOrigins:         []string{"*"},
		IntakeMode:          IntakeSync,
		EventQueueSize:      10_000,
		WorkerCount:         runtime.NumCPU() * 4,
		DedupeSize:          100_000,
		StoreDriver:         DriverMemory,
		SQLitePath:          "data/leadscore.db",
		StoreTimeoutMS:      5_000,
		NotifyBuffer:        1_024,
		RedisChannel:        "leadscore.lead_updated",
		NATSSubject:         "leadscore.lead_updated",
		MaxLeaderboardLimit: 100,
		HistoryLimit:        50,
		PendingSweepMS:      30_000,
		SeedRules:           maps.Clone(rules.DefaultRules),
	}
}

// StoreTimeout returns the storage timeout as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// PendingSweep returns the pending sweep interval as a duration.
func (c *Config) PendingSweep() time.Duration {
	return time.Duration(c.PendingSweepMS) * time.Millisecond
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.IntakeMode != IntakeSync && c.IntakeMode != IntakeAsync:
		return fmt.Errorf("%w: intake_mode must be %q or %q", ErrInvalidConfig, IntakeSync, IntakeAsync)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite:
		return fmt.Errorf("%w: store_driver must be %q or %q", ErrInvalidConfig, DriverMemory, DriverSQLite)
	case c.StoreDriver == DriverSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	case c.StoreTimeoutMS <= 0:
		return fmt.Errorf("%w: store_timeout_ms must be positive", ErrInvalidConfig)
	case c.IntakeMode == IntakeAsync && c.EventQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive in async mode", ErrInvalidConfig)
	case c.IntakeMode == IntakeAsync && c.PendingSweepMS <= 0:
		return fmt.Errorf("%w: pending_sweep_ms must be positive in async mode", ErrInvalidConfig)
	}
	return nil
}
