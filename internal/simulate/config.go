// Package simulate generates lead traffic and drives it through the HTTP API.
package simulate

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig rejects an unusable simulation setup.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL   string        // Base URL of the service, e.g. http://localhost:5001
	Leads     int           // Number of distinct leads
	Events    int           // Number of events to submit
	BatchSize int           // Events per batch request; 0 submits one at a time
	Workers   int           // Concurrent submitters
	Interval  time.Duration // Pause between submissions per worker
	Timeout   time.Duration // HTTP request timeout
	Seed      int64         // Generator seed; 0 picks a random one
	// DuplicateRate is the share of submissions that resend an earlier event.
	DuplicateRate float64
	EventTypes    []string
	TopN          int // Leaderboard size fetched at the end
}

// DefaultConfig mirrors the classic demo: a handful of leads and a slow trickle.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:5001",
		Leads:      5,
		Events:     20,
		Workers:    1,
		Interval:   500 * time.Millisecond,
		Timeout:    10 * time.Second,
		EventTypes: []string{"Page View", "Email Open", "Form Submission", "Demo Request", "Purchase"},
		TopN:       10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Leads < 1:
		return fmt.Errorf("%w: leads must be positive", ErrInvalidConfig)
	case c.Events < 0:
		return fmt.Errorf("%w: events must not be negative", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.BatchSize < 0:
		return fmt.Errorf("%w: batch size must not be negative", ErrInvalidConfig)
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return fmt.Errorf("%w: duplicate rate must be within [0,1]", ErrInvalidConfig)
	case len(c.EventTypes) == 0:
		return fmt.Errorf("%w: at least one event type is required", ErrInvalidConfig)
	}
	return nil
}

// Stats summarises a run.
type Stats struct {
	Generated int
	Submitted int
	Accepted  int
	Duplicate int
	Failed    int
	Batches   int
	StartTime time.Time
	Duration  time.Duration
}
