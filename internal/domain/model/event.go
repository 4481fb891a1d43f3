// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned by Validate when a required field is missing.
var ErrInvalidEvent = errors.New("invalid event")

// Event is a timestamped behavioral occurrence attributed to a lead.
type Event struct {
	EventID   string         `json:"eventId"`
	LeadID    string         `json:"leadId"`
	EventType string         `json:"eventType"`
	Timestamp time.Time      `json:"timestamp"` // when it happened, caller supplied
	Metadata  map[string]any `json:"metadata,omitempty"`
	Processed bool           `json:"processed"`
}

// Validate reports the first missing required field.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return fmt.Errorf("%w: eventId is required", ErrInvalidEvent)
	case strings.TrimSpace(e.LeadID) == "":
		return fmt.Errorf("%w: leadId is required", ErrInvalidEvent)
	case strings.TrimSpace(e.EventType) == "":
		return fmt.Errorf("%w: eventType is required", ErrInvalidEvent)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	return nil
}

// Lead is a tracked entity with a running score.
type Lead struct {
	ID          string    `json:"leadId"`
	Score       int64     `json:"score"`
	LastEventID string    `json:"lastEventId,omitempty"`
	UpdatedAt   time.Time `json:"timestamp"`
}

// ScoreHistoryEntry is an immutable audit record of one applied event.
// Timestamp is processing time, not event time.
type ScoreHistoryEntry struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"leadId"`
	EventID   string    `json:"eventId"`
	OldScore  int64     `json:"oldScore"`
	NewScore  int64     `json:"newScore"`
	Delta     int64     `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
}

// ScoringRule maps an event type to a point delta.
type ScoringRule struct {
	EventType string `json:"eventType"`
	Points    int64  `json:"points"`
	Active    bool   `json:"isActive"`
}
