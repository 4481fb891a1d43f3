// Package types contains read shapes shared by the service and transport layers.
package types

import model "github.com/okian/leadscore/internal/domain/model"

// Entry represents a leaderboard entry.
type Entry struct {
	Rank        int    `json:"rank"`
	LeadID      string `json:"leadId"`
	Score       int64  `json:"score"`
	LastEventID string `json:"lastEventId,omitempty"`
}

// LeadDetail is a lead with its most recent history and events.
type LeadDetail struct {
	Lead    model.Lead                `json:"lead"`
	History []model.ScoreHistoryEntry `json:"history"`
	Events  []model.Event             `json:"events"`
}

// ScoreUpdate is the payload published when a lead score changes.
type ScoreUpdate struct {
	LeadID string `json:"leadId"`
	Score  int64  `json:"score"`
}

// Outcome is the intake result for a single event.
type Outcome struct {
	// Accepted is true when the event was applied (sync) or queued (async).
	Accepted bool
	// Queued is true when the event awaits an async worker; NewScore is then unknown.
	Queued    bool
	Duplicate bool
	NewScore  int64
	// ScoreKnown is true when NewScore holds the lead's score.
	ScoreKnown bool
	Delta      int64
	Err        error
}
