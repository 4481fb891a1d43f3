// Package repository defines the lead ledger, event index and rule storage
// along with its in-memory and SQLite implementations.
package repository

import (
	"context"

	model "github.com/okian/leadscore/internal/domain/model"
)

// ListFilter narrows a leaderboard listing.
type ListFilter struct {
	// Search keeps leads whose id contains it, case-insensitive.
	Search string
	// Limit caps the number of leads returned. Must be positive.
	Limit int
}

// Tx is the lead-scoped transaction handed to Store.Update.
// Writes become visible together when the callback returns nil and are
// discarded otherwise.
type Tx interface {
	// GetLead returns ErrNotFound for an unknown lead.
	GetLead(ctx context.Context, leadID string) (model.Lead, error)
	PutLead(ctx context.Context, lead model.Lead) error

	// GetEvent returns ErrNotFound for an unknown event.
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	// InsertEvent stores a new event. It returns ErrDuplicate when the id exists.
	InsertEvent(ctx context.Context, e model.Event) error
	// MarkProcessed flips a pending event to processed. It returns ErrDuplicate
	// when the event is already processed and ErrNotFound when it is unknown.
	MarkProcessed(ctx context.Context, eventID string) error

	AppendHistory(ctx context.Context, h model.ScoreHistoryEntry) error
}

// Store provides durable access to leads, events, history and rules.
type Store interface {
	// GetLead returns ErrNotFound for an unknown lead.
	GetLead(ctx context.Context, leadID string) (model.Lead, error)
	// ListLeads returns leads by score desc, then lead id asc.
	ListLeads(ctx context.Context, f ListFilter) ([]model.Lead, error)
	CountLeads(ctx context.Context) (int, error)
	// History returns up to limit entries for a lead, most recently applied
	// first. A limit below 1 returns ErrInvalidLimit.
	History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error)
	// Events returns up to limit events for a lead, latest event time first.
	// A limit below 1 returns ErrInvalidLimit.
	Events(ctx context.Context, leadID string, limit int) ([]model.Event, error)
	// Pending returns up to limit unprocessed events, oldest event time first.
	// A limit below 1 returns ErrInvalidLimit.
	Pending(ctx context.Context, limit int) ([]model.Event, error)

	// GetEvent returns ErrNotFound for an unknown event.
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	// RecordPending stores e unprocessed if its id is unknown. It returns
	// ErrDuplicate when the event was already processed and ErrConflict when
	// it is pending for another lead or type; otherwise a pending event is
	// left untouched and nil is returned.
	RecordPending(ctx context.Context, e model.Event) error

	// GetRule returns ErrNotFound for an unknown event type.
	GetRule(ctx context.Context, eventType string) (model.ScoringRule, error)
	PutRule(ctx context.Context, r model.ScoringRule) error
	ListRules(ctx context.Context) ([]model.ScoringRule, error)
	CountRules(ctx context.Context) (int, error)

	// Update runs fn in a transaction serialized with every other Update on
	// the same lead id. Updates on different leads do not wait on each other.
	Update(ctx context.Context, leadID string, fn func(Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// SamePayload reports whether two deliveries of an event id target the same
// lead and event type.
func SamePayload(a, b model.Event) bool {
	return a.LeadID == b.LeadID && a.EventType == b.EventType
}
