// Package scoring applies events to lead scores.
//
// Apply is idempotent per event id: an event is applied at most once no
// matter how often it is delivered, and a duplicate never mutates state.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/domain/dedupe"
	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
)

// Status reports how an event was handled.
type Status string

// Apply outcomes.
const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

// Result describes the effect of Apply.
type Result struct {
	Status   Status
	LeadID   string
	NewScore int64
	Delta    int64
	// ScoreKnown is false when a duplicate's lead could not be read.
	ScoreKnown bool
}

// Resolver turns an event type into a point delta.
type Resolver interface {
	Resolve(ctx context.Context, eventType string) (int64, error)
}

// Notifier receives committed score changes. Publish must not block.
type Notifier interface {
	Publish(leadID string, score int64) bool
}

// Engine is the scoring engine.
type Engine struct {
	store        repository.Store
	rules        Resolver
	notifier     Notifier
	dedupe       dedupe.Deduper
	storeTimeout time.Duration
	now          func() time.Time
	log          logger.Logger
}

// NewEngine wires an engine. notifier may be nil.
func NewEngine(store repository.Store, rules Resolver, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		rules:        rules,
		notifier:     notifier,
		dedupe:       dedupe.NewInMemoryDeduper(),
		storeTimeout: 5 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates ev, resolves its delta and commits the score change,
// event and history entry atomically. Duplicates are reported through
// Result.Status, not as an error.
func (e *Engine) Apply(ctx context.Context, ev model.Event) (Result, error) {
	start := time.Now()
	if err := ev.Validate(); err != nil {
		metrics.RecordEventInvalid()
		return Result{}, err
	}

	if e.dedupe.Seen(ctx, ev.EventID) {
		return e.Duplicate(ctx, ev), nil
	}

	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	stored, err := e.store.GetEvent(sctx, ev.EventID)
	switch {
	case err == nil && stored.Processed:
		e.dedupe.Record(ctx, ev.EventID)
		return e.Duplicate(ctx, ev), nil
	case err == nil && !repository.SamePayload(stored, ev):
		return Result{}, fmt.Errorf("event %q: %w", ev.EventID, ErrEventConflict)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return Result{}, e.persistence(ctx, ev, "lookup event", err)
	}

	delta, err := e.rules.Resolve(sctx, ev.EventType)
	if err != nil {
		return Result{}, e.persistence(ctx, ev, "resolve rule", err)
	}

	var res Result
	err = e.store.Update(sctx, ev.LeadID, func(tx repository.Tx) error {
		var err error
		res, err = e.applyTx(sctx, tx, ev, delta)
		return err
	})
	if errors.Is(err, repository.ErrDuplicate) {
		e.dedupe.Record(ctx, ev.EventID)
		return e.Duplicate(ctx, ev), nil
	}
	if errors.Is(err, repository.ErrConflict) {
		return Result{}, fmt.Errorf("event %q: %w", ev.EventID, ErrEventConflict)
	}
	if err != nil {
		return Result{}, e.persistence(ctx, ev, "commit", err)
	}

	e.dedupe.Record(ctx, ev.EventID)
	metrics.RecordEventApplied()
	metrics.RecordApplyLatency(float64(time.Since(start).Microseconds()) / 1000)

	if e.notifier != nil && !e.notifier.Publish(res.LeadID, res.NewScore) {
		e.log.Debug(ctx, "score change dropped by notifier", logger.String("lead_id", res.LeadID))
	}
	return res, nil
}

// applyTx runs under the lead lock. The event is re-checked here so two
// deliveries racing past the pre-check cannot both apply.
func (e *Engine) applyTx(ctx context.Context, tx repository.Tx, ev model.Event, delta int64) (Result, error) {
	pending := false
	cur, err := tx.GetEvent(ctx, ev.EventID)
	switch {
	case err == nil && cur.Processed:
		return Result{}, repository.ErrDuplicate
	case err == nil && !repository.SamePayload(cur, ev):
		return Result{}, repository.ErrConflict
	case err == nil:
		pending = true
	case !errors.Is(err, repository.ErrNotFound):
		return Result{}, err
	}

	lead, err := tx.GetLead(ctx, ev.LeadID)
	if errors.Is(err, repository.ErrNotFound) {
		lead = model.Lead{ID: ev.LeadID}
	} else if err != nil {
		return Result{}, err
	}

	now := e.now()
	old := lead.Score
	lead.Score = old + delta
	lead.LastEventID = ev.EventID
	lead.UpdatedAt = now
	if err := tx.PutLead(ctx, lead); err != nil {
		return Result{}, err
	}

	if pending {
		err = tx.MarkProcessed(ctx, ev.EventID)
	} else {
		ev.Processed = true
		err = tx.InsertEvent(ctx, ev)
	}
	if err != nil {
		return Result{}, err
	}

	if err := tx.AppendHistory(ctx, model.ScoreHistoryEntry{
		ID:        uuid.NewString(),
		LeadID:    ev.LeadID,
		EventID:   ev.EventID,
		OldScore:  old,
		NewScore:  lead.Score,
		Delta:     delta,
		Timestamp: now,
	}); err != nil {
		return Result{}, err
	}

	return Result{Status: StatusAccepted, LeadID: ev.LeadID, NewScore: lead.Score, Delta: delta, ScoreKnown: true}, nil
}

// Duplicate reports ev as a duplicate along with the current score of the
// lead the stored event was applied to.
func (e *Engine) Duplicate(ctx context.Context, ev model.Event) Result { //nolint:gocritic // hugeParam: events are values
	metrics.RecordEventDuplicate()
	sctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	leadID := ev.LeadID
	if stored, err := e.store.GetEvent(sctx, ev.EventID); err == nil {
		leadID = stored.LeadID
	}
	res := Result{Status: StatusDuplicate, LeadID: leadID}
	if lead, err := e.store.GetLead(sctx, leadID); err == nil {
		res.NewScore = lead.Score
		res.ScoreKnown = true
	}
	return res
}

func (e *Engine) persistence(ctx context.Context, ev model.Event, op string, err error) error {
	metrics.RecordPersistenceError()
	e.log.Error(ctx, "event not applied",
		logger.String("op", op),
		logger.String("event_id", ev.EventID),
		logger.String("lead_id", ev.LeadID),
		logger.Error(err))
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
