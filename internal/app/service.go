// Package service wires storage, rules, scoring and notification into the
// intake and read operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	eventqueue "github.com/okian/leadscore/internal/adapters/mq/queue"
	workerpool "github.com/okian/leadscore/internal/adapters/mq/worker"
	"github.com/okian/leadscore/internal/adapters/repository"
	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/dedupe"
	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/notify"
	"github.com/okian/leadscore/internal/domain/rules"
	"github.com/okian/leadscore/internal/domain/scoring"
	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
)

const (
	drainTimeout        = 30 * time.Second
	defaultPendingSweep = 30 * time.Second
)

// Service implements the API dependencies for the lead scoring system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	rules      *rules.Book
	deduper    dedupe.Deduper
	hub        *notify.Hub
	engine     *scoring.Engine
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	inflight   *inflight

	// Configuration
	intakeMode   string
	workerCount  int
	queueSize    int
	dedupeSize   int
	sqlitePath   string
	storeTimeout time.Duration
	notifyBuffer int
	transports   []notify.Transport
	seedRules    map[string]int64
	historyLimit int
	pendingSweep time.Duration

	// State
	started bool
	cancel  context.CancelFunc

	// Logging
	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		intakeMode:   config.IntakeSync,
		workerCount:  runtime.NumCPU() * 4,
		queueSize:    10_000,
		dedupeSize:   100_000,
		storeTimeout: 5 * time.Second,
		notifyBuffer: 1024,
		historyLimit: 50,
		pendingSweep: defaultPendingSweep,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens storage, seeds rules and starts the notifier and, in async
// mode, the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting lead scoring service...")

	if err := s.openStore(ctx); err != nil {
		return err
	}

	var bookOpts []rules.Option
	if s.seedRules != nil {
		bookOpts = append(bookOpts, rules.WithSeed(s.seedRules))
	}
	s.rules = rules.New(s.store, bookOpts...)
	seedCtx, cancelSeed := context.WithTimeout(ctx, s.storeTimeout)
	seeded, err := s.rules.Seed(seedCtx)
	cancelSeed()
	if err != nil {
		s.closeStore(ctx)
		return fmt.Errorf("start: %w", err)
	}
	if seeded {
		s.logger.Info(ctx, "seeded default scoring rules")
	}

	// Components outlive the start context; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	hubOpts := []notify.Option{
		notify.WithBuffer(s.notifyBuffer),
		notify.WithLogger(s.logger.Named("notify")),
	}
	for _, t := range s.transports {
		hubOpts = append(hubOpts, notify.WithTransport(t))
	}
	s.hub = notify.NewHub(hubOpts...)
	s.hub.Start(runCtx)

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.engine = scoring.NewEngine(s.store, s.rules, s.hub,
		scoring.WithDeduper(s.deduper),
		scoring.WithStoreTimeout(s.storeTimeout),
		scoring.WithLogger(s.logger.Named("scoring")),
	)

	if s.intakeMode == config.IntakeAsync {
		s.inflight = newInflight()
		s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
		s.workerPool = workerpool.NewPool(s.workerCount, s.eventQueue, s.engine,
			workerpool.WithLogger(s.logger),
			workerpool.WithOnDone(func(e workerpool.Event, _ error) { s.inflight.done(e.EventID) }),
		)
		s.workerPool.Start(runCtx)

		// Pending rows from an earlier run or a worker that gave up.
		s.requeuePending(ctx)
		go s.sweepPending(runCtx, s.pendingSweep)
	}

	if n, err := s.store.CountLeads(ctx); err == nil {
		metrics.UpdateLeadsTotal(n)
	}

	s.started = true
	s.logger.Info(ctx, "lead scoring service started",
		logger.String("intake_mode", s.intakeMode),
		logger.String("store", s.storeName()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)

	return nil
}

func (s *Service) openStore(ctx context.Context) error {
	if s.store != nil {
		return nil
	}
	if s.sqlitePath == "" {
		s.store = repository.NewMemoryStore()
		s.ownsStore = true
		return nil
	}
	store, err := repository.OpenSQLite(ctx, s.sqlitePath)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.store = store
	s.ownsStore = true
	return nil
}

func (s *Service) closeStore(ctx context.Context) {
	if !s.ownsStore || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}
	s.store = nil
	s.ownsStore = false
}

func (s *Service) storeName() string {
	if _, ok := s.store.(*repository.SQLiteStore); ok {
		return config.DriverSQLite
	}
	return config.DriverMemory
}

// Stop drains the async queue, stops the notifier and closes owned
// resources. It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping lead scoring service...")

	if s.workerPool != nil {
		drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
		if err := s.workerPool.Shutdown(drainCtx); err != nil {
			s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		}
		cancel()
	}

	s.cancel()
	s.hub.Stop()

	for _, t := range s.transports {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn(ctx, "error closing transport", logger.String("transport", t.Name()), logger.Error(err))
			}
		}
	}
	s.closeStore(ctx)

	s.started = false
	s.logger.Info(ctx, "lead scoring service stopped")
}

// Submit applies one event, or queues it in async mode.
func (s *Service) Submit(ctx context.Context, e model.Event) types.Outcome { //nolint:gocritic // hugeParam: events are values
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return types.Outcome{Err: ErrNotStarted}
	}
	if s.intakeMode == config.IntakeAsync {
		return s.enqueue(ctx, e)
	}

	res, err := s.engine.Apply(ctx, e)
	if err != nil {
		return types.Outcome{Err: err}
	}
	if res.Status == scoring.StatusDuplicate {
		return types.Outcome{Duplicate: true, NewScore: res.NewScore, ScoreKnown: res.ScoreKnown}
	}
	return types.Outcome{Accepted: true, NewScore: res.NewScore, ScoreKnown: true, Delta: res.Delta}
}

// enqueue records e as pending and hands it to the worker pool. A resubmit
// of an event still pending is queued again unless it is already in flight;
// the engine applies it once.
func (s *Service) enqueue(ctx context.Context, e model.Event) types.Outcome { //nolint:gocritic // hugeParam: events are values
	if err := e.Validate(); err != nil {
		metrics.RecordEventInvalid()
		return types.Outcome{Err: err}
	}
	if s.deduper.Seen(ctx, e.EventID) {
		return s.duplicate(ctx, e)
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	err := s.store.RecordPending(sctx, e)
	cancel()
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		s.deduper.Record(ctx, e.EventID)
		return s.duplicate(ctx, e)
	case errors.Is(err, repository.ErrConflict):
		return types.Outcome{Err: fmt.Errorf("record pending %s: %w", e.EventID, scoring.ErrEventConflict)}
	case err != nil:
		metrics.RecordPersistenceError()
		return types.Outcome{Err: fmt.Errorf("record pending: %w: %w", scoring.ErrPersistence, err)}
	}

	if !s.inflight.add(e.EventID) {
		return types.Outcome{Accepted: true, Queued: true}
	}
	if err := s.eventQueue.Enqueue(ctx, e); err != nil {
		s.inflight.done(e.EventID)
		if errors.Is(err, eventqueue.ErrFull) {
			s.logger.Warn(ctx, "intake queue full", logger.String("event_id", e.EventID))
			return types.Outcome{Err: fmt.Errorf("enqueue %s: %w", e.EventID, ErrBackpressure)}
		}
		return types.Outcome{Err: fmt.Errorf("enqueue %s: %w: %w", e.EventID, ErrNotStarted, err)}
	}
	metrics.UpdateQueueSize(s.eventQueue.Len(ctx))
	return types.Outcome{Accepted: true, Queued: true}
}

func (s *Service) duplicate(ctx context.Context, e model.Event) types.Outcome { //nolint:gocritic // hugeParam: events are values
	res := s.engine.Duplicate(ctx, e)
	return types.Outcome{Duplicate: true, NewScore: res.NewScore, ScoreKnown: res.ScoreKnown}
}

// SubmitBatch submits events in order, skipping malformed ones. It returns
// the number of events accepted; duplicates and failures are not counted.
func (s *Service) SubmitBatch(ctx context.Context, events []model.Event) int {
	accepted := 0
	for i := range events {
		if err := events[i].Validate(); err != nil {
			metrics.RecordEventInvalid()
			s.logger.Debug(ctx, "skipping malformed batch event", logger.Int("index", i), logger.Error(err))
			continue
		}
		out := s.Submit(ctx, events[i])
		if out.Err != nil {
			s.logger.Warn(ctx, "batch event not accepted",
				logger.String("event_id", events[i].EventID),
				logger.Error(out.Err))
			continue
		}
		if out.Accepted {
			accepted++
		}
	}
	return accepted
}

// Leaderboard returns up to limit leads ranked by score, optionally filtered
// by a case-insensitive id substring. Ranks are 1-based positions.
func (s *Service) Leaderboard(ctx context.Context, search string, limit int) ([]types.Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("leaderboard: %w: %d", ErrInvalidLimit, limit)
	}
	store, err := s.readStore()
	if err != nil {
		return nil, err
	}

	leads, err := store.ListLeads(ctx, repository.ListFilter{Search: search, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}

	entries := make([]types.Entry, len(leads))
	for i, l := range leads {
		entries[i] = types.Entry{
			Rank:        i + 1,
			LeadID:      l.ID,
			Score:       l.Score,
			LastEventID: l.LastEventID,
		}
	}
	return entries, nil
}

// LeadDetail returns a lead with its most recent history and events.
// Unknown leads yield repository.ErrNotFound.
func (s *Service) LeadDetail(ctx context.Context, leadID string) (types.LeadDetail, error) {
	store, err := s.readStore()
	if err != nil {
		return types.LeadDetail{}, err
	}

	lead, err := store.GetLead(ctx, leadID)
	if err != nil {
		return types.LeadDetail{}, fmt.Errorf("lead detail: %w", err)
	}
	history, err := store.History(ctx, leadID, s.historyLimit)
	if err != nil {
		return types.LeadDetail{}, fmt.Errorf("lead history: %w", err)
	}
	events, err := store.Events(ctx, leadID, s.historyLimit)
	if err != nil {
		return types.LeadDetail{}, fmt.Errorf("lead events: %w", err)
	}
	return types.LeadDetail{Lead: lead, History: history, Events: events}, nil
}

// History returns up to limit score changes for a lead, newest first.
func (s *Service) History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history: %w: %d", ErrInvalidLimit, limit)
	}
	store, err := s.readStore()
	if err != nil {
		return nil, err
	}
	if _, err := store.GetLead(ctx, leadID); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	h, err := store.History(ctx, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return h, nil
}

// Rules lists every scoring rule.
func (s *Service) Rules(ctx context.Context) ([]model.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.rules.List(ctx)
}

// UpsertRule creates or replaces a rule. Existing scores are not recomputed.
func (s *Service) UpsertRule(ctx context.Context, eventType string, points int64, active bool) (model.ScoringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.ScoringRule{}, ErrNotStarted
	}
	r, err := s.rules.Upsert(ctx, eventType, points, active)
	if err != nil {
		return model.ScoringRule{}, err
	}
	s.logger.Info(ctx, "scoring rule updated",
		logger.String("event_type", r.EventType),
		logger.Int64("points", r.Points),
		logger.Bool("active", r.Active))
	return r, nil
}

// Subscribe registers an observer of score changes. Callers must Close it.
func (s *Service) Subscribe() (*notify.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.hub.Subscribe(), nil
}

// Ping reports whether storage is reachable.
func (s *Service) Ping(ctx context.Context) error {
	store, err := s.readStore()
	if err != nil {
		return err
	}
	return store.Ping(ctx)
}

func (s *Service) readStore() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":    s.started,
		"intakeMode": s.intakeMode,
		"dedupeSize": s.dedupeSize,
	}
	if s.intakeMode == config.IntakeAsync {
		stats["workerCount"] = s.workerCount
		stats["queueSize"] = s.queueSize
	}

	if s.started {
		stats["store"] = s.storeName()
		stats["dedupeEntries"] = s.deduper.Size()
		stats["subscribers"] = s.hub.Subscribers()

		if n, err := s.store.CountLeads(ctx); err == nil {
			stats["totalLeads"] = n
			metrics.UpdateLeadsTotal(n)
		}
		if n, err := s.store.CountRules(ctx); err == nil {
			stats["totalRules"] = n
		}
		if s.eventQueue != nil {
			queueLen := s.eventQueue.Len(ctx)
			stats["queueLength"] = queueLen
			stats["inFlight"] = s.inflight.len()
			metrics.UpdateQueueSize(queueLen)
		}
	}

	return stats
}
