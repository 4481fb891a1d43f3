package repository

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	model "github.com/okian/leadscore/internal/domain/model"
)

// MemoryStore keeps all state in process memory.
//
// Lead-scoped transactions hold a per-lead lock for their whole duration and
// take the store mutex only to read committed state and to publish staged
// writes.
type MemoryStore struct {
	mu      sync.RWMutex
	closed  bool
	leads   map[string]model.Lead
	events  map[string]model.Event
	byLead  map[string][]string // lead id -> event ids in insertion order
	history map[string][]model.ScoreHistoryEntry
	rules   map[string]model.ScoringRule
	rank    ranking

	locks *leadLocks
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:   make(map[string]model.Lead),
		events:  make(map[string]model.Event),
		byLead:  make(map[string][]string),
		history: make(map[string][]model.ScoreHistoryEntry),
		rules:   make(map[string]model.ScoringRule),
		locks:   newLeadLocks(),
	}
}

func (s *MemoryStore) GetLead(ctx context.Context, leadID string) (model.Lead, error) {
	if err := ctx.Err(); err != nil {
		return model.Lead{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[leadID]
	if !ok {
		return model.Lead{}, fmt.Errorf("lead %q: %w", leadID, ErrNotFound)
	}
	return l, nil
}

func (s *MemoryStore) ListLeads(ctx context.Context, f ListFilter) ([]model.Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", f.Limit, ErrInvalidLimit)
	}
	needle := strings.ToLower(f.Search)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Lead, 0, min(f.Limit, s.rank.len()))
	s.rank.ascend(func(id string, _ int64) bool {
		if needle == "" || strings.Contains(strings.ToLower(id), needle) {
			out = append(out, s.leads[id])
		}
		return len(out) < f.Limit
	})
	return out, nil
}

func (s *MemoryStore) CountLeads(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads), nil
}

func (s *MemoryStore) History(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[leadID]
	out := make([]model.ScoreHistoryEntry, 0, min(limit, len(h)))
	// Appends happen in application order, so walking backwards is newest first.
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (s *MemoryStore) Events(ctx context.Context, leadID string, limit int) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	s.mu.RLock()
	ids := s.byLead[leadID]
	out := make([]model.Event, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, s.events[ids[i]])
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Pending(ctx context.Context, limit int) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit %d: %w", limit, ErrInvalidLimit)
	}
	s.mu.RLock()
	var out []model.Event
	for _, e := range s.events {
		if !e.Processed {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].EventID < out[j].EventID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	if err := ctx.Err(); err != nil {
		return model.Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return model.Event{}, fmt.Errorf("event %q: %w", eventID, ErrNotFound)
	}
	return e, nil
}

func (s *MemoryStore) RecordPending(ctx context.Context, e model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if cur, ok := s.events[e.EventID]; ok {
		if cur.Processed {
			return fmt.Errorf("event %q: %w", e.EventID, ErrDuplicate)
		}
		if !SamePayload(cur, e) {
			return fmt.Errorf("event %q: %w", e.EventID, ErrConflict)
		}
		return nil
	}
	e.Processed = false
	e.Metadata = maps.Clone(e.Metadata)
	s.events[e.EventID] = e
	s.byLead[e.LeadID] = append(s.byLead[e.LeadID], e.EventID)
	return nil
}

func (s *MemoryStore) GetRule(ctx context.Context, eventType string) (model.ScoringRule, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoringRule{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[eventType]
	if !ok {
		return model.ScoringRule{}, fmt.Errorf("rule %q: %w", eventType, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) PutRule(ctx context.Context, r model.ScoringRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rules[r.EventType] = r
	return nil
}

func (s *MemoryStore) ListRules(ctx context.Context) ([]model.ScoringRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.ScoringRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out, nil
}

func (s *MemoryStore) CountRules(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules), nil
}

func (s *MemoryStore) Update(ctx context.Context, leadID string, fn func(Tx) error) error {
	unlock, err := s.locks.lock(ctx, leadID)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &memTx{store: s, leadID: leadID}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// commit publishes staged writes. Event writes are re-validated against
// committed state since other leads may share an event id.
func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, e := range tx.inserts {
		if _, ok := s.events[e.EventID]; ok {
			return fmt.Errorf("event %q: %w", e.EventID, ErrDuplicate)
		}
	}
	for _, id := range tx.marks {
		cur, ok := s.events[id]
		if !ok {
			return fmt.Errorf("event %q: %w", id, ErrNotFound)
		}
		if cur.Processed {
			return fmt.Errorf("event %q: %w", id, ErrDuplicate)
		}
	}

	for _, e := range tx.inserts {
		s.events[e.EventID] = e
		s.byLead[e.LeadID] = append(s.byLead[e.LeadID], e.EventID)
	}
	for _, id := range tx.marks {
		cur := s.events[id]
		cur.Processed = true
		s.events[id] = cur
	}
	if tx.lead != nil {
		old, existed := s.leads[tx.lead.ID]
		s.leads[tx.lead.ID] = *tx.lead
		s.rank.set(tx.lead.ID, old.Score, existed, tx.lead.Score)
	}
	for _, h := range tx.history {
		s.history[h.LeadID] = append(s.history[h.LeadID], h)
	}
	return nil
}

// memTx stages writes until commit.
type memTx struct {
	store   *MemoryStore
	leadID  string
	lead    *model.Lead
	inserts []model.Event
	marks   []string
	history []model.ScoreHistoryEntry
}

func (t *memTx) GetLead(ctx context.Context, leadID string) (model.Lead, error) {
	if t.lead != nil && t.lead.ID == leadID {
		return *t.lead, nil
	}
	return t.store.GetLead(ctx, leadID)
}

func (t *memTx) PutLead(_ context.Context, lead model.Lead) error {
	if lead.ID != t.leadID {
		return fmt.Errorf("lead %q outside transaction for %q: %w", lead.ID, t.leadID, ErrInvalidLead)
	}
	t.lead = &lead
	return nil
}

func (t *memTx) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	for i := len(t.inserts) - 1; i >= 0; i-- {
		if t.inserts[i].EventID == eventID {
			return t.inserts[i], nil
		}
	}
	e, err := t.store.GetEvent(ctx, eventID)
	if err != nil {
		return model.Event{}, err
	}
	for _, id := range t.marks {
		if id == eventID {
			e.Processed = true
		}
	}
	return e, nil
}

func (t *memTx) InsertEvent(ctx context.Context, e model.Event) error {
	if _, err := t.GetEvent(ctx, e.EventID); err == nil {
		return fmt.Errorf("event %q: %w", e.EventID, ErrDuplicate)
	}
	e.Metadata = maps.Clone(e.Metadata)
	t.inserts = append(t.inserts, e)
	return nil
}

func (t *memTx) MarkProcessed(ctx context.Context, eventID string) error {
	e, err := t.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if e.Processed {
		return fmt.Errorf("event %q: %w", eventID, ErrDuplicate)
	}
	t.marks = append(t.marks, eventID)
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h model.ScoreHistoryEntry) error {
	t.history = append(t.history, h)
	return nil
}

// leadLocks hands out one lock per lead id and forgets it once unused.
type leadLocks struct {
	mu    sync.Mutex
	byKey map[string]*leadLock
}

type leadLock struct {
	ch   chan struct{}
	refs int
}

func newLeadLocks() *leadLocks {
	return &leadLocks{byKey: make(map[string]*leadLock)}
}

// lock blocks until the lead lock is held or ctx is done.
func (l *leadLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ll, ok := l.byKey[key]
	if !ok {
		ll = &leadLock{ch: make(chan struct{}, 1)}
		l.byKey[key] = ll
	}
	ll.refs++
	l.mu.Unlock()

	select {
	case ll.ch <- struct{}{}:
		return func() {
			<-ll.ch
			l.release(key, ll)
		}, nil
	case <-ctx.Done():
		l.release(key, ll)
		return nil, ctx.Err()
	}
}

func (l *leadLocks) release(key string, ll *leadLock) {
	l.mu.Lock()
	ll.refs--
	if ll.refs == 0 {
		delete(l.byKey, key)
	}
	l.mu.Unlock()
}
