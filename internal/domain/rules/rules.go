// Package rules maps event types to point deltas.
package rules

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/okian/leadscore/internal/adapters/repository"
	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/metrics"
)

// DefaultRules are seeded into an empty rule table.
var DefaultRules = map[string]int64{ //nolint:gochecknoglobals // read-only defaults
	"Page View":       5,
	"Email Open":      10,
	"Form Submission": 20,
	"Demo Request":    50,
	"Purchase":        100,
}

// Store is the subset of repository.Store the book needs.
type Store interface {
	GetRule(ctx context.Context, eventType string) (model.ScoringRule, error)
	PutRule(ctx context.Context, r model.ScoringRule) error
	ListRules(ctx context.Context) ([]model.ScoringRule, error)
	CountRules(ctx context.Context) (int, error)
}

// Option applies a configuration option to the Book.
type Option func(*Book)

// WithSeed replaces the default seed set. An empty map disables seeding.
func WithSeed(seed map[string]int64) Option {
	return func(b *Book) {
		if seed != nil {
			b.seed = maps.Clone(seed)
		}
	}
}

// Book resolves and maintains scoring rules.
type Book struct {
	store Store
	seed  map[string]int64
}

// New creates a rule book over store.
func New(store Store, opts ...Option) *Book {
	b := &Book{store: store, seed: maps.Clone(DefaultRules)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve returns the point delta for eventType. Unknown or inactive types
// resolve to 0.
func (b *Book) Resolve(ctx context.Context, eventType string) (int64, error) {
	r, err := b.store.GetRule(ctx, eventType)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w: %w", eventType, ErrRuleStore, err)
	}
	if !r.Active {
		return 0, nil
	}
	return r.Points, nil
}

// Upsert creates or replaces the rule for eventType. Already-applied scores
// are not recomputed.
func (b *Book) Upsert(ctx context.Context, eventType string, points int64, active bool) (model.ScoringRule, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return model.ScoringRule{}, fmt.Errorf("%w: eventType is required", ErrInvalidRule)
	}
	r := model.ScoringRule{EventType: eventType, Points: points, Active: active}
	if err := b.store.PutRule(ctx, r); err != nil {
		return model.ScoringRule{}, fmt.Errorf("upsert %q: %w: %w", eventType, ErrRuleStore, err)
	}
	metrics.RecordRuleUpdate()
	return r, nil
}

// List returns all rules ordered by event type.
func (b *Book) List(ctx context.Context) ([]model.ScoringRule, error) {
	rs, err := b.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w: %w", ErrRuleStore, err)
	}
	return rs, nil
}

// Seed writes the seed set when the rule table is empty. It reports whether
// anything was written.
func (b *Book) Seed(ctx context.Context) (bool, error) {
	n, err := b.store.CountRules(ctx)
	if err != nil {
		return false, fmt.Errorf("seed: %w: %w", ErrRuleStore, err)
	}
	if n > 0 || len(b.seed) == 0 {
		return false, nil
	}
	for _, et := range slices.Sorted(maps.Keys(b.seed)) {
		if err := b.store.PutRule(ctx, model.ScoringRule{EventType: et, Points: b.seed[et], Active: true}); err != nil {
			return false, fmt.Errorf("seed %q: %w: %w", et, ErrRuleStore, err)
		}
	}
	return true, nil
}
