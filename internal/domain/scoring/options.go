package scoring

import (
	"time"

	"github.com/okian/leadscore/internal/domain/dedupe"
	"github.com/okian/leadscore/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithDeduper sets the hot cache consulted before the store's event index.
func WithDeduper(d dedupe.Deduper) Option {
	return func(e *Engine) {
		if d != nil {
			e.dedupe = d
		}
	}
}

// WithStoreTimeout bounds the storage work of a single Apply.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithClock overrides the processing-time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
