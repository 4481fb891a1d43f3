package service

import (
	"context"
	"errors"
	"sync"
	"time"

	eventqueue "github.com/okian/leadscore/internal/adapters/mq/queue"
	"github.com/okian/leadscore/pkg/logger"
)

// inflight holds ids sitting in the queue or held by a worker.
type inflight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{ids: make(map[string]struct{})}
}

// add reports false when id is already in flight.
func (f *inflight) add(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

func (f *inflight) done(id string) {
	f.mu.Lock()
	delete(f.ids, id)
	f.mu.Unlock()
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

// requeuePending hands stored pending events that are not in flight back to
// the worker pool, up to the free queue capacity. Callers hold s.mu.
func (s *Service) requeuePending(ctx context.Context) int {
	free := s.eventQueue.Cap() - s.eventQueue.Len(ctx)
	if free < 1 {
		return 0
	}

	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	// Skipped in-flight rows must not crowd out the rest.
	pending, err := s.store.Pending(sctx, free+s.inflight.len())
	cancel()
	if err != nil {
		s.logger.Warn(ctx, "listing pending events failed", logger.Error(err))
		return 0
	}

	n := 0
	for i := range pending {
		e := pending[i]
		if !s.inflight.add(e.EventID) {
			continue
		}
		if err := s.eventQueue.Enqueue(ctx, e); err != nil {
			s.inflight.done(e.EventID)
			if !errors.Is(err, eventqueue.ErrFull) {
				s.logger.Warn(ctx, "requeue failed", logger.String("event_id", e.EventID), logger.Error(err))
			}
			break
		}
		n++
	}
	if n > 0 {
		s.logger.Info(ctx, "requeued pending events", logger.Int("count", n))
	}
	return n
}

// sweepPending periodically requeues pending events left behind by workers
// that gave up, until ctx is cancelled.
func (s *Service) sweepPending(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.RLock()
		if ctx.Err() == nil && s.started {
			s.requeuePending(ctx)
		}
		s.mu.RUnlock()
	}
}
