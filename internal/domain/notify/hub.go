// Package notify fans score changes out to live subscribers and transports.
//
// Delivery is at-most-once: a full dispatch queue or a full subscriber
// buffer drops the update. Observers reconcile by re-reading the ledger.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/okian/leadscore/pkg/metrics"
)

// Drop reasons reported to metrics.
const (
	dropQueueFull      = "queue_full"
	dropSubscriberFull = "subscriber_full"
)

// Transport forwards score changes to an external system.
type Transport interface {
	Name() string
	Notify(ctx context.Context, leadID string, score int64) error
}

// Subscription receives score updates until closed.
type Subscription struct {
	C    <-chan types.ScoreUpdate
	ch   chan types.ScoreUpdate
	hub  *Hub
	once sync.Once
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub is the change notifier.
type Hub struct {
	in               chan types.ScoreUpdate
	buffer           int
	transports       []Transport
	transportTimeout time.Duration
	log              logger.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewHub creates a hub. Call Start before publishing.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:           1024,
		transportTimeout: 2 * time.Second,
		log:              logger.Nop(),
		subs:             make(map[*Subscription]struct{}),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.in = make(chan types.ScoreUpdate, h.buffer)
	return h
}

// Start launches the dispatcher. It stops when ctx is done or Stop is called.
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.dispatch(ctx)
	})
}

// Stop halts the dispatcher and closes every subscription channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		for s := range h.subs {
			close(s.ch)
			delete(h.subs, s)
		}
		h.mu.Unlock()
		metrics.UpdateSubscriberCount(0)
	})
}

// Publish queues an update without blocking. It reports false when the
// update was dropped.
func (h *Hub) Publish(leadID string, score int64) bool {
	select {
	case h.in <- types.ScoreUpdate{LeadID: leadID, Score: score}:
		metrics.RecordNotificationPublished()
		return true
	default:
		metrics.RecordNotificationDropped(dropQueueFull)
		return false
	}
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan types.ScoreUpdate, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	select {
	case <-h.done:
		close(ch)
	default:
		h.subs[s] = struct{}{}
	}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.UpdateSubscriberCount(n)
	return s
}

// Subscribers returns the number of attached observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.UpdateSubscriberCount(n)
}

func (h *Hub) dispatch(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case u := <-h.in:
			h.fanOut(u)
			h.forward(ctx, u)
		}
	}
}

func (h *Hub) fanOut(u types.ScoreUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- u:
		default:
			metrics.RecordNotificationDropped(dropSubscriberFull)
		}
	}
}

func (h *Hub) forward(ctx context.Context, u types.ScoreUpdate) {
	for _, t := range h.transports {
		tctx, cancel := context.WithTimeout(ctx, h.transportTimeout)
		err := t.Notify(tctx, u.LeadID, u.Score)
		cancel()
		if err != nil {
			metrics.RecordNotificationError(t.Name())
			h.log.Warn(ctx, "score change not forwarded",
				logger.String("transport", t.Name()),
				logger.String("lead_id", u.LeadID),
				logger.Error(fmt.Errorf("%w: %w", ErrNotification, err)))
		}
	}
}
