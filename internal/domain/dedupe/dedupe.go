// Package dedupe defines the hot cache of applied event IDs.
//
// The cache only ever holds IDs whose events were committed as processed, so
// a hit is authoritative. A miss is not: evicted IDs fall through to the
// durable event index in the store.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper remembers applied event IDs.
type Deduper interface {
	// Seen reports whether id was recorded and not yet evicted.
	Seen(ctx context.Context, id string) bool
	// Record remembers id. Recording an id twice, or an empty id, is a no-op.
	Record(ctx context.Context, id string)
	// Forget drops id from the cache.
	Forget(ctx context.Context, id string)
	Size() int64
}

// inMemoryDeduper keeps IDs in a map plus a ring of insertion order.
// Bounded mode evicts the oldest recorded ID when full.
type inMemoryDeduper struct {
	mu      sync.RWMutex
	seen    map[string]int // id -> slot in ring, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) Seen(_ context.Context, id string) bool {
	d.mu.RLock()
	_, ok := d.seen[id]
	d.mu.RUnlock()
	return ok
}

func (d *inMemoryDeduper) Record(_ context.Context, id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return
	}
	if d.maxSize <= 0 {
		d.seen[id] = -1
		d.size.Add(1)
		return
	}

	// Slot at next is the oldest entry once the ring has wrapped.
	if old := d.ring[d.next]; old != "" {
		delete(d.seen, old)
		d.size.Add(-1)
	}
	d.ring[d.next] = id
	d.seen[id] = d.next
	d.next = (d.next + 1) % d.maxSize
	d.size.Add(1)
}

func (d *inMemoryDeduper) Forget(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[id]
	if !ok {
		return
	}
	delete(d.seen, id)
	if slot >= 0 {
		d.ring[slot] = ""
	}
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
