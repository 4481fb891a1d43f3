package simulate

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	model "github.com/okian/leadscore/internal/domain/model"
)

const metadataSource = "simulation_script"

// Generator produces random events for a fixed set of leads.
type Generator struct {
	mu         sync.Mutex
	faker      *gofakeit.Faker
	leads      []string
	eventTypes []string
	dupRate    float64
	sent       []model.Event
	now        func() time.Time
}

// NewGenerator creates a generator. A zero seed picks a random one.
func NewGenerator(cfg Config) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	f := gofakeit.New(seed)

	leads := make([]string, cfg.Leads)
	seen := make(map[string]struct{}, cfg.Leads)
	for i := range leads {
		id := fmt.Sprintf("lead_%s", strings.ToLower(f.Username()))
		if _, dup := seen[id]; dup {
			id = fmt.Sprintf("%s_%d", id, i)
		}
		seen[id] = struct{}{}
		leads[i] = id
	}

	return &Generator{
		faker:      f,
		leads:      leads,
		eventTypes: append([]string(nil), cfg.EventTypes...),
		dupRate:    cfg.DuplicateRate,
		now:        time.Now,
	}
}

// Leads returns the lead ids events are attributed to.
func (g *Generator) Leads() []string {
	return append([]string(nil), g.leads...)
}

// Next returns a fresh event or, at the configured rate, a resend of an
// earlier one.
func (g *Generator) Next() model.Event {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.sent) > 0 && g.dupRate > 0 && g.faker.Float64() < g.dupRate {
		return g.sent[g.faker.IntRange(0, len(g.sent)-1)]
	}

	e := model.Event{
		EventID:   "evt_" + uuid.NewString(),
		LeadID:    g.faker.RandomString(g.leads),
		EventType: g.faker.RandomString(g.eventTypes),
		Timestamp: g.now().UTC().Truncate(time.Millisecond),
		Metadata: map[string]any{
			"source":    metadataSource,
			"url":       g.faker.URL(),
			"ip":        g.faker.IPv4Address(),
			"userAgent": g.faker.UserAgent(),
		},
	}
	g.sent = append(g.sent, e)
	return e
}

// Batch returns n events.
func (g *Generator) Batch(n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}
