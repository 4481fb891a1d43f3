package simulate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/logger"
)

// Runner drives generated traffic against a running service.
type Runner struct {
	cfg    Config
	client *Client
	gen    *Generator
	logger logger.Logger
}

// NewRunner validates cfg and prepares a run.
func NewRunner(cfg Config, l logger.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Runner{
		cfg:    cfg,
		client: NewClient(cfg.BaseURL, cfg.Timeout),
		gen:    NewGenerator(cfg),
		logger: l,
	}, nil
}

// Client returns the HTTP client used by the run.
func (r *Runner) Client() *Client { return r.client }

// Leads returns the simulated lead ids.
func (r *Runner) Leads() []string { return r.gen.Leads() }

// Run checks health, then submits cfg.Events events across cfg.Workers
// submitters, singly or in batches.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	stats := Stats{StartTime: time.Now()}

	r.logger.Info(ctx, "starting simulation",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.Int("leads", r.cfg.Leads),
		logger.Int("events", r.cfg.Events),
		logger.Int("batchSize", r.cfg.BatchSize),
		logger.Int("workers", r.cfg.Workers))

	if err := r.client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	units := r.plan()
	stats.Generated = r.cfg.Events

	var (
		submitted, accepted, duplicate, failed, batches int64
		wg                                              sync.WaitGroup
	)
	work := make(chan []model.Event, r.cfg.Workers*2)

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range work {
				if r.cfg.BatchSize > 0 {
					n, err := r.client.SubmitBatch(ctx, unit)
					atomic.AddInt64(&batches, 1)
					atomic.AddInt64(&submitted, int64(len(unit)))
					if err != nil {
						r.logger.Warn(ctx, "batch failed", logger.Error(err))
						atomic.AddInt64(&failed, int64(len(unit)))
					} else {
						atomic.AddInt64(&accepted, int64(n))
						atomic.AddInt64(&duplicate, int64(len(unit)-n))
					}
				} else {
					e := unit[0]
					res, err := r.client.SubmitEvent(ctx, e)
					atomic.AddInt64(&submitted, 1)
					switch res {
					case ResultAccepted:
						atomic.AddInt64(&accepted, 1)
						r.logger.Debug(ctx, "sent event",
							logger.String("event_type", e.EventType),
							logger.String("lead_id", e.LeadID))
					case ResultDuplicate:
						atomic.AddInt64(&duplicate, 1)
					default:
						atomic.AddInt64(&failed, 1)
						r.logger.Warn(ctx, "event failed", logger.String("event_id", e.EventID), logger.Error(err))
					}
				}
				if r.cfg.Interval > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(r.cfg.Interval):
					}
				}
			}
		}()
	}

feed:
	for _, u := range units {
		select {
		case <-ctx.Done():
			break feed
		case work <- u:
		}
	}
	close(work)
	wg.Wait()

	stats.Submitted = int(submitted)
	stats.Accepted = int(accepted)
	stats.Duplicate = int(duplicate)
	stats.Failed = int(failed)
	stats.Batches = int(batches)
	stats.Duration = time.Since(stats.StartTime)

	r.logger.Info(ctx, "simulation complete",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("failed", stats.Failed),
		logger.String("duration", stats.Duration.String()))

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("simulation interrupted: %w", err)
	}
	return stats, nil
}

// plan splits the run into submission units of one event or one batch.
func (r *Runner) plan() [][]model.Event {
	size := 1
	if r.cfg.BatchSize > 0 {
		size = r.cfg.BatchSize
	}
	var units [][]model.Event
	for left := r.cfg.Events; left > 0; left -= size {
		units = append(units, r.gen.Batch(min(size, left)))
	}
	return units
}
