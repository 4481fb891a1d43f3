package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/leadscore/internal/adapters/repository"
	service "github.com/okian/leadscore/internal/app"
	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/scoring"
	"github.com/okian/leadscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

// gatedStore holds every Update until release is closed.
type gatedStore struct {
	*repository.MemoryStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Update(ctx context.Context, leadID string, fn func(repository.Tx) error) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.MemoryStore.Update(ctx, leadID, fn)
}

// flakyStore fails every Update while failing is set.
type flakyStore struct {
	*repository.MemoryStore
	failing atomic.Bool
	updates atomic.Int32
}

func (f *flakyStore) Update(ctx context.Context, leadID string, fn func(repository.Tx) error) error {
	f.updates.Add(1)
	if f.failing.Load() {
		return errors.New("disk unavailable")
	}
	return f.MemoryStore.Update(ctx, leadID, fn)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func score(svc *service.Service, leadID string) int64 {
	d, err := svc.LeadDetail(context.Background(), leadID)
	if err != nil {
		return -1
	}
	return d.Lead.Score
}

func TestServiceIntegration_Async(t *testing.T) {
	Convey("Given an async service on SQLite", t, func() {
		path := filepath.Join(t.TempDir(), "leadscore.db")
		svc := started(t,
			service.WithIntakeMode(config.IntakeAsync),
			service.WithSQLite(path),
			service.WithWorkerCount(4),
			service.WithQueueSize(1000),
		)
		ctx := context.Background()

		Convey("When events are submitted", func() {
			out := svc.Submit(ctx, event("e1", "L1", "Demo Request"))

			Convey("Then they should be queued and applied by workers", func() {
				So(out.Err, ShouldBeNil)
				So(out.Accepted, ShouldBeTrue)
				So(out.Queued, ShouldBeTrue)
				So(waitFor(func() bool { return score(svc, "L1") == 50 }), ShouldBeTrue)
				So(svc.GetStats()["store"], ShouldEqual, config.DriverSQLite)
			})

			Convey("And a resubmit after processing should be a duplicate", func() {
				So(waitFor(func() bool { return score(svc, "L1") == 50 }), ShouldBeTrue)
				dup := svc.Submit(ctx, event("e1", "L1", "Demo Request"))
				So(dup.Duplicate, ShouldBeTrue)
				So(dup.Accepted, ShouldBeFalse)
			})
		})

		Convey("When many events for many leads arrive concurrently", func() {
			const leads, perLead = 8, 25
			var wg sync.WaitGroup
			for l := 0; l < leads; l++ {
				wg.Add(1)
				go func(l int) {
					defer wg.Done()
					for i := 0; i < perLead; i++ {
						e := event(fmt.Sprintf("L%d-e%d", l, i), fmt.Sprintf("L%d", l), "Page View")
						svc.Submit(ctx, e)
						svc.Submit(ctx, e)
					}
				}(l)
			}
			wg.Wait()

			Convey("Then every lead should end with exactly one application per event", func() {
				for l := 0; l < leads; l++ {
					id := fmt.Sprintf("L%d", l)
					So(waitFor(func() bool { return score(svc, id) == perLead*5 }), ShouldBeTrue)
				}
				h, err := svc.History(ctx, "L0", 1000)
				So(err, ShouldBeNil)
				So(h, ShouldHaveLength, perLead)
			})
		})
	})
}

func TestServiceIntegration_Backpressure(t *testing.T) {
	Convey("Given an async service whose single worker is stalled", t, func() {
		store := &gatedStore{
			MemoryStore: repository.NewMemoryStore(),
			entered:     make(chan struct{}),
			release:     make(chan struct{}),
		}
		svc := service.New(
			service.WithLogger(logger.Nop()),
			service.WithStore(store),
			service.WithIntakeMode(config.IntakeAsync),
			service.WithWorkerCount(1),
			service.WithQueueSize(1),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		released := false
		defer func() {
			if !released {
				close(store.release)
			}
		}()

		So(svc.Submit(ctx, event("e1", "L1", "Purchase")).Err, ShouldBeNil)
		<-store.entered
		So(svc.Submit(ctx, event("e2", "L1", "Purchase")).Err, ShouldBeNil)

		Convey("When the queue is full", func() {
			out := svc.Submit(ctx, event("e3", "L1", "Purchase"))

			Convey("Then the event should be rejected with backpressure", func() {
				So(errors.Is(out.Err, service.ErrBackpressure), ShouldBeTrue)
				So(out.Accepted, ShouldBeFalse)
			})

			Convey("And the rejected event should stay pending and be resubmittable", func() {
				e, err := store.GetEvent(ctx, "e3")
				So(err, ShouldBeNil)
				So(e.Processed, ShouldBeFalse)

				close(store.release)
				released = true
				So(waitFor(func() bool { return score(svc, "L1") == 200 }), ShouldBeTrue)

				again := svc.Submit(ctx, event("e3", "L1", "Purchase"))
				So(again.Err, ShouldBeNil)
				So(again.Queued, ShouldBeTrue)
				So(waitFor(func() bool { return score(svc, "L1") == 300 }), ShouldBeTrue)
			})
		})
	})
}

func TestServiceIntegration_DurableRestart(t *testing.T) {
	Convey("Given a SQLite-backed service that applied events", t, func() {
		path := filepath.Join(t.TempDir(), "leadscore.db")
		ctx := context.Background()

		first := service.New(service.WithLogger(logger.Nop()), service.WithSQLite(path))
		So(first.Start(ctx), ShouldBeNil)
		So(first.Submit(ctx, event("e1", "L1", "Form Submission")).Accepted, ShouldBeTrue)
		_, err := first.UpsertRule(ctx, "Form Submission", 7, true)
		So(err, ShouldBeNil)
		first.Stop()

		Convey("When a new service opens the same database", func() {
			second := service.New(service.WithLogger(logger.Nop()), service.WithSQLite(path))
			So(second.Start(ctx), ShouldBeNil)
			defer second.Stop()

			Convey("Then scores, rules and the dedupe index should survive", func() {
				So(score(second, "L1"), ShouldEqual, 20)
				So(second.Submit(ctx, event("e1", "L1", "Form Submission")).Duplicate, ShouldBeTrue)
				out := second.Submit(ctx, event("e2", "L1", "Form Submission"))
				So(out.NewScore, ShouldEqual, 27)

				rs, err := second.Rules(ctx)
				So(err, ShouldBeNil)
				So(rs, ShouldHaveLength, 5)
			})
		})
	})
}

func TestServiceIntegration_PendingRecovery(t *testing.T) {
	Convey("Given an async service whose store fails every commit", t, func() {
		store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
		store.failing.Store(true)
		ctx := context.Background()

		newService := func(sweep time.Duration) *service.Service {
			return service.New(
				service.WithLogger(logger.Nop()),
				service.WithStore(store),
				service.WithIntakeMode(config.IntakeAsync),
				service.WithWorkerCount(1),
				service.WithQueueSize(16),
				service.WithPendingSweep(sweep),
			)
		}
		inFlight := func(svc *service.Service) bool {
			return svc.GetStats()["inFlight"] == 0
		}

		Convey("When the worker gives up and the service restarts after the store heals", func() {
			svc := newService(time.Hour)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			out := svc.Submit(ctx, event("e1", "L1", "Demo Request"))
			So(out.Err, ShouldBeNil)
			So(out.Queued, ShouldBeTrue)
			So(waitFor(func() bool { return store.updates.Load() >= 3 && inFlight(svc) }), ShouldBeTrue)

			pending, err := store.Pending(ctx, 10)
			So(err, ShouldBeNil)
			So(pending, ShouldHaveLength, 1)

			store.failing.Store(false)
			svc.Stop()
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then the pending event should be applied exactly once", func() {
				So(waitFor(func() bool { return score(svc, "L1") == 50 }), ShouldBeTrue)
				e, err := store.GetEvent(ctx, "e1")
				So(err, ShouldBeNil)
				So(e.Processed, ShouldBeTrue)

				h, err := svc.History(ctx, "L1", 10)
				So(err, ShouldBeNil)
				So(h, ShouldHaveLength, 1)

				dup := svc.Submit(ctx, event("e1", "L1", "Demo Request"))
				So(dup.Duplicate, ShouldBeTrue)
				So(dup.NewScore, ShouldEqual, 50)
			})
		})

		Convey("When the worker gives up and the store heals while running", func() {
			svc := newService(20 * time.Millisecond)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			So(svc.Submit(ctx, event("e1", "L1", "Purchase")).Err, ShouldBeNil)
			So(waitFor(func() bool { return store.updates.Load() >= 3 }), ShouldBeTrue)
			store.failing.Store(false)

			Convey("Then the sweep should apply it exactly once", func() {
				So(waitFor(func() bool { return score(svc, "L1") == 100 }), ShouldBeTrue)
				So(waitFor(func() bool { return inFlight(svc) }), ShouldBeTrue)
				So(score(svc, "L1"), ShouldEqual, 100)

				h, err := svc.History(ctx, "L1", 10)
				So(err, ShouldBeNil)
				So(h, ShouldHaveLength, 1)
			})
		})

		Convey("When an in-flight event is submitted again", func() {
			svc := newService(time.Hour)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			So(svc.Submit(ctx, event("e1", "L1", "Page View")).Err, ShouldBeNil)
			again := svc.Submit(ctx, event("e1", "L1", "Page View"))

			Convey("Then it should be accepted as queued and drain once the store heals", func() {
				So(again.Err, ShouldBeNil)
				So(again.Queued, ShouldBeTrue)
				store.failing.Store(false)
				So(waitFor(func() bool { return inFlight(svc) }), ShouldBeTrue)
			})
		})

		Convey("When a pending event is resubmitted for another lead", func() {
			svc := newService(time.Hour)
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			So(svc.Submit(ctx, event("e1", "L1", "Page View")).Err, ShouldBeNil)
			out := svc.Submit(ctx, event("e1", "L2", "Page View"))

			Convey("Then it should be rejected as a conflict", func() {
				So(errors.Is(out.Err, scoring.ErrEventConflict), ShouldBeTrue)
				So(out.Accepted, ShouldBeFalse)
			})
		})
	})
}

var (
	_ repository.Store = (*gatedStore)(nil)
	_ repository.Store = (*flakyStore)(nil)
)
