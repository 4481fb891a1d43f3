package dedupe_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	dedupe "github.com/okian/leadscore/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it should be empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
				So(d.Seen(ctx, "event-1"), ShouldBeFalse)
			})
		})

		Convey("When recording events", func() {
			d := dedupe.NewInMemoryDeduper()
			events := []string{"event-1", "event-2", "event-3"}
			for _, id := range events {
				d.Record(ctx, id)
			}

			Convey("Then every recorded event should be seen", func() {
				So(d.Size(), ShouldEqual, int64(len(events)))
				for _, id := range events {
					So(d.Seen(ctx, id), ShouldBeTrue)
				}
				So(d.Seen(ctx, "event-4"), ShouldBeFalse)
			})

			Convey("And recording the same event again", func() {
				d.Record(ctx, "event-1")

				Convey("Then the size should not change", func() {
					So(d.Size(), ShouldEqual, int64(len(events)))
				})
			})
		})

		Convey("When forgetting events", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(4))
			d.Record(ctx, "event-1")
			d.Record(ctx, "event-2")
			d.Forget(ctx, "event-1")
			d.Forget(ctx, "missing")

			Convey("Then only the forgotten event should be gone", func() {
				So(d.Seen(ctx, "event-1"), ShouldBeFalse)
				So(d.Seen(ctx, "event-2"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the bounded cache is full", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 4; i++ {
				d.Record(ctx, fmt.Sprintf("event-%d", i))
			}

			Convey("Then the oldest event should be evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.Seen(ctx, "event-1"), ShouldBeFalse)
				So(d.Seen(ctx, "event-2"), ShouldBeTrue)
				So(d.Seen(ctx, "event-4"), ShouldBeTrue)
			})

			Convey("And more events keep arriving", func() {
				d.Record(ctx, "event-5")
				d.Record(ctx, "event-6")

				Convey("Then eviction should stay in insertion order", func() {
					So(d.Size(), ShouldEqual, 3)
					So(d.Seen(ctx, "event-3"), ShouldBeFalse)
					So(d.Seen(ctx, "event-4"), ShouldBeTrue)
					So(d.Seen(ctx, "event-6"), ShouldBeTrue)
				})
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			const numEvents = 1000
			for i := 0; i < numEvents; i++ {
				d.Record(ctx, fmt.Sprintf("event-%d", i))
			}

			Convey("Then nothing should be evicted", func() {
				So(d.Size(), ShouldEqual, int64(numEvents))
				So(d.Seen(ctx, "event-0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper with concurrent access", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(1000))
		const numGoroutines = 10
		const eventsPerGoroutine = 100

		Convey("When multiple goroutines record and check events concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < numGoroutines; i++ {
				wg.Add(1)
				go func(goroutineID int) {
					defer wg.Done()
					for j := 0; j < eventsPerGoroutine; j++ {
						id := fmt.Sprintf("event-%d-%d", goroutineID, j)
						d.Record(context.Background(), id)
						_ = d.Seen(context.Background(), id)
					}
				}(i)
			}
			wg.Wait()

			Convey("Then all events should be recorded", func() {
				So(d.Size(), ShouldEqual, int64(numGoroutines*eventsPerGoroutine))
			})
		})
	})
}

func TestDedupeEdgeCases(t *testing.T) {
	Convey("Given a deduper with edge cases", t, func() {
		ctx := context.Background()

		Convey("When recording an empty id", func() {
			d := dedupe.NewInMemoryDeduper()
			d.Record(ctx, "")

			Convey("Then it should be ignored", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.Seen(ctx, ""), ShouldBeFalse)
			})
		})

		Convey("When recording very long strings", func() {
			d := dedupe.NewInMemoryDeduper()
			long := strings.Repeat("a", 10000)
			d.Record(ctx, long)

			Convey("Then it should be seen", func() {
				So(d.Seen(ctx, long), ShouldBeTrue)
			})
		})

		Convey("When a forgotten slot is reused", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.Record(ctx, "a")
			d.Forget(ctx, "a")
			d.Record(ctx, "b")
			d.Record(ctx, "c")

			Convey("Then size should track live entries", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.Seen(ctx, "b"), ShouldBeTrue)
				So(d.Seen(ctx, "c"), ShouldBeTrue)
			})
		})
	})
}
