package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/leadscore/internal/domain/notify"
	"github.com/okian/leadscore/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingTransport struct {
	mu   sync.Mutex
	got  []types.ScoreUpdate
	fail bool
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Notify(_ context.Context, leadID string, score int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, types.ScoreUpdate{LeadID: leadID, Score: score})
	if r.fail {
		return errors.New("broker down")
	}
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func receive(s *notify.Subscription) (types.ScoreUpdate, bool) {
	select {
	case u, ok := <-s.C:
		return u, ok
	case <-time.After(time.Second):
		return types.ScoreUpdate{}, false
	}
}

func TestHub(t *testing.T) {
	Convey("Given a started hub with a transport", t, func() {
		tr := &recordingTransport{}
		h := notify.NewHub(notify.WithBuffer(8), notify.WithTransport(tr))
		h.Start(context.Background())
		defer h.Stop()

		Convey("When two observers subscribe and an update is published", func() {
			a := h.Subscribe()
			b := h.Subscribe()
			So(h.Subscribers(), ShouldEqual, 2)
			So(h.Publish("L1", 105), ShouldBeTrue)

			Convey("Then both should receive it and the transport should see it", func() {
				u, ok := receive(a)
				So(ok, ShouldBeTrue)
				So(u, ShouldResemble, types.ScoreUpdate{LeadID: "L1", Score: 105})
				u, ok = receive(b)
				So(ok, ShouldBeTrue)
				So(u.Score, ShouldEqual, 105)
				So(waitFor(func() bool { return tr.count() == 1 }), ShouldBeTrue)
			})

			Convey("Then a closed subscription should stop receiving", func() {
				a.Close()
				a.Close()
				So(h.Subscribers(), ShouldEqual, 1)
				_, ok := <-a.C
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a transport fails", func() {
			tr.fail = true
			So(h.Publish("L2", 10), ShouldBeTrue)

			Convey("Then publishing should still succeed", func() {
				So(waitFor(func() bool { return tr.count() == 1 }), ShouldBeTrue)
				So(h.Publish("L2", 20), ShouldBeTrue)
			})
		})
	})
}

func TestHubDropsInsteadOfBlocking(t *testing.T) {
	Convey("Given a hub whose dispatcher is not running", t, func() {
		h := notify.NewHub(notify.WithBuffer(2))
		defer h.Stop()

		Convey("When more updates arrive than the queue holds", func() {
			start := time.Now()
			So(h.Publish("L1", 1), ShouldBeTrue)
			So(h.Publish("L1", 2), ShouldBeTrue)
			So(h.Publish("L1", 3), ShouldBeFalse)

			Convey("Then publish should return immediately", func() {
				So(time.Since(start), ShouldBeLessThan, 100*time.Millisecond)
			})
		})
	})

	Convey("Given a slow subscriber", t, func() {
		h := notify.NewHub(notify.WithBuffer(1))
		h.Start(context.Background())
		defer h.Stop()
		slow := h.Subscribe()
		fast := h.Subscribe()

		Convey("When several updates are dispatched", func() {
			for i := int64(1); i <= 5; i++ {
				h.Publish("L1", i)
				time.Sleep(5 * time.Millisecond)
				if u, ok := receive(fast); ok {
					So(u.Score, ShouldEqual, i)
				}
			}

			Convey("Then the slow subscriber should hold only what fit", func() {
				u, ok := receive(slow)
				So(ok, ShouldBeTrue)
				So(u.Score, ShouldEqual, 1)
			})
		})
	})
}

func TestHubStop(t *testing.T) {
	Convey("Given a stopped hub", t, func() {
		h := notify.NewHub()
		h.Start(context.Background())
		s := h.Subscribe()
		h.Stop()

		Convey("Then existing and new subscriptions should be closed", func() {
			_, ok := <-s.C
			So(ok, ShouldBeFalse)
			late := h.Subscribe()
			_, ok = <-late.C
			So(ok, ShouldBeFalse)
			So(func() { s.Close() }, ShouldNotPanic)
			So(func() { h.Publish("L1", 1) }, ShouldNotPanic)
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
