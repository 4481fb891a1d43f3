package rules_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/leadscore/internal/adapters/repository"
	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/rules"
	. "github.com/smartystreets/goconvey/convey"
)

type failingStore struct {
	*repository.MemoryStore
}

func (failingStore) GetRule(context.Context, string) (model.ScoringRule, error) {
	return model.ScoringRule{}, errors.New("disk on fire")
}

func TestBook(t *testing.T) {
	Convey("Given a rule book over an empty store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		book := rules.New(store)

		Convey("When seeding", func() {
			seeded, err := book.Seed(ctx)
			So(err, ShouldBeNil)
			So(seeded, ShouldBeTrue)

			Convey("Then the five defaults should resolve", func() {
				for et, pts := range rules.DefaultRules {
					got, err := book.Resolve(ctx, et)
					So(err, ShouldBeNil)
					So(got, ShouldEqual, pts)
				}
				rs, err := book.List(ctx)
				So(err, ShouldBeNil)
				So(len(rs), ShouldEqual, 5)
			})

			Convey("Then seeding again should be a no-op", func() {
				_, err := book.Upsert(ctx, "Purchase", 1, true)
				So(err, ShouldBeNil)
				seeded, err := book.Seed(ctx)
				So(err, ShouldBeNil)
				So(seeded, ShouldBeFalse)
				got, _ := book.Resolve(ctx, "Purchase")
				So(got, ShouldEqual, 1)
			})
		})

		Convey("When resolving an unknown type", func() {
			got, err := book.Resolve(ctx, "Webinar")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, 0)
		})

		Convey("When a rule is deactivated", func() {
			_, err := book.Upsert(ctx, "Purchase", 100, false)
			So(err, ShouldBeNil)
			got, err := book.Resolve(ctx, "Purchase")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, 0)
		})

		Convey("When a negative rule is written", func() {
			r, err := book.Upsert(ctx, "  Unsubscribe ", -15, true)
			So(err, ShouldBeNil)
			So(r.EventType, ShouldEqual, "Unsubscribe")
			got, _ := book.Resolve(ctx, "Unsubscribe")
			So(got, ShouldEqual, -15)
		})

		Convey("When the event type is blank", func() {
			_, err := book.Upsert(ctx, "  ", 5, true)
			So(errors.Is(err, rules.ErrInvalidRule), ShouldBeTrue)
		})

		Convey("When a custom seed is configured", func() {
			book := rules.New(store, rules.WithSeed(map[string]int64{"Webinar": 30}))
			_, err := book.Seed(ctx)
			So(err, ShouldBeNil)
			rs, _ := book.List(ctx)
			So(len(rs), ShouldEqual, 1)
			So(rs[0].Points, ShouldEqual, 30)
		})

		Convey("When the store fails", func() {
			book := rules.New(failingStore{store})
			_, err := book.Resolve(ctx, "Purchase")
			So(errors.Is(err, rules.ErrRuleStore), ShouldBeTrue)
		})
	})
}
