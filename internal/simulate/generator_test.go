package simulate

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		cfg := DefaultConfig()
		cfg.Seed = 42
		cfg.Leads = 8

		Convey("Then leads should be distinct and reproducible", func() {
			a := NewGenerator(cfg).Leads()
			b := NewGenerator(cfg).Leads()
			So(a, ShouldResemble, b)
			seen := map[string]bool{}
			for _, id := range a {
				So(seen[id], ShouldBeFalse)
				seen[id] = true
			}
		})

		Convey("When producing events", func() {
			g := NewGenerator(cfg)
			events := g.Batch(50)

			Convey("Then each should be valid and attributed to a known lead", func() {
				leads := map[string]bool{}
				for _, id := range g.Leads() {
					leads[id] = true
				}
				ids := map[string]bool{}
				for _, e := range events {
					So(e.Validate(), ShouldBeNil)
					So(leads[e.LeadID], ShouldBeTrue)
					So(cfg.EventTypes, ShouldContain, e.EventType)
					So(e.Metadata["source"], ShouldEqual, metadataSource)
					ids[e.EventID] = true
				}
				So(ids, ShouldHaveLength, 50)
			})
		})

		Convey("When every submission should be a resend", func() {
			cfg.DuplicateRate = 1
			g := NewGenerator(cfg)
			first := g.Next()

			Convey("Then later events should repeat the first", func() {
				for i := 0; i < 5; i++ {
					So(g.Next().EventID, ShouldEqual, first.EventID)
				}
			})
		})
	})
}

func TestConfigValidate(t *testing.T) {
	Convey("Given simulation configs", t, func() {
		So(DefaultConfig().Validate(), ShouldBeNil)

		bad := []func(*Config){
			func(c *Config) { c.BaseURL = "" },
			func(c *Config) { c.Leads = 0 },
			func(c *Config) { c.Workers = 0 },
			func(c *Config) { c.BatchSize = -1 },
			func(c *Config) { c.DuplicateRate = 1.5 },
			func(c *Config) { c.EventTypes = nil },
		}
		for _, mutate := range bad {
			c := DefaultConfig()
			mutate(&c)
			So(errors.Is(c.Validate(), ErrInvalidConfig), ShouldBeTrue)
		}
	})
}
