package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/rules"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":5001")
			convey.So(cfg.IntakeMode, convey.ShouldEqual, config.IntakeSync)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.EventQueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.StoreTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.HistoryLimit, convey.ShouldEqual, 50)
			convey.So(cfg.SeedRules, convey.ShouldHaveLength, 5)
			convey.So(cfg.SeedRules["Purchase"], convey.ShouldEqual, 100)
			convey.So(cfg.PendingSweep(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"*"})
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the seed rules should mirror the rule book defaults", func() {
			convey.So(cfg.SeedRules, convey.ShouldResemble, rules.DefaultRules)
		})

		convey.Convey("Then editing the seed rules should leave the defaults alone", func() {
			cfg.SeedRules["Purchase"] = 1
			convey.So(rules.DefaultRules["Purchase"], convey.ShouldEqual, 100)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When the intake mode is unknown", func() {
			cfg.IntakeMode = "batch"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the store driver is unknown", func() {
			cfg.StoreDriver = "mongo"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When sqlite has no path", func() {
			cfg.StoreDriver = config.DriverSQLite
			cfg.SQLitePath = ""
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the store timeout is zero", func() {
			cfg.StoreTimeoutMS = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When async intake has no queue", func() {
			cfg.IntakeMode = config.IntakeAsync
			cfg.EventQueueSize = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When async intake has no pending sweep interval", func() {
			cfg.IntakeMode = config.IntakeAsync
			cfg.PendingSweepMS = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})
	})
}
