package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/leadscore/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":5001")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
				convey.So(cfg.SeedRules, convey.ShouldHaveLength, 5)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("LEADSCORE_ADDR", ":8080")
			_ = os.Setenv("LEADSCORE_INTAKE_MODE", "async")
			_ = os.Setenv("LEADSCORE_QUEUE_SIZE", "500")
			_ = os.Setenv("LEADSCORE_WORKER_COUNT", "16")
			_ = os.Setenv("LEADSCORE_STORE_TIMEOUT_MS", "250")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.IntakeMode, convey.ShouldEqual, config.IntakeAsync)
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.StoreTimeoutMS, convey.ShouldEqual, 250)
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			clearConfigEnvVars()
			path := filepath.Join(t.TempDir(), "leadscore.yaml")
			yaml := "addr: \":7000\"\n" +
				"store_driver: sqlite\n" +
				"sqlite_path: /tmp/leads.db\n" +
				"seed_rules:\n" +
				"  Webinar: 30\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			_ = os.Setenv("LEADSCORE_CONFIG", path)
			_ = os.Setenv("LEADSCORE_ADDR", ":7100")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env wins over file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7100")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.SQLitePath, convey.ShouldEqual, "/tmp/leads.db")
				convey.So(cfg.SeedRules, convey.ShouldResemble, map[string]int64{"Webinar": 30})
			})
		})

		convey.Convey("When the config file is missing", func() {
			clearConfigEnvVars()
			_ = os.Setenv("LEADSCORE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should fail with a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an env value is invalid", func() {
			clearConfigEnvVars()
			_ = os.Setenv("LEADSCORE_STORE_DRIVER", "cassandra")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then validation should reject it", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, k := range []string{
		"LEADSCORE_CONFIG",
		"LEADSCORE_ADDR",
		"LEADSCORE_INTAKE_MODE",
		"LEADSCORE_QUEUE_SIZE",
		"LEADSCORE_WORKER_COUNT",
		"LEADSCORE_STORE_TIMEOUT_MS",
		"LEADSCORE_STORE_DRIVER",
	} {
		_ = os.Unsetenv(k)
	}
}
