package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/okian/leadscore/internal/config"
	"github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When loading configuration from the environment", func() {
			t.Setenv("LEADSCORE_ADDR", ":8080")
			t.Setenv("LEADSCORE_QUEUE_SIZE", "1000")
			t.Setenv("LEADSCORE_WORKER_COUNT", "4")
			t.Setenv("LEADSCORE_INTAKE_MODE", "async")

			cfg, err := config.Load(context.Background())

			convey.Convey("Then the overrides should be applied", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.EventQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.IntakeMode, convey.ShouldEqual, config.IntakeAsync)
			})
		})

		convey.Convey("When the configuration is invalid", func() {
			t.Setenv("LEADSCORE_STORE_DRIVER", "postgres")

			cfg, err := config.Load(context.Background())

			convey.Convey("Then loading should fail", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a log file is configured", func() {
			cfg := config.New()
			convey.So(loggerOptions(cfg), convey.ShouldBeEmpty)

			cfg.LogFile = filepath.Join(t.TempDir(), "leadscore.log")
			convey.So(loggerOptions(cfg), convey.ShouldHaveLength, 1)
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a configuration backed by SQLite and Redis", t, func() {
		mr := miniredis.RunT(t)

		cfg := config.New()
		cfg.StoreDriver = config.DriverSQLite
		cfg.SQLitePath = filepath.Join(t.TempDir(), "leadscore.db")
		cfg.RedisURL = "redis://" + mr.Addr()
		cfg.LogLevel = "error"

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		svc, err := newService(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		h := newHTTPServer(ctx, cfg, svc, logger.Nop()).Handler

		convey.Convey("When an event is posted", func() {
			body := `{"eventId":"e1","leadId":"L1","eventType":"Demo Request","timestamp":"2024-01-01T00:00:00Z"}`
			req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			convey.Convey("Then it should be applied and visible on the leaderboard", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusAccepted)

				entries, err := svc.Leaderboard(ctx, "", 10)
				convey.So(err, convey.ShouldBeNil)
				convey.So(entries, convey.ShouldHaveLength, 1)
				convey.So(entries[0].Score, convey.ShouldEqual, 50)
			})

			convey.Convey("And the metrics updaters should not panic", func() {
				convey.So(func() {
					updateSystemMetrics()
					updateServiceMetrics(svc)
				}, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When an event is submitted directly", func() {
			out := svc.Submit(ctx, model.Event{EventID: "e2", LeadID: "L2", EventType: "Purchase", Timestamp: time.Now()})
			convey.So(out.Accepted, convey.ShouldBeTrue)
			convey.So(out.NewScore, convey.ShouldEqual, 100)
		})
	})

	convey.Convey("Given an unreachable Redis", t, func() {
		cfg := config.New()
		cfg.RedisURL = "redis://127.0.0.1:1"

		convey.Convey("Then building the service should fail", func() {
			svc, err := newService(context.Background(), cfg, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(svc, convey.ShouldBeNil)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		svc, err := newService(ctx, config.New(), logger.Nop())
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then the updaters should return", func() {
			convey.So(func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, svc)
			}, convey.ShouldNotPanic)
		})
	})
}
