package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/okian/leadscore/internal/adapters/http/api"
	service "github.com/okian/leadscore/internal/app"
	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLeadctl(t *testing.T) {
	convey.Convey("Given a running service", t, func() {
		svc := service.New(service.WithLogger(logger.Nop()))
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		srv := httptest.NewServer(api.NewServer(svc).Routes(context.Background()))
		defer func() {
			srv.Close()
			svc.Stop()
		}()

		convey.Convey("When simulating traffic", func() {
			out, err := run("simulate", "--url", srv.URL, "--events", "12", "--leads", "3", "--interval", "0", "--seed", "9")

			convey.Convey("Then stats and the leaderboard should be printed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "SUBMITTED")
				convey.So(out, convey.ShouldContainSubstring, "RANK")
				convey.So(out, convey.ShouldContainSubstring, "lead_")
			})

			convey.Convey("And the leaderboard should be readable as JSON", func() {
				out, err := run("leaderboard", "--url", srv.URL, "--json", "--limit", "2")
				convey.So(err, convey.ShouldBeNil)
				var board []types.Entry
				convey.So(json.Unmarshal([]byte(out), &board), convey.ShouldBeNil)
				convey.So(len(board), convey.ShouldBeBetweenOrEqual, 1, 2)
				convey.So(board[0].Rank, convey.ShouldEqual, 1)

				detail, err := run("lead", board[0].LeadID, "--url", srv.URL)
				convey.So(err, convey.ShouldBeNil)
				convey.So(detail, convey.ShouldContainSubstring, "DELTA")
			})
		})

		convey.Convey("When managing rules", func() {
			out, err := run("rules", "set", "Webinar", "25", "--url", srv.URL)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "Webinar")

			out, err = run("rules", "--url", srv.URL)
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldContainSubstring, "Purchase")
			convey.So(out, convey.ShouldContainSubstring, "Webinar")

			_, err = run("rules", "set", "Webinar", "lots", "--url", srv.URL)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When reading an unknown lead", func() {
			_, err := run("lead", "nobody", "--url", srv.URL)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
