package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/internal/simulate"
	"github.com/okian/leadscore/pkg/logger"
)

type rootOptions struct {
	baseURL string
	timeout time.Duration
	json    bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "leadctl",
		Short:         "Lead scoring CLI",
		Long:          "leadctl submits simulated lead traffic and reads leaderboards, lead details and scoring rules from a running service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.baseURL, "url", "u", "http://localhost:5001", "service base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output JSON")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every submission")

	root.AddCommand(simulateCmd(opts))
	root.AddCommand(leaderboardCmd(opts))
	root.AddCommand(leadCmd(opts))
	root.AddCommand(rulesCmd(opts))
	return root
}

func (o *rootOptions) client() *simulate.Client {
	return simulate.NewClient(o.baseURL, o.timeout)
}

func simulateCmd(opts *rootOptions) *cobra.Command {
	cfg := simulate.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send random lead events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.BaseURL = opts.baseURL
			cfg.Timeout = opts.timeout

			log := logger.Nop()
			if opts.verbose {
				if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr())); err != nil {
					return err
				}
				_ = logger.SetLevelString("debug")
				log = logger.Named("simulate")
			}

			r, err := simulate.NewRunner(cfg, log)
			if err != nil {
				return err
			}
			stats, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			board, err := r.Client().Leaderboard(cmd.Context(), "", cfg.TopN)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json {
				return printJSON(out, map[string]any{"stats": stats, "leaderboard": board})
			}
			printStats(out, stats)
			printLeaderboard(out, board)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Leads, "leads", cfg.Leads, "number of distinct leads")
	f.IntVarP(&cfg.Events, "events", "n", cfg.Events, "number of events to send")
	f.IntVar(&cfg.BatchSize, "batch", 0, "events per batch request (0 sends one at a time)")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "concurrent senders")
	f.DurationVar(&cfg.Interval, "interval", cfg.Interval, "pause between sends per worker")
	f.Int64Var(&cfg.Seed, "seed", 0, "generator seed (0 for random)")
	f.Float64Var(&cfg.DuplicateRate, "dup-rate", 0, "share of sends that resend an earlier event")
	f.StringSliceVar(&cfg.EventTypes, "types", cfg.EventTypes, "event types to draw from")
	f.IntVar(&cfg.TopN, "top", cfg.TopN, "leaderboard size printed at the end")
	return cmd
}

func leaderboardCmd(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		search string
	)
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Aliases: []string{"leads", "top"},
		Short:   "Show leads ranked by score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			board, err := opts.client().Leaderboard(cmd.Context(), search, limit)
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), board)
			}
			printLeaderboard(cmd.OutOrStdout(), board)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "number of leads")
	cmd.Flags().StringVarP(&search, "search", "s", "", "case-insensitive lead id filter")
	return cmd
}

func leadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lead <id>",
		Short: "Show a lead with its recent history and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := opts.client().Lead(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), d)
			}
			printLead(cmd.OutOrStdout(), d)
			return nil
		},
	}
}

func rulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List scoring rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := opts.client().Rules(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), rs)
			}
			printRules(cmd.OutOrStdout(), rs)
			return nil
		},
	}

	var inactive bool
	set := &cobra.Command{
		Use:   "set <event-type> <points>",
		Short: "Create or replace a scoring rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("points must be an integer: %w", err)
			}
			r, err := opts.client().UpsertRule(cmd.Context(), model.ScoringRule{EventType: args[0], Points: points, Active: !inactive})
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), r)
			}
			printRules(cmd.OutOrStdout(), []model.ScoringRule{r})
			return nil
		},
	}
	set.Flags().BoolVar(&inactive, "inactive", false, "store the rule as inactive")
	cmd.AddCommand(set)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func printLeaderboard(w io.Writer, board []types.Entry) {
	tw := newTable(w, "Leaderboard")
	tw.AppendHeader(table.Row{"Rank", "Lead", "Score", "Last Event"})
	for _, e := range board {
		tw.AppendRow(table.Row{e.Rank, e.LeadID, e.Score, e.LastEventID})
	}
	tw.Render()
}

func printLead(w io.Writer, d types.LeadDetail) {
	tw := newTable(w, "Lead "+d.Lead.ID)
	tw.AppendHeader(table.Row{"Score", "Last Event", "Updated"})
	tw.AppendRow(table.Row{d.Lead.Score, d.Lead.LastEventID, d.Lead.UpdatedAt.Format(time.RFC3339)})
	tw.Render()

	ht := newTable(w, "Score History")
	ht.AppendHeader(table.Row{"When", "Event", "Old", "Delta", "New"})
	for _, h := range d.History {
		ht.AppendRow(table.Row{h.Timestamp.Format(time.RFC3339), h.EventID, h.OldScore, fmt.Sprintf("%+d", h.Delta), h.NewScore})
	}
	ht.Render()

	et := newTable(w, "Events")
	et.AppendHeader(table.Row{"Time", "Event", "Type", "Processed"})
	for _, e := range d.Events {
		et.AppendRow(table.Row{e.Timestamp.Format(time.RFC3339), e.EventID, e.EventType, e.Processed})
	}
	et.Render()
}

func printRules(w io.Writer, rs []model.ScoringRule) {
	tw := newTable(w, "Scoring Rules")
	tw.AppendHeader(table.Row{"Event Type", "Points", "Active"})
	for _, r := range rs {
		tw.AppendRow(table.Row{r.EventType, r.Points, r.Active})
	}
	tw.Render()
}

func printStats(w io.Writer, s simulate.Stats) {
	tw := newTable(w, "Simulation")
	tw.AppendHeader(table.Row{"Submitted", "Accepted", "Duplicate", "Failed", "Batches", "Duration"})
	tw.AppendRow(table.Row{s.Submitted, s.Accepted, s.Duplicate, s.Failed, s.Batches, s.Duration.Round(time.Millisecond)})
	tw.Render()
}
