package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/spark-client/pkg/cache"
	"github.com/Sternrassler/spark-client/pkg/logging"
	"github.com/Sternrassler/spark-client/pkg/ratelimit"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		reset      bool
		purgeCache bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the shared rate-limit and cache state stored in Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := a.redisClient()
			if err != nil {
				return err
			}
			if rdb == nil {
				return errNoRedis
			}
			defer rdb.Close()

			tracker := ratelimit.NewTracker(rdb, logging.NewLogger("ratelimit"))
			if reset {
				if err := tracker.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("reset rate limit state: %w", err)
				}
			}

			cached := cache.NewManager(rdb)
			if purgeCache {
				n, err := cached.Purge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d cached responses\n", n)
			}

			state, err := tracker.GetState(cmd.Context())
			if err != nil {
				return err
			}
			renderState(cmd.OutOrStdout(), state, time.Now())

			n, err := cached.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cached responses: %d\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "clear the stored state before printing it")
	cmd.Flags().BoolVar(&purgeCache, "purge-cache", false, "delete all cached Spark responses")
	return cmd
}

// renderState prints state as a two-column table.
func renderState(w io.Writer, state *ratelimit.RateLimitState, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})

	health := "healthy"
	if state.InBackoff(now) {
		health = "backing off"
	}

	t.AppendRows([]table.Row{
		{"State", health},
		{"429 responses", state.Count429},
		{"Last 429", formatTime(state.Last429At)},
		{"Retry after", state.RetryAfter.String()},
		{"Backoff until", formatTime(state.BackoffUntil)},
		{"Reset in", state.TimeUntilReset().Round(time.Second).String()},
	})
	t.Render()
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}
