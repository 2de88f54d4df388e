/*
main.go - Bulk reprocessing CLI

PURPOSE:
  Runs one reprocessing job against the configured database without
  starting the HTTP server. Useful after an outage of the segment
  computation service or after a rule change.

EXAMPLES:
  # Intervals without segments or with stale segments
  reprocess --mode missing_segments

  # Recompute every closed interval of March
  reprocess --mode date_range --start 2025-03-01 --end 2025-03-31 --batch-size 100

  # Only list what would be reprocessed
  reprocess --mode missing_segments --dry-run

Configuration comes from the same environment as the server (DB_DRIVER,
SQLITE_PATH, RULES_FILE, ...). Exit status is 1 when any interval failed.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/warp/worktime-engine/api"
	"github.com/warp/worktime-engine/config"
	"github.com/warp/worktime-engine/store/postgres"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/worktime"
)

const appVersion = "1.0.0"

func main() {
	var (
		mode      string
		startStr  string
		endStr    string
		batchSize int
		dbPath    string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:           "reprocess",
		Short:         "Recompute work interval segments in bulk",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.Database.SQLitePath = dbPath
			}

			req := worktime.ReprocessRequest{Mode: worktime.ReprocessMode(mode), BatchSize: batchSize}
			if startStr != "" {
				d, err := worktime.ParseDate(startStr)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				req.StartDate = &d
			}
			if endStr != "" {
				d, err := worktime.ParseDate(endStr)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				req.EndDate = &d
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, directory, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			rules, err := cfg.RuleSet()
			if err != nil {
				return err
			}
			if src, ok := store.(worktime.HolidaySource); ok {
				calendar, err := worktime.NewStoredHolidayCalendar(ctx, src)
				if err != nil {
					return err
				}
				rules.Holidays = worktime.HolidayCalendars{rules.Holidays, calendar}
			}

			if dryRun {
				return listCandidates(ctx, cmd, store, req, rules)
			}

			logger := api.NewLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), cfg.App.Env)
			var computer worktime.SegmentComputer
			if cfg.Recalc.ComputeServiceURL != "" {
				computer = worktime.NewHTTPComputer(cfg.Recalc.ComputeServiceURL, cfg.Recalc.Timeout)
			}
			handler := api.NewHandler(store, directory, rules, computer)
			handler.SetLogger(logger)
			handler.Orchestrator.Retry = cfg.RetryPolicy()
			handler.Reprocessor.BatchDelay = cfg.Batch.Delay

			result, runErr := handler.Reprocessor.Reprocess(ctx, req)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if !result.Success {
				return fmt.Errorf("%d interval(s) failed", len(result.Failed))
			}
			return nil
		},
	}

	cmd.Version = appVersion
	cmd.Flags().StringVar(&mode, "mode", string(worktime.ModeMissingSegments), "missing_segments or date_range")
	cmd.Flags().StringVar(&startStr, "start", "", "First work date YYYY-MM-DD (date_range)")
	cmd.Flags().StringVar(&endStr, "end", "", "Last work date YYYY-MM-DD (date_range)")
	cmd.Flags().IntVar(&batchSize, "batch-size", worktime.DefaultBatchSize, "Intervals per batch")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides SQLITE_PATH)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the intervals that would be reprocessed")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (worktime.TxStore, worktime.TeamDirectory, func(), error) {
	if cfg.Database.Driver == "postgres" {
		store, err := postgres.New(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return store, store, store.Close, nil
	}
	store, err := sqlite.New(cfg.Database.SQLitePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, store, func() { store.Close() }, nil
}

func listCandidates(ctx context.Context, cmd *cobra.Command, store worktime.TxStore, req worktime.ReprocessRequest, rules worktime.RuleSet) error {
	intervals, err := worktime.NewReprocessor(store, nil, rules).Candidates(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, iv := range intervals {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", iv.ID, iv.EmployeeID, iv.Start.Format("2006-01-02 15:04"), iv.Duration())
	}
	fmt.Fprintf(out, "%d interval(s)\n", len(intervals))
	return nil
}
