/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the worktime engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the SQLite or PostgreSQL store
  3. Build the calendar rules; a snapshot of the stored holidays joins the
     rule file's calendar and is refreshed by the holiday endpoints
  4. Create API handler with dependencies
  5. Start the reprocess scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database
  -rules   JSON rule set file (overrides RULES_FILE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reprocess scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/warp/worktime-engine/api"
	"github.com/warp/worktime-engine/config"
	"github.com/warp/worktime-engine/store/postgres"
	"github.com/warp/worktime-engine/store/sqlite"
	"github.com/warp/worktime-engine/worktime"
)

// backend is the persistence selected by DB_DRIVER.
type backend struct {
	store     worktime.TxStore
	directory worktime.TeamDirectory
	holidays  worktime.HolidaySource
	close     func()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	port := flag.Int("port", cfg.App.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.SQLitePath, "SQLite database path")
	rulesFile := flag.String("rules", cfg.Rules.File, "JSON rule set file")
	flag.Parse()
	cfg.App.Port = *port
	cfg.Database.SQLitePath = *dbPath
	cfg.Rules.File = *rulesFile
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := api.NewLogger(os.Stdout, cfg.SlogLevel(), cfg.App.Env)
	slog.SetDefault(logger)

	db, err := openBackend(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.close()

	rules, err := cfg.RuleSet()
	if err != nil {
		return err
	}
	calendar, err := worktime.NewStoredHolidayCalendar(context.Background(), db.holidays)
	if err != nil {
		return err
	}
	rules.Holidays = worktime.HolidayCalendars{rules.Holidays, calendar}

	var computer worktime.SegmentComputer
	if cfg.Recalc.ComputeServiceURL != "" {
		computer = worktime.NewHTTPComputer(cfg.Recalc.ComputeServiceURL, cfg.Recalc.Timeout)
		logger.Info("using remote segment computation", "url", cfg.Recalc.ComputeServiceURL)
	}

	handler := api.NewHandler(db.store, db.directory, rules, computer)
	handler.Calendar = calendar
	handler.SetLogger(logger)
	handler.Orchestrator.Retry = cfg.RetryPolicy()
	handler.Overrides.Tolerance = cfg.Recalc.OverrideTolerance
	handler.Approvals.Concurrency = cfg.Batch.Concurrency
	handler.Approvals.EditDelay = cfg.Batch.Delay
	handler.Reprocessor.BatchDelay = cfg.Batch.Delay

	scheduler := api.NewReprocessScheduler(handler.Reprocessor, logger)
	scheduler.CheckInterval = cfg.Recalc.ReprocessInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      api.NewRouter(handler, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Recalc.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.App.Port, "driver", cfg.Database.Driver, "timezone", rules.Location.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := postgres.New(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return &backend{store: store, directory: store, holidays: store, close: store.Close}, nil
	default:
		if dir := filepath.Dir(cfg.Database.SQLitePath); cfg.Database.SQLitePath != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		store, err := sqlite.New(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return &backend{store: store, directory: store, holidays: store, close: func() { store.Close() }}, nil
	}
}
