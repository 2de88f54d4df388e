/*
scheduler.go - Automated reprocessing scheduler

PURPOSE:
  Periodically reprocesses closed intervals that have no segments or whose
  segments are stale. A recalculation that exhausts its retries leaves the
  interval stale; this sweep picks it up once the computation service
  recovers.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Each run is a missing_segments job through the Reprocessor
  - Runs never overlap; a tick during a run is dropped
  - Stop cancels the running job, which returns its partial result

CONFIGURATION:
  - CheckInterval: How often to sweep (REPROCESS_INTERVAL, 0 disables)
  - BatchSize: Intervals per batch

USAGE:
  scheduler := NewReprocessScheduler(handler.Reprocessor, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reprocess endpoint (manual reprocessing)
  - worktime/bulk.go: Reprocessor
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/worktime-engine/worktime"
)

// ReprocessScheduler sweeps unsegmented intervals on a timer.
type ReprocessScheduler struct {
	Reprocessor   *worktime.Reprocessor
	CheckInterval time.Duration
	BatchSize     int
	Logger        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun    time.Time
	lastResult *worktime.ReprocessResult
}

func NewReprocessScheduler(reprocessor *worktime.Reprocessor, logger *slog.Logger) *ReprocessScheduler {
	return &ReprocessScheduler{
		Reprocessor:   reprocessor,
		CheckInterval: time.Hour,
		BatchSize:     worktime.DefaultBatchSize,
		Logger:        logger,
	}
}

// Start begins the scheduler. A non-positive interval disables it.
func (rs *ReprocessScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.CheckInterval <= 0 {
		rs.Logger.Info("reprocess scheduler disabled")
		return
	}
	if rs.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.wg.Add(1)
	go rs.run(ctx)

	rs.Logger.Info("reprocess scheduler started", "interval", rs.CheckInterval.String())
}

// Stop cancels the scheduler and waits for a running sweep to return.
func (rs *ReprocessScheduler) Stop() {
	rs.mu.Lock()
	cancel := rs.cancel
	rs.cancel = nil
	rs.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	rs.wg.Wait()
	rs.Logger.Info("reprocess scheduler stopped")
}

// LastRun returns the time and result of the latest sweep.
func (rs *ReprocessScheduler) LastRun() (time.Time, *worktime.ReprocessResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastRun, rs.lastResult
}

func (rs *ReprocessScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	ticker := time.NewTicker(rs.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	rs.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			rs.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one missing_segments job.
func (rs *ReprocessScheduler) Sweep(ctx context.Context) *worktime.ReprocessResult {
	started := time.Now()
	result, err := rs.Reprocessor.Reprocess(ctx, worktime.ReprocessRequest{
		Mode:      worktime.ModeMissingSegments,
		BatchSize: rs.BatchSize,
	})
	if err != nil {
		rs.Logger.Warn("reprocess sweep interrupted", "error", err)
	}

	rs.mu.Lock()
	rs.lastRun = started
	if result != nil {
		rs.lastResult = result
	}
	rs.mu.Unlock()

	if result != nil && (result.Generated > 0 || result.Fallbacks > 0 || len(result.Failed) > 0) {
		rs.Logger.Info("reprocess sweep completed",
			"processed", result.Processed,
			"generated", result.Generated,
			"fallbacks", result.Fallbacks,
			"failed", len(result.Failed),
			"took", time.Since(started).String())
	}
	return result
}
