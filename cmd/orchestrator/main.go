package main

// Long-running scheduler for the analysis pipeline: periodic dispatch
// cycles, a daily aggregation pass, and daily historical accuracy scoring.

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"signals-backend/internal/bootstrap"
	"signals-backend/internal/orchestrator"
	"signals-backend/internal/shared/config"
	"signals-backend/internal/shared/telemetry"
)

const cronStopTimeout = 2 * time.Minute

func main() {
	cfg := config.Load()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A file lock keeps overlapping deploys from double-dispatching.
	lock := flock.New(cfg.LockFile)

	c := cron.New()

	mustSchedule(c, cfg.DispatchCron, "dispatch", func() {
		runLocked(ctx, lock, "dispatch", func(ctx context.Context) error {
			stats, err := app.Orchestrator.RunCycle(ctx)
			if err != nil {
				if errors.Is(err, orchestrator.ErrCycleInProgress) || errors.Is(err, orchestrator.ErrPaused) {
					telemetry.Info("orchestrator.cycle_skipped", map[string]any{"reason": err.Error()})
					return nil
				}
				return err
			}
			telemetry.Info("orchestrator.cycle_done", map[string]any{
				"candidates": stats.Candidates,
				"retries":    stats.Retries,
				"dispatched": stats.Dispatched,
				"deferred":   stats.Deferred,
				"triage":     stats.Triage,
			})
			return nil
		})
	})

	mustSchedule(c, cfg.AggregateCron, "aggregate", func() {
		runLocked(ctx, lock, "aggregate", func(ctx context.Context) error {
			stats, err := app.Aggregator.RunCycle(ctx)
			if err != nil {
				return err
			}
			telemetry.Info("orchestrator.aggregate_done", map[string]any{
				"signals":  stats.Signals,
				"clusters": stats.Clusters,
				"patterns": stats.PatternsPromoted,
				"trends":   stats.TrendsPromoted,
			})
			return nil
		})
	})

	mustSchedule(c, cfg.AccuracyCron, "accuracy", func() {
		runLocked(ctx, lock, "accuracy", func(ctx context.Context) error {
			scored, err := app.Aggregator.ValidateHistorical(ctx)
			if err != nil {
				return err
			}
			telemetry.Info("orchestrator.accuracy_done", map[string]any{"scored": scored})
			return nil
		})
	})

	c.Start()
	log.Printf("orchestrator started dispatch=%q aggregate=%q accuracy=%q lock=%s",
		cfg.DispatchCron, cfg.AggregateCron, cfg.AccuracyCron, cfg.LockFile)

	<-ctx.Done()
	log.Printf("shutdown requested, waiting for running jobs")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(cronStopTimeout):
		log.Printf("shutdown timeout reached; exiting with running jobs")
	}
}

func mustSchedule(c *cron.Cron, spec, name string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		log.Fatalf("schedule %s (%q): %v", name, spec, err)
	}
}

// runLocked runs a job while holding the shared file lock. A held lock
// means another instance is mid-cycle; the job is skipped, not queued.
func runLocked(ctx context.Context, lock *flock.Flock, name string, job func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}

	locked, err := lock.TryLock()
	if err != nil {
		telemetry.Error("orchestrator.lock_failed", map[string]any{"job": name, "error": err.Error()})
		return
	}
	if !locked {
		telemetry.Info("orchestrator.lock_busy", map[string]any{"job": name})
		return
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			telemetry.Error("orchestrator.unlock_failed", map[string]any{"job": name, "error": err.Error()})
		}
	}()

	if err := job(ctx); err != nil {
		telemetry.Error("orchestrator.job_failed", map[string]any{"job": name, "error": err.Error()})
	}
}
