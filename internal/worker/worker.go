// Package worker advances generation jobs in the background so they resolve
// even when no client is polling.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/pawtalk-api/internal/constants"
	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// JobAdvancer is the part of the generation service the worker drives.
type JobAdvancer interface {
	ProcessingJobs(ctx context.Context, limit int) ([]*models.GenerationJob, error)
	CheckStatus(ctx context.Context, jobID string) (models.StatusResult, error)
	SweepStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	BatchSize    int
	StaleAge     time.Duration
}

// Worker periodically checks processing jobs and fails those stuck too long.
type Worker struct {
	jobs         JobAdvancer
	pollInterval time.Duration
	concurrency  int
	batchSize    int
	staleAge     time.Duration
	pending      atomic.Int64
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// New creates a new worker.
func New(jobs JobAdvancer, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = constants.WaitInterval
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = cfg.Concurrency * 10
	}
	if cfg.StaleAge == 0 {
		cfg.StaleAge = constants.DefaultStaleJobAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:         jobs,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		batchSize:    cfg.BatchSize,
		staleAge:     cfg.StaleAge,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins polling in the background.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting",
		"concurrency", w.concurrency,
		"poll_interval", w.pollInterval.String(),
		"stale_age", w.staleAge.String(),
	)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop gracefully stops the worker, waiting for the current pass.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping")
		close(w.stop)
	})
	w.wg.Wait()
	w.logger.Info("stopped")
}

// Busy reports whether the last pass left jobs processing.
func (w *Worker) Busy() bool {
	return w.pending.Load() > 0
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps stale jobs and then checks one batch of processing jobs.
// It returns how many jobs reached a terminal state in this pass.
func (w *Worker) RunOnce(ctx context.Context) int {
	if _, err := w.jobs.SweepStale(ctx, w.staleAge); err != nil {
		w.logger.Error("stale sweep failed", "error", err)
	}

	jobs, err := w.jobs.ProcessingJobs(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list processing jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		w.pending.Store(0)
		return 0
	}

	var mu sync.Mutex
	resolved := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			select {
			case <-w.stop:
				return nil
			default:
			}

			res, err := w.jobs.CheckStatus(gctx, job.ID)
			if err != nil {
				// One bad job must not stop the batch.
				w.logger.Warn("status check failed", "job_id", job.ID, "error", err)
				return nil
			}
			if res.Status.IsTerminal() {
				mu.Lock()
				resolved++
				mu.Unlock()
				w.logger.Info("job resolved", "job_id", job.ID, "status", res.Status)
			}
			return nil
		})
	}
	_ = g.Wait()
	w.pending.Store(int64(len(jobs) - resolved))

	w.logger.Debug("poll pass complete", "checked", len(jobs), "resolved", resolved)
	return resolved
}
