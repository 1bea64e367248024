// Package worker is the claim, process and report loop run by each worker
// process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/paper-translate/internal/async"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
	"github.com/joseph-ayodele/paper-translate/internal/llm"
	"github.com/joseph-ayodele/paper-translate/internal/metrics"
	"github.com/joseph-ayodele/paper-translate/internal/pipeline"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
	"github.com/joseph-ayodele/paper-translate/internal/retry"
)

var (
	// ErrFatalAPI stops the worker after a credential or quota failure.
	ErrFatalAPI = errors.New("fatal translation API error")
	// ErrStoreUnavailable stops the worker after too many failed claims in a row.
	ErrStoreUnavailable = common.NewAppError("STORE_UNAVAILABLE", "job store unavailable", common.ErrUnavailable)
)

// Handler processes a claimed job and reports it. *pipeline.Processor
// satisfies it.
type Handler interface {
	Handle(ctx context.Context, store repository.JobStore, job entity.Job, maxAttempts int) (pipeline.Outcome, error)
}

type Config struct {
	WorkerID       string
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	MaxIdlePolls   int // consecutive empty claims before exiting
	MaxStoreErrors int // consecutive failed claims before exiting
	JobTimeout     time.Duration
	Concurrency    int
	StoreRetry     retry.Config
}

func (c *Config) defaults() {
	if c.WorkerID == "" {
		c.WorkerID = NewWorkerID()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxIdlePolls <= 0 {
		c.MaxIdlePolls = 1
	}
	if c.MaxStoreErrors <= 0 {
		c.MaxStoreErrors = 10
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.StoreRetry.MaxAttempts <= 0 {
		c.StoreRetry = retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
	}
}

// NewWorkerID returns a host-independent unique worker id.
func NewWorkerID() string {
	return "worker-" + uuid.NewString()[:8]
}

// Summary counts what a Run did.
type Summary struct {
	Claimed   int
	Completed int
	Flagged   int
	Failed    int
	Released  int
}

type Worker struct {
	cfg     Config
	store   repository.JobStore
	reports *reportingStore
	handler Handler
	pool    *async.Pool
	logger  *slog.Logger

	mu      sync.Mutex
	summary Summary
}

func New(cfg Config, store repository.JobStore, handler Handler, logger *slog.Logger) *Worker {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker_id", cfg.WorkerID)
	return &Worker{
		cfg:     cfg,
		store:   store,
		handler: handler,
		reports: newReportingStore(store, cfg.StoreRetry, logger),
		pool:    async.NewPool(logger, async.WithWorkers(cfg.Concurrency), async.WithProcessTimeout(cfg.JobTimeout)),
		logger:  logger,
	}
}

func (w *Worker) ID() string { return w.cfg.WorkerID }

// Summary returns the counters of the last Run.
func (w *Worker) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

func (w *Worker) count(fn func(s *Summary)) {
	w.mu.Lock()
	fn(&w.summary)
	w.mu.Unlock()
}

// Run loops claim, process, report until the queue stays empty for
// MaxIdlePolls polls or ctx is cancelled. Cancellation is observed between
// jobs; a started job always finishes and is reported. It returns
// ErrFatalAPI after a fatal translation error and ErrStoreUnavailable when
// the store keeps failing.
func (w *Worker) Run(ctx context.Context) error {
	ctx = common.WithWorkerID(ctx, w.cfg.WorkerID)
	start := time.Now()
	w.count(func(s *Summary) { *s = Summary{} })
	w.logger.Info("worker.started",
		"batch_size", w.cfg.BatchSize,
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts,
		"max_idle_polls", w.cfg.MaxIdlePolls,
	)

	var (
		idle      int
		storeErrs int
		err       error
	)
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker.stopping", "reason", "signal")
			break
		}

		jobs, cerr := w.claim(ctx)
		if cerr != nil {
			if ctx.Err() != nil {
				break
			}
			storeErrs++
			metrics.StoreErrors.WithLabelValues("claim").Inc()
			w.logger.Error("worker.claim.failed", "consecutive", storeErrs, "error", cerr)
			if storeErrs >= w.cfg.MaxStoreErrors {
				err = fmt.Errorf("%w: %d consecutive claim failures: %w", ErrStoreUnavailable, storeErrs, cerr)
				break
			}
			w.sleep(ctx)
			continue
		}
		storeErrs = 0

		if len(jobs) == 0 {
			idle++
			w.logger.Debug("worker.idle", "polls", idle)
			if idle >= w.cfg.MaxIdlePolls {
				w.logger.Info("worker.stopping", "reason", "idle", "polls", idle)
				break
			}
			w.sleep(ctx)
			continue
		}
		idle = 0
		w.count(func(s *Summary) { s.Claimed += len(jobs) })

		if err = w.process(ctx, jobs); err != nil {
			break
		}
	}

	sum := w.Summary()
	w.logger.Info("worker.stopped",
		"claimed", sum.Claimed,
		"completed", sum.Completed,
		"flagged", sum.Flagged,
		"failed", sum.Failed,
		"released", sum.Released,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"error", err,
	)
	return err
}

func (w *Worker) claim(ctx context.Context) ([]entity.Job, error) {
	var jobs []entity.Job
	rc := w.cfg.StoreRetry
	rc.Retryable = storeRetryable
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		w.logger.Warn("worker.claim.retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}
	err := retry.Do(ctx, rc, func(ctx context.Context) error {
		var err error
		jobs, err = w.store.ClaimBatch(ctx, w.cfg.WorkerID, w.cfg.BatchSize, w.cfg.MaxAttempts)
		return err
	})
	return jobs, err
}

// storeRetryable keeps bad arguments, unknown jobs and a corrupt file from
// being retried.
func storeRetryable(err error) bool {
	return !errors.Is(err, common.ErrInvalidInput) &&
		!errors.Is(err, common.ErrNotFound) &&
		!errors.Is(err, repository.ErrStoreCorrupt) &&
		!errors.Is(err, context.Canceled)
}

// process runs a claimed batch through the pool and releases whatever was not
// started.
func (w *Worker) process(ctx context.Context, jobs []entity.Job) error {
	unstarted, err := w.pool.Run(ctx, jobs, w.handle)
	for _, job := range unstarted {
		w.release(job)
	}
	return err
}

func (w *Worker) handle(ctx context.Context, job entity.Job) error {
	out, err := w.handler.Handle(ctx, w.reports, job, w.cfg.MaxAttempts)
	if err != nil {
		// the job stays in_progress until reset-stuck picks it up
		metrics.StoreErrors.WithLabelValues("report").Inc()
		w.logger.Error("worker.report.failed", "paper_id", job.PaperID, "error", err)
	}

	w.count(func(s *Summary) {
		switch {
		case out.Failed():
			s.Failed++
		case out.QA != nil && out.QA.ShouldDisplay():
			s.Completed++
		case out.QA != nil:
			s.Flagged++
		}
	})

	if out.Failed() && llm.IsFatal(out.Err) {
		metrics.FatalAlerts.Inc()
		w.logger.Error("worker.fatal_api_error",
			"alert", true,
			"paper_id", job.PaperID,
			"error", out.Err,
		)
		return fmt.Errorf("%w: %s: %w", ErrFatalAPI, job.PaperID, out.Err)
	}
	return nil
}

func (w *Worker) release(job entity.Job) {
	// released even after a stop signal, so use a fresh context
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.store.ReleaseJob(ctx, job.PaperID, w.cfg.WorkerID); err != nil {
		metrics.StoreErrors.WithLabelValues("release").Inc()
		w.logger.Warn("worker.release.failed", "paper_id", job.PaperID, "error", err)
		return
	}
	w.count(func(s *Summary) { s.Released++ })
	w.logger.Info("worker.job.released", "paper_id", job.PaperID)
}

func (w *Worker) sleep(ctx context.Context) {
	if w.cfg.PollInterval <= 0 {
		return
	}
	t := time.NewTimer(w.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
