// Package async runs claimed jobs on a bounded set of goroutines.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

// Handler processes one job. A non-nil error stops the pool: jobs not yet
// started are returned to the caller instead of being run.
type Handler func(ctx context.Context, job entity.Job) error

// Pool runs jobs with at most Workers in flight. Each job gets its own
// context detached from the caller's, so a stop request lets started jobs
// finish.
type Pool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProcessTimeout bounds a single job. Zero leaves jobs unbounded.
func WithProcessTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger, workers: 1}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Run hands every job to h and waits for the started ones. It returns the
// jobs that were never started, because ctx was cancelled or a handler
// failed, along with the first handler error.
func (p *Pool) Run(ctx context.Context, jobs []entity.Job, h Handler) ([]entity.Job, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var (
		mu        sync.Mutex
		unstarted []entity.Job
	)
	skip := func(job entity.Job) {
		mu.Lock()
		unstarted = append(unstarted, job)
		mu.Unlock()
	}

	for _, job := range jobs {
		if gctx.Err() != nil {
			skip(job)
			continue
		}
		g.Go(func() error {
			// the slot may have been granted after a stop
			if gctx.Err() != nil {
				skip(job)
				return nil
			}
			jctx := context.WithoutCancel(gctx)
			if p.timeout > 0 {
				var cancel context.CancelFunc
				jctx, cancel = context.WithTimeout(jctx, p.timeout)
				defer cancel()
			}
			return h(jctx, job)
		})
	}

	err := g.Wait()
	if len(unstarted) > 0 {
		p.logger.Info("async.pool.stopped_early", "unstarted", len(unstarted), "of", len(jobs))
	}
	return unstarted, err
}
