package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

var (
	// ErrJobNotFound is returned for operations on an unknown paper id.
	ErrJobNotFound = common.NewAppError("JOB_NOT_FOUND", "job not found", common.ErrNotFound)
	// ErrStoreCorrupt is returned when the persisted queue cannot be decoded.
	// The file is left untouched so an operator can inspect it.
	ErrStoreCorrupt = errors.New("job store corrupt")
)

// JobStore is the durable queue shared by every worker process.
//
// Ownership is best-effort exclusive: a job reclaimed by ResetStuckJobs while
// its original worker is still alive may be processed twice. Both results are
// equivalent and the second CompleteJob is a no-op, so this is tolerated.
type JobStore interface {
	// AddJobs inserts pending jobs and returns how many rows were created. An
	// existing id is skipped unless force is set, in which case it is reset to
	// a fresh pending job.
	AddJobs(ctx context.Context, paperIDs []string, force bool) (int, error)
	// ClaimBatch atomically moves up to batchSize claimable jobs to in_progress
	// for workerID, incrementing attempts, and returns copies of them.
	ClaimBatch(ctx context.Context, workerID string, batchSize, maxAttempts int) ([]entity.Job, error)
	// ClaimJob claims a single job; it returns nil when nothing is claimable.
	ClaimJob(ctx context.Context, workerID string, maxAttempts int) (*entity.Job, error)
	// CompleteJob marks the job completed, or qa_flagged when qaPassed is false.
	// Completing an already completed or flagged job changes nothing.
	CompleteJob(ctx context.Context, paperID string, qaPassed bool) error
	// FailJob records errMsg on an in_progress job and either requeues it or,
	// once attempts reaches maxAttempts, marks it failed.
	FailJob(ctx context.Context, paperID, errMsg string, maxAttempts int) error
	// ReleaseJob hands a claimed job that was never started back to the queue
	// without recording a failure. The attempt the claim added is given back.
	ReleaseJob(ctx context.Context, paperID, workerID string) error
	// ResetStuckJobs requeues in_progress jobs started before now-timeout, or
	// with no start time at all. A stuck job whose attempts already reached
	// maxAttempts is marked failed instead, so it stays visible to ResetFailedJobs.
	ResetStuckJobs(ctx context.Context, timeout time.Duration, maxAttempts int) (int, error)
	// ResetFailedJobs requeues every failed job with a fresh attempt budget.
	ResetFailedJobs(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (entity.Stats, error)
	GetJob(ctx context.Context, paperID string) (*entity.Job, error)
	ListJobs(ctx context.Context) ([]entity.Job, error)
	// Ping checks the backend is reachable and readable within timeout.
	Ping(ctx context.Context, timeout time.Duration) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now         func() time.Time
	lockTimeout time.Duration
	logger      *slog.Logger
	pool        *pgxpool.Pool
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLockTimeout bounds how long the file store waits for the advisory lock.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// withPool hands ownership of a pgx pool to the SQL store so Close releases it.
func withPool(pool *pgxpool.Pool) Option {
	return func(o *options) { o.pool = pool }
}

func buildOptions(opts []Option) options {
	o := options{
		now:         func() time.Time { return time.Now().UTC() },
		lockTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (JobStore, error) {
	opts := []Option{WithLogger(logger), WithLockTimeout(cfg.LockTimeout)}
	switch cfg.Backend {
	case constants.BackendFile:
		return NewFileStore(cfg.Path, opts...)
	case constants.BackendSQLite:
		db, err := OpenSQLite(ctx, cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, db, constants.BackendSQLite, opts...)
	case constants.BackendPostgres:
		db, pool, err := OpenPostgres(ctx, Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
			DialTimeout:     cfg.DialTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, db, constants.BackendPostgres, append(opts, withPool(pool))...)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", "unknown store backend "+cfg.Backend, common.ErrInvalidInput)
	}
}

func openSQL(ctx context.Context, db *sql.DB, backend string, opts ...Option) (JobStore, error) {
	s, err := NewSQLStore(db, backend, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// cleanIDs trims ids, drops blanks and keeps the first occurrence of each.
func cleanIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateClaim(workerID string, batchSize, maxAttempts int) error {
	if strings.TrimSpace(workerID) == "" {
		return common.NewAppError("INVALID_CLAIM", "worker id is required", common.ErrInvalidInput)
	}
	if batchSize < 1 || maxAttempts < 1 {
		return common.NewAppError("INVALID_CLAIM", "batch size and max attempts must be positive", common.ErrInvalidInput)
	}
	return nil
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func stuckError(attempts int) string {
	return fmt.Sprintf("stuck in_progress after %d attempt(s)", attempts)
}
