package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

const jobsTable = "jobs"

var jobColumns = []string{"paper_id", "status", "created_at", "attempts", "worker_id", "started_at", "completed_at", "error"}

// insertChunk keeps multi-row inserts under SQLite's bound-parameter limit.
const insertChunk = 200

// SQLStore keeps the queue in a jobs table on SQLite or Postgres. Timestamps
// are stored as unix nanoseconds so both engines compare them as integers.
type SQLStore struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	backend string
	dialect string
	now     func() time.Time
	logger  *slog.Logger
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, backend string, opts ...Option) (*SQLStore, error) {
	var d string
	switch backend {
	case constants.BackendSQLite:
		d = dialect.SQLite
	case constants.BackendPostgres:
		d = dialect.Postgres
	default:
		return nil, common.NewAppError("CONFIG_ERROR", "unsupported sql backend "+backend, common.ErrInvalidInput)
	}
	o := buildOptions(opts)
	return &SQLStore{db: db, pool: o.pool, backend: backend, dialect: d, now: o.now, logger: o.logger}, nil
}

func (s *SQLStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.dialect)
}

// textSize is past Postgres' varchar limit so string columns map to text.
const textSize = 1 << 24

// jobsSchema describes the jobs table and its claim index for ent's migrator.
func jobsSchema() *schema.Table {
	t := schema.NewTable(jobsTable).
		AddPrimary(&schema.Column{Name: "paper_id", Type: field.TypeString, Size: textSize}).
		AddColumn(&schema.Column{Name: "status", Type: field.TypeString, Size: textSize}).
		AddColumn(&schema.Column{Name: "created_at", Type: field.TypeInt64}).
		AddColumn(&schema.Column{Name: "attempts", Type: field.TypeInt, Default: 0}).
		AddColumn(&schema.Column{Name: "worker_id", Type: field.TypeString, Size: textSize, Nullable: true}).
		AddColumn(&schema.Column{Name: "started_at", Type: field.TypeInt64, Nullable: true}).
		AddColumn(&schema.Column{Name: "completed_at", Type: field.TypeInt64, Nullable: true}).
		AddColumn(&schema.Column{Name: "error", Type: field.TypeString, Size: textSize, Nullable: true})
	return t.AddIndex("jobs_status_created_at", false, []string{"status", "created_at"})
}

// Migrate creates the jobs table and its claim index if they are missing.
// Running it against an up-to-date database changes nothing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(entsql.OpenDB(s.dialect, s.db))
	if err != nil {
		return s.dbError("migrate", err)
	}
	if err := m.Create(ctx, jobsSchema()); err != nil {
		return s.dbError("migrate", err)
	}
	return nil
}

func (s *SQLStore) dbError(op string, err error) error {
	s.logger.Error("store.sql.error", "backend", s.backend, "op", op, "error", err)
	return common.NewAppError("DB_ERROR", op, errors.Join(common.ErrDatabase, err))
}

func (s *SQLStore) AddJobs(ctx context.Context, paperIDs []string, force bool) (int, error) {
	ids := cleanIDs(paperIDs)
	now := s.now().UnixNano()
	var added int64
	for start := 0; start < len(ids); start += insertChunk {
		end := min(start+insertChunk, len(ids))
		ins := s.builder().Insert(jobsTable).Columns(jobColumns...)
		for _, id := range ids[start:end] {
			ins.Values(id, string(constants.JobStatusPending), now, 0, nil, nil, nil, nil)
		}
		if force {
			ins.OnConflict(entsql.ConflictColumns("paper_id"), entsql.ResolveWithNewValues())
		} else {
			ins.OnConflict(entsql.ConflictColumns("paper_id"), entsql.DoNothing())
		}
		query, args := ins.Query()
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return int(added), s.dbError("add jobs", err)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	if len(ids) > 0 {
		s.logger.Info("store.jobs.added", "backend", s.backend, "requested", len(ids), "added", added, "force", force)
	}
	return int(added), nil
}

// claimQuery flips the oldest claimable rows in one statement. It runs inside
// an IMMEDIATE transaction on SQLite and takes row locks with SKIP LOCKED on
// Postgres, so concurrent claimers always get disjoint rows.
func (s *SQLStore) claimQuery() string {
	returning := " RETURNING paper_id, status, created_at, attempts, worker_id, started_at, completed_at, error"
	if s.dialect == dialect.Postgres {
		return "UPDATE jobs SET status = $1, worker_id = $2, attempts = attempts + 1, started_at = $3, completed_at = NULL" +
			" WHERE paper_id IN (SELECT paper_id FROM jobs WHERE status = $4 AND attempts < $5" +
			" ORDER BY created_at, paper_id LIMIT $6 FOR UPDATE SKIP LOCKED)" + returning
	}
	return "UPDATE jobs SET status = ?, worker_id = ?, attempts = attempts + 1, started_at = ?, completed_at = NULL" +
		" WHERE paper_id IN (SELECT paper_id FROM jobs WHERE status = ? AND attempts < ?" +
		" ORDER BY created_at, paper_id LIMIT ?)" + returning
}

func (s *SQLStore) ClaimBatch(ctx context.Context, workerID string, batchSize, maxAttempts int) ([]entity.Job, error) {
	if err := validateClaim(workerID, batchSize, maxAttempts); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.dbError("claim", err)
	}
	rows, err := tx.QueryContext(ctx, s.claimQuery(),
		string(constants.JobStatusInProgress), workerID, s.now().UnixNano(),
		string(constants.JobStatusPending), maxAttempts, batchSize)
	if err != nil {
		_ = tx.Rollback()
		return nil, s.dbError("claim", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		_ = tx.Rollback()
		return nil, s.dbError("claim", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.dbError("claim", err)
	}
	// RETURNING order is unspecified
	sort.SliceStable(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	if len(jobs) > 0 {
		s.logger.Debug("store.jobs.claimed", "worker_id", workerID, "count", len(jobs))
	}
	return jobs, nil
}

func (s *SQLStore) ClaimJob(ctx context.Context, workerID string, maxAttempts int) (*entity.Job, error) {
	jobs, err := s.ClaimBatch(ctx, workerID, 1, maxAttempts)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

// exec runs an update and returns the affected row count.
func (s *SQLStore) exec(ctx context.Context, op string, u *entsql.UpdateBuilder) (int, error) {
	query, args := u.Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.dbError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.dbError(op, err)
	}
	return int(n), nil
}

// requireJob turns a zero-row update into ErrJobNotFound when the id is unknown.
func (s *SQLStore) requireJob(ctx context.Context, paperID, op string) error {
	j, err := s.GetJob(ctx, paperID)
	if err != nil {
		return err
	}
	s.logger.Warn("store."+op+".skipped", "paper_id", paperID, "status", j.Status)
	return nil
}

func (s *SQLStore) CompleteJob(ctx context.Context, paperID string, qaPassed bool) error {
	n, err := s.exec(ctx, "complete", s.builder().Update(jobsTable).
		Set("status", string(completionStatus(qaPassed))).
		Set("completed_at", s.now().UnixNano()).
		SetNull("worker_id").
		SetNull("error").
		Where(entsql.And(
			entsql.EQ("paper_id", paperID),
			entsql.In("status", string(constants.JobStatusInProgress), string(constants.JobStatusPending)),
		)))
	if err != nil || n > 0 {
		return err
	}
	return s.requireJob(ctx, paperID, "complete")
}

func (s *SQLStore) FailJob(ctx context.Context, paperID, errMsg string, maxAttempts int) error {
	n, err := s.exec(ctx, "fail", s.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("error", errMsg).
		Set("completed_at", s.now().UnixNano()).
		SetNull("worker_id").
		Where(entsql.And(
			entsql.EQ("paper_id", paperID),
			entsql.EQ("status", string(constants.JobStatusInProgress)),
			entsql.GTE("attempts", maxAttempts),
		)))
	if err != nil || n > 0 {
		return err
	}
	n, err = s.exec(ctx, "fail", s.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusPending)).
		Set("error", errMsg).
		SetNull("worker_id").
		SetNull("started_at").
		Where(entsql.And(
			entsql.EQ("paper_id", paperID),
			entsql.EQ("status", string(constants.JobStatusInProgress)),
			entsql.LT("attempts", maxAttempts),
		)))
	if err != nil || n > 0 {
		return err
	}
	return s.requireJob(ctx, paperID, "fail")
}

func (s *SQLStore) ReleaseJob(ctx context.Context, paperID, workerID string) error {
	n, err := s.exec(ctx, "release", s.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusPending)).
		Set("attempts", entsql.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END")).
		SetNull("worker_id").
		SetNull("started_at").
		Where(entsql.And(
			entsql.EQ("paper_id", paperID),
			entsql.EQ("status", string(constants.JobStatusInProgress)),
			entsql.EQ("worker_id", workerID),
		)))
	if err != nil || n > 0 {
		return err
	}
	return s.requireJob(ctx, paperID, "release")
}

func (s *SQLStore) ResetStuckJobs(ctx context.Context, timeout time.Duration, maxAttempts int) (int, error) {
	now := s.now()
	stuck := func() *entsql.Predicate {
		return entsql.And(
			entsql.EQ("status", string(constants.JobStatusInProgress)),
			entsql.Or(entsql.IsNull("started_at"), entsql.LT("started_at", now.Add(-timeout).UnixNano())),
		)
	}
	failed, err := s.exec(ctx, "reset stuck", s.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusFailed)).
		Set("error", entsql.Expr("'stuck in_progress after ' || attempts || ' attempt(s)'")).
		Set("completed_at", now.UnixNano()).
		SetNull("worker_id").
		Where(entsql.And(stuck(), entsql.GTE("attempts", maxAttempts))))
	if err != nil {
		return failed, err
	}
	requeued, err := s.exec(ctx, "reset stuck", s.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusPending)).
		SetNull("worker_id").
		SetNull("started_at").
		Where(entsql.And(stuck(), entsql.LT("attempts", maxAttempts))))
	n := failed + requeued
	if n > 0 {
		s.logger.Info("store.jobs.reset_stuck", "backend", s.backend, "requeued", requeued, "failed", failed, "timeout", timeout)
	}
	return n, err
}

func (s *SQLStore) ResetFailedJobs(ctx context.Context) (int, error) {
	return s.exec(ctx, "reset failed", s.builder().Update(jobsTable).
		Set("status", string(constants.JobStatusPending)).
		Set("attempts", 0).
		SetNull("worker_id").
		SetNull("started_at").
		SetNull("completed_at").
		Where(entsql.EQ("status", string(constants.JobStatusFailed))))
}

func (s *SQLStore) GetStats(ctx context.Context) (entity.Stats, error) {
	var st entity.Stats
	query, args := s.builder().Select("status", entsql.Count("*")).
		From(s.builder().Table(jobsTable)).
		GroupBy("status").
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return st, s.dbError("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return st, s.dbError("stats", err)
		}
		st.Add(constants.JobStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return st, s.dbError("stats", err)
	}
	return st, nil
}

func (s *SQLStore) GetJob(ctx context.Context, paperID string) (*entity.Job, error) {
	query, args := s.builder().Select(jobColumns...).
		From(s.builder().Table(jobsTable)).
		Where(entsql.EQ("paper_id", paperID)).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dbError("get job", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, s.dbError("get job", err)
	}
	if len(jobs) == 0 {
		return nil, ErrJobNotFound
	}
	return &jobs[0], nil
}

func (s *SQLStore) ListJobs(ctx context.Context) ([]entity.Job, error) {
	query, args := s.builder().Select(jobColumns...).
		From(s.builder().Table(jobsTable)).
		OrderBy("created_at", "paper_id").
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dbError("list jobs", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, s.dbError("list jobs", err)
	}
	return jobs, nil
}

func (s *SQLStore) Close() error {
	return Close(s.db, s.pool, s.logger)
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context, timeout time.Duration) error {
	if err := HealthCheck(ctx, s.db, timeout, s.logger); err != nil {
		return s.dbError("ping", err)
	}
	return nil
}

// scanJobs drains and closes rows selected in jobColumns order.
func scanJobs(rows *sql.Rows) ([]entity.Job, error) {
	defer rows.Close()
	var jobs []entity.Job
	for rows.Next() {
		var (
			j                      entity.Job
			status                 string
			createdAt              int64
			workerID, errMsg       sql.NullString
			startedAt, completedAt sql.NullInt64
		)
		if err := rows.Scan(&j.PaperID, &status, &createdAt, &j.Attempts, &workerID, &startedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = constants.JobStatus(status)
		j.CreatedAt = fromNanos(createdAt)
		if workerID.Valid {
			j.WorkerID = strPtr(workerID.String)
		}
		if errMsg.Valid {
			j.Error = strPtr(errMsg.String)
		}
		if startedAt.Valid {
			j.StartedAt = timePtr(fromNanos(startedAt.Int64))
		}
		if completedAt.Valid {
			j.CompletedAt = timePtr(fromNanos(completedAt.Int64))
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
