package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
)

// jobDocument is the on-disk shape of the file backend.
type jobDocument struct {
	Jobs     []entity.Job     `json:"jobs"`
	Metadata documentMetadata `json:"metadata"`
}

type documentMetadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

func (d *jobDocument) find(paperID string) *entity.Job {
	for i := range d.Jobs {
		if d.Jobs[i].PaperID == paperID {
			return &d.Jobs[i]
		}
	}
	return nil
}

// FileStore keeps the whole queue in one JSON document. Every operation holds
// an advisory lock on a sibling .lock file for one read-modify-write cycle, and
// writes replace the document with a rename so readers never see a partial file.
type FileStore struct {
	path   string
	lock   *flock.Flock
	mu     sync.Mutex
	now    func() time.Time
	wait   time.Duration
	logger *slog.Logger
}

// NewFileStore opens (without creating) the queue document at path.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	if path == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "file store path is required", common.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, common.NewAppError("STORE_ERROR", "create store directory", err)
	}
	o := buildOptions(opts)
	return &FileStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		now:    o.now,
		wait:   o.lockTimeout,
		logger: o.logger,
	}, nil
}

// withLock runs fn holding both the in-process mutex and the file lock.
// flock locks are per open file description, so goroutines of one process
// would otherwise share the lock.
func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = s.lock.TryLockContext(lockCtx, 25*time.Millisecond)
	} else {
		ok, err = s.lock.TryRLockContext(lockCtx, 25*time.Millisecond)
	}
	if err != nil || !ok {
		s.logger.Warn("store.lock.timeout", "path", s.path, "wait", s.wait, "error", err)
		return common.NewAppError("STORE_LOCKED", "acquire lock on "+s.path, errors.Join(common.ErrUnavailable, err))
	}
	defer func() {
		if uerr := s.lock.Unlock(); uerr != nil {
			s.logger.Warn("store.unlock.failed", "path", s.path, "error", uerr)
		}
	}()
	return fn()
}

func (s *FileStore) load() (*jobDocument, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		now := s.now()
		return &jobDocument{Jobs: []entity.Job{}, Metadata: documentMetadata{CreatedAt: now, LastUpdated: now}}, nil
	}
	if err != nil {
		return nil, common.NewAppError("STORE_ERROR", "read "+s.path, errors.Join(common.ErrUnavailable, err))
	}
	if len(bytes.TrimSpace(b)) == 0 {
		now := s.now()
		return &jobDocument{Jobs: []entity.Job{}, Metadata: documentMetadata{CreatedAt: now, LastUpdated: now}}, nil
	}
	var doc jobDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		s.logger.Error("store.file.corrupt", "path", s.path, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
	}
	for _, j := range doc.Jobs {
		if !j.Status.Valid() {
			return nil, fmt.Errorf("%w: %s: job %q has status %q", ErrStoreCorrupt, s.path, j.PaperID, j.Status)
		}
	}
	if doc.Jobs == nil {
		doc.Jobs = []entity.Job{}
	}
	return &doc, nil
}

// save writes doc to a temp file in the same directory, fsyncs it and renames
// it over the original.
func (s *FileStore) save(doc *jobDocument) error {
	doc.Metadata.LastUpdated = s.now()
	if doc.Metadata.CreatedAt.IsZero() {
		doc.Metadata.CreatedAt = doc.Metadata.LastUpdated
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := renameio.WriteFile(s.path, b, 0o644); err != nil {
		return common.NewAppError("STORE_ERROR", "replace "+s.path, err)
	}
	return nil
}

// update is one locked read-modify-write cycle. fn reports whether it changed
// the document; unchanged documents are not rewritten.
func (s *FileStore) update(ctx context.Context, fn func(doc *jobDocument, now time.Time) (bool, error)) error {
	return s.withLock(ctx, true, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		changed, err := fn(doc, s.now())
		if err != nil || !changed {
			return err
		}
		return s.save(doc)
	})
}

func (s *FileStore) view(ctx context.Context, fn func(doc *jobDocument) error) error {
	return s.withLock(ctx, false, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		return fn(doc)
	})
}

func (s *FileStore) AddJobs(ctx context.Context, paperIDs []string, force bool) (int, error) {
	ids := cleanIDs(paperIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	var added int
	err := s.update(ctx, func(doc *jobDocument, now time.Time) (bool, error) {
		for _, id := range ids {
			if existing := doc.find(id); existing != nil {
				if !force {
					continue
				}
				*existing = entity.NewJob(id, now)
				added++
				continue
			}
			doc.Jobs = append(doc.Jobs, entity.NewJob(id, now))
			added++
		}
		return added > 0, nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("store.jobs.added", "backend", constants.BackendFile, "requested", len(ids), "added", added, "force", force)
	return added, nil
}

func (s *FileStore) ClaimBatch(ctx context.Context, workerID string, batchSize, maxAttempts int) ([]entity.Job, error) {
	if err := validateClaim(workerID, batchSize, maxAttempts); err != nil {
		return nil, err
	}
	var claimed []entity.Job
	err := s.update(ctx, func(doc *jobDocument, now time.Time) (bool, error) {
		// oldest first, matching the SQL backend's ORDER BY created_at, paper_id
		order := make([]int, 0, len(doc.Jobs))
		for i := range doc.Jobs {
			if doc.Jobs[i].Claimable(maxAttempts) {
				order = append(order, i)
			}
		}
		sort.SliceStable(order, func(a, b int) bool {
			ja, jb := doc.Jobs[order[a]], doc.Jobs[order[b]]
			if !ja.CreatedAt.Equal(jb.CreatedAt) {
				return ja.CreatedAt.Before(jb.CreatedAt)
			}
			return ja.PaperID < jb.PaperID
		})
		for _, i := range order {
			if len(claimed) == batchSize {
				break
			}
			j := &doc.Jobs[i]
			j.Status = constants.JobStatusInProgress
			j.WorkerID = strPtr(workerID)
			j.Attempts++
			j.StartedAt = timePtr(now)
			j.CompletedAt = nil
			claimed = append(claimed, *j)
		}
		return len(claimed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		s.logger.Debug("store.jobs.claimed", "worker_id", workerID, "count", len(claimed))
	}
	return claimed, nil
}

func (s *FileStore) ClaimJob(ctx context.Context, workerID string, maxAttempts int) (*entity.Job, error) {
	jobs, err := s.ClaimBatch(ctx, workerID, 1, maxAttempts)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

func (s *FileStore) CompleteJob(ctx context.Context, paperID string, qaPassed bool) error {
	return s.update(ctx, func(doc *jobDocument, now time.Time) (bool, error) {
		j := doc.find(paperID)
		if j == nil {
			return false, ErrJobNotFound
		}
		if !completable(j.Status) {
			s.logger.Warn("store.complete.skipped", "paper_id", paperID, "status", j.Status)
			return false, nil
		}
		j.Status = completionStatus(qaPassed)
		j.CompletedAt = timePtr(now)
		j.WorkerID = nil
		j.Error = nil
		return true, nil
	})
}

func (s *FileStore) FailJob(ctx context.Context, paperID, errMsg string, maxAttempts int) error {
	return s.update(ctx, func(doc *jobDocument, now time.Time) (bool, error) {
		j := doc.find(paperID)
		if j == nil {
			return false, ErrJobNotFound
		}
		if j.Status != constants.JobStatusInProgress {
			s.logger.Warn("store.fail.skipped", "paper_id", paperID, "status", j.Status)
			return false, nil
		}
		j.Error = strPtr(errMsg)
		j.WorkerID = nil
		if j.Attempts >= maxAttempts {
			j.Status = constants.JobStatusFailed
			j.CompletedAt = timePtr(now)
			return true, nil
		}
		j.Status = constants.JobStatusPending
		j.StartedAt = nil
		return true, nil
	})
}

func (s *FileStore) ReleaseJob(ctx context.Context, paperID, workerID string) error {
	return s.update(ctx, func(doc *jobDocument, _ time.Time) (bool, error) {
		j := doc.find(paperID)
		if j == nil {
			return false, ErrJobNotFound
		}
		if j.Status != constants.JobStatusInProgress || j.Owner() != workerID {
			return false, nil
		}
		j.Status = constants.JobStatusPending
		j.Attempts = max(j.Attempts-1, 0)
		j.WorkerID = nil
		j.StartedAt = nil
		return true, nil
	})
}

func (s *FileStore) ResetStuckJobs(ctx context.Context, timeout time.Duration, maxAttempts int) (int, error) {
	var n int
	err := s.update(ctx, func(doc *jobDocument, now time.Time) (bool, error) {
		cutoff := now.Add(-timeout)
		for i := range doc.Jobs {
			j := &doc.Jobs[i]
			if j.Status != constants.JobStatusInProgress {
				continue
			}
			if j.StartedAt != nil && !j.StartedAt.Before(cutoff) {
				continue
			}
			s.logger.Info("store.job.reset_stuck", "paper_id", j.PaperID, "worker_id", j.Owner(), "attempts", j.Attempts)
			j.WorkerID = nil
			n++
			if j.Attempts >= maxAttempts {
				j.Status = constants.JobStatusFailed
				j.Error = strPtr(stuckError(j.Attempts))
				j.CompletedAt = timePtr(now)
				continue
			}
			j.Status = constants.JobStatusPending
			j.StartedAt = nil
		}
		return n > 0, nil
	})
	return n, err
}

func (s *FileStore) ResetFailedJobs(ctx context.Context) (int, error) {
	var n int
	err := s.update(ctx, func(doc *jobDocument, _ time.Time) (bool, error) {
		for i := range doc.Jobs {
			j := &doc.Jobs[i]
			if j.Status != constants.JobStatusFailed {
				continue
			}
			j.Status = constants.JobStatusPending
			j.Attempts = 0
			j.WorkerID = nil
			j.StartedAt = nil
			j.CompletedAt = nil
			n++
		}
		return n > 0, nil
	})
	return n, err
}

func (s *FileStore) GetStats(ctx context.Context) (entity.Stats, error) {
	var st entity.Stats
	err := s.view(ctx, func(doc *jobDocument) error {
		for _, j := range doc.Jobs {
			st.Add(j.Status, 1)
		}
		return nil
	})
	return st, err
}

func (s *FileStore) GetJob(ctx context.Context, paperID string) (*entity.Job, error) {
	var out *entity.Job
	err := s.view(ctx, func(doc *jobDocument) error {
		j := doc.find(paperID)
		if j == nil {
			return ErrJobNotFound
		}
		cp := *j
		out = &cp
		return nil
	})
	return out, err
}

func (s *FileStore) ListJobs(ctx context.Context) ([]entity.Job, error) {
	var out []entity.Job
	err := s.view(ctx, func(doc *jobDocument) error {
		out = append([]entity.Job(nil), doc.Jobs...)
		return nil
	})
	return out, err
}

func (s *FileStore) Close() error {
	return s.lock.Close()
}

// Ping checks that the queue file can be locked and decoded.
func (s *FileStore) Ping(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.view(ctx, func(*jobDocument) error { return nil })
}

// completable reports whether CompleteJob may move a job in this status. A
// pending job can be completed by a worker whose claim was reset underneath it.
func completable(st constants.JobStatus) bool {
	return st == constants.JobStatusInProgress || st == constants.JobStatusPending
}

func completionStatus(qaPassed bool) constants.JobStatus {
	if qaPassed {
		return constants.JobStatusCompleted
	}
	return constants.JobStatusQAFlagged
}
