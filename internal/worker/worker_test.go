package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
	"github.com/joseph-ayodele/paper-translate/internal/llm"
	"github.com/joseph-ayodele/paper-translate/internal/pipeline"
	"github.com/joseph-ayodele/paper-translate/internal/qa"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
	"github.com/joseph-ayodele/paper-translate/internal/retry"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newStore(t *testing.T, ids ...string) repository.JobStore {
	t.Helper()
	s, err := repository.NewFileStore(filepath.Join(t.TempDir(), "jobs.json"), repository.WithLogger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	if len(ids) > 0 {
		_, err = s.AddJobs(context.Background(), ids, false)
		require.NoError(t, err)
	}
	return s
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%02d", i)
	}
	return out
}

// handlerFunc reports through the store the way the pipeline does.
type handlerFunc func(ctx context.Context, job entity.Job) error

func (f handlerFunc) Handle(ctx context.Context, store repository.JobStore, job entity.Job, maxAttempts int) (pipeline.Outcome, error) {
	out := pipeline.Outcome{PaperID: job.PaperID}
	if err := f(ctx, job); err != nil {
		out.Err = err
		return out, store.FailJob(ctx, job.PaperID, err.Error(), maxAttempts)
	}
	res := qa.Result{Status: constants.QAStatusPass, Score: 1}
	out.QA = &res
	out.Status = constants.JobStatusCompleted
	return out, store.CompleteJob(ctx, job.PaperID, true)
}

func ok(context.Context, entity.Job) error { return nil }

func stats(t *testing.T, s repository.JobStore) entity.Stats {
	t.Helper()
	st, err := s.GetStats(context.Background())
	require.NoError(t, err)
	return st
}

func TestRun_DrainsQueueThenExitsIdle(t *testing.T) {
	store := newStore(t, ids(5)...)
	w := New(Config{WorkerID: "w1", BatchSize: 2, MaxIdlePolls: 2}, store, handlerFunc(ok), quiet())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 5, stats(t, store).Completed)
	assert.Equal(t, Summary{Claimed: 5, Completed: 5}, w.Summary())
}

func TestRun_FailureDoesNotStopLoop(t *testing.T) {
	store := newStore(t, "bad", "good")
	w := New(Config{WorkerID: "w1", MaxAttempts: 1}, store, handlerFunc(func(_ context.Context, job entity.Job) error {
		if job.PaperID == "bad" {
			return errors.New("parity violated")
		}
		return nil
	}), quiet())

	require.NoError(t, w.Run(context.Background()))
	st := stats(t, store)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Completed)

	bad, err := store.GetJob(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, "parity violated", bad.LastError())
}

func TestRun_RetriesFailedJobUntilExhausted(t *testing.T) {
	store := newStore(t, "flaky")
	var calls atomic.Int32
	w := New(Config{WorkerID: "w1", MaxAttempts: 3}, store, handlerFunc(func(context.Context, entity.Job) error {
		calls.Add(1)
		return errors.New("upstream 503")
	}), quiet())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
	job, err := store.GetJob(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
}

func TestRun_FatalErrorStopsAndReleasesRest(t *testing.T) {
	store := newStore(t, ids(3)...)
	fatal := &llm.APIError{Status: 402, Code: "insufficient_balance", Classification: llm.Fatal}
	w := New(Config{WorkerID: "w1", BatchSize: 3}, store, handlerFunc(func(_ context.Context, job entity.Job) error {
		if job.PaperID == "p01" {
			return fatal
		}
		return nil
	}), quiet())

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
	assert.True(t, llm.IsFatal(err))

	st := stats(t, store)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 2, st.Pending, "failed job requeued and the unstarted one released")
	assert.Equal(t, 0, st.InProgress)

	released, err := store.GetJob(context.Background(), "p02")
	require.NoError(t, err)
	assert.Equal(t, 0, released.Attempts)
	assert.Nil(t, released.WorkerID)
	assert.Equal(t, 1, w.Summary().Released)
}

func TestRun_ReleasedJobOnLastAttemptIsProcessedLater(t *testing.T) {
	store := newStore(t, ids(2)...)
	fatal := &llm.APIError{Status: 401, Code: "invalid_api_key", Classification: llm.Fatal}
	w1 := New(Config{WorkerID: "w1", BatchSize: 2, MaxAttempts: 1}, store, handlerFunc(func(_ context.Context, job entity.Job) error {
		if job.PaperID == "p00" {
			return fatal
		}
		return nil
	}), quiet())
	require.ErrorIs(t, w1.Run(context.Background()), ErrFatalAPI)

	_, err := store.ResetFailedJobs(context.Background())
	require.NoError(t, err)

	w2 := New(Config{WorkerID: "w2", BatchSize: 2, MaxAttempts: 1}, store, handlerFunc(ok), quiet())
	require.NoError(t, w2.Run(context.Background()))
	assert.Equal(t, Summary{Claimed: 2, Completed: 2}, w2.Summary())
	assert.Equal(t, entity.Stats{Total: 2, Completed: 2}, stats(t, store))
}

// lockedOnceStore fails the first report of each kind with a lock timeout.
type lockedOnceStore struct {
	repository.JobStore
	completes atomic.Int32
	fails     atomic.Int32
}

func (s *lockedOnceStore) CompleteJob(ctx context.Context, paperID string, qaPassed bool) error {
	if s.completes.Add(1) == 1 {
		return common.NewAppError("STORE_LOCKED", "acquire lock", common.ErrUnavailable)
	}
	return s.JobStore.CompleteJob(ctx, paperID, qaPassed)
}

func (s *lockedOnceStore) FailJob(ctx context.Context, paperID, errMsg string, maxAttempts int) error {
	if s.fails.Add(1) == 1 {
		return common.NewAppError("STORE_LOCKED", "acquire lock", common.ErrUnavailable)
	}
	return s.JobStore.FailJob(ctx, paperID, errMsg, maxAttempts)
}

func TestRun_TransientReportErrorsAreRetried(t *testing.T) {
	store := &lockedOnceStore{JobStore: newStore(t, "bad", "good")}
	w := New(Config{
		WorkerID:    "w1",
		MaxAttempts: 1,
		StoreRetry:  retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, store, handlerFunc(func(_ context.Context, job entity.Job) error {
		if job.PaperID == "bad" {
			return errors.New("parity violated")
		}
		return nil
	}), quiet())

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, entity.Stats{Total: 2, Completed: 1, Failed: 1}, stats(t, store))
	assert.Equal(t, int32(2), store.completes.Load())
	assert.Equal(t, int32(2), store.fails.Load())
}

func TestRun_UnknownJobReportIsNotRetried(t *testing.T) {
	assert.False(t, storeRetryable(repository.ErrJobNotFound))
}

func TestRun_StopSignalFinishesCurrentJob(t *testing.T) {
	store := newStore(t, ids(3)...)
	ctx, cancel := context.WithCancel(context.Background())
	w := New(Config{WorkerID: "w1", BatchSize: 3}, store, handlerFunc(func(jctx context.Context, job entity.Job) error {
		if job.PaperID == "p00" {
			cancel()
			time.Sleep(10 * time.Millisecond)
			if jctx.Err() != nil {
				return jctx.Err()
			}
		}
		return nil
	}), quiet())

	require.NoError(t, w.Run(ctx))
	st := stats(t, store)
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, 2, st.Pending)
	assert.Equal(t, 0, st.InProgress)
}

type flakyStore struct {
	repository.JobStore
	claims atomic.Int32
}

func (s *flakyStore) ClaimBatch(context.Context, string, int, int) ([]entity.Job, error) {
	s.claims.Add(1)
	return nil, errors.New("database is locked")
}

func TestRun_ExitsAfterConsecutiveStoreErrors(t *testing.T) {
	store := &flakyStore{JobStore: newStore(t)}
	w := New(Config{
		WorkerID:       "w1",
		MaxStoreErrors: 2,
		StoreRetry:     retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond},
	}, store, handlerFunc(ok), quiet())

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, int32(4), store.claims.Load(), "two cycles of two attempts")
}

func TestRun_CorruptStoreIsNotRetried(t *testing.T) {
	assert.False(t, storeRetryable(fmt.Errorf("load: %w", repository.ErrStoreCorrupt)))
	assert.False(t, storeRetryable(context.Canceled))
	assert.True(t, storeRetryable(errors.New("database is locked")))
}

func TestRun_ConcurrentWorkersNeverShareAJob(t *testing.T) {
	store := newStore(t, ids(30)...)
	var mu sync.Mutex
	seen := map[string]int{}
	h := handlerFunc(func(_ context.Context, job entity.Job) error {
		mu.Lock()
		seen[job.PaperID]++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := New(Config{WorkerID: fmt.Sprintf("w%d", i), BatchSize: 2, Concurrency: 2}, store, h, quiet())
			assert.NoError(t, w.Run(context.Background()))
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 30)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	assert.Equal(t, 30, stats(t, store).Completed)
}

func TestNewWorkerID(t *testing.T) {
	a, b := NewWorkerID(), NewWorkerID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^worker-[0-9a-f]{8}$`, a)

	w := New(Config{}, newStore(t), handlerFunc(ok), quiet())
	assert.NotEmpty(t, w.ID())
}
