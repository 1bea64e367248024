package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/paper-translate/internal/metrics"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
	"github.com/joseph-ayodele/paper-translate/internal/retry"
)

// reportingStore retries CompleteJob and FailJob with the worker's store
// retry policy. Every other call goes straight to the wrapped store.
type reportingStore struct {
	repository.JobStore
	retry  retry.Config
	logger *slog.Logger
}

func newReportingStore(store repository.JobStore, rc retry.Config, logger *slog.Logger) *reportingStore {
	rc.Retryable = storeRetryable
	return &reportingStore{JobStore: store, retry: rc, logger: logger}
}

func (s *reportingStore) do(ctx context.Context, op, paperID string, fn func(ctx context.Context) error) error {
	rc := s.retry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.StoreErrors.WithLabelValues(op).Inc()
		s.logger.Warn("worker.report.retry",
			"op", op,
			"paper_id", paperID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
	}
	return retry.Do(ctx, rc, fn)
}

func (s *reportingStore) CompleteJob(ctx context.Context, paperID string, qaPassed bool) error {
	return s.do(ctx, "complete", paperID, func(ctx context.Context) error {
		return s.JobStore.CompleteJob(ctx, paperID, qaPassed)
	})
}

func (s *reportingStore) FailJob(ctx context.Context, paperID, errMsg string, maxAttempts int) error {
	return s.do(ctx, "fail", paperID, func(ctx context.Context) error {
		return s.JobStore.FailJob(ctx, paperID, errMsg, maxAttempts)
	})
}
