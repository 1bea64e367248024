// Package pipeline runs one claimed job end to end: load the paper, translate
// it, gate it through QA, persist the record and report back to the store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
	"github.com/joseph-ayodele/paper-translate/internal/metrics"
	"github.com/joseph-ayodele/paper-translate/internal/papers"
	"github.com/joseph-ayodele/paper-translate/internal/qa"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
)

// Translator produces the English record for a paper. *translate.Service
// satisfies it.
type Translator interface {
	TranslateRecord(ctx context.Context, paper entity.Paper, dryRun bool) (entity.TranslationRecord, error)
}

// Outcome is what happened to one job.
type Outcome struct {
	PaperID string
	Status  constants.JobStatus // completed, qa_flagged, or pending/failed after FailJob
	QA      *qa.Result
	Err     error // processing failure, already reported with FailJob
	Elapsed time.Duration
}

// Failed reports whether processing failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Processor coordinates paper loading, translation, QA and persistence.
type Processor struct {
	Logger     *slog.Logger
	Source     papers.Source
	Translator Translator
	Gate       qa.Thresholds
	Sink       papers.Sink
	DryRun     bool
}

func NewProcessor(logger *slog.Logger, src papers.Source, tr Translator, gate qa.Thresholds, sink papers.Sink, dryRun bool) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Source: src, Translator: tr, Gate: gate, Sink: sink, DryRun: dryRun}
}

// Process translates and stores one paper. The returned record is annotated
// with the QA verdict.
func (p *Processor) Process(ctx context.Context, paperID string) (rec entity.TranslationRecord, res qa.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("processor.panic", "paper_id", paperID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic while processing %s: %v", paperID, r)
		}
	}()

	paper, err := p.Source.Load(ctx, paperID)
	if err != nil {
		return rec, res, fmt.Errorf("load paper: %w", err)
	}

	rec, err = p.Translator.TranslateRecord(ctx, paper, p.DryRun)
	if err != nil {
		return rec, res, fmt.Errorf("translate %s: %w", paperID, err)
	}

	res = p.Gate.Check(rec)
	qa.Annotate(&rec, res)
	metrics.QAResults.WithLabelValues(string(res.Status)).Inc()
	if !res.ShouldDisplay() {
		p.Logger.Warn("processor.qa.flagged",
			"paper_id", paperID,
			"status", res.Status,
			"score", res.Score,
			"flagged_fields", res.FlaggedFields,
		)
	}

	if err := p.Sink.Save(ctx, rec); err != nil {
		return rec, res, fmt.Errorf("save record: %w", err)
	}
	return rec, res, nil
}

// Handle processes a claimed job and reports the outcome to store. The
// returned error is only set when the report itself failed; processing
// failures are carried in Outcome.Err.
func (p *Processor) Handle(ctx context.Context, store repository.JobStore, job entity.Job, maxAttempts int) (Outcome, error) {
	ctx = common.WithPaperID(ctx, job.PaperID)
	start := time.Now()
	out := Outcome{PaperID: job.PaperID}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	_, res, err := p.Process(ctx, job.PaperID)
	out.Elapsed = time.Since(start)
	metrics.JobDurationSeconds.Observe(out.Elapsed.Seconds())

	if err != nil {
		out.Err = err
		out.Status = constants.JobStatusPending
		if job.Attempts >= maxAttempts {
			out.Status = constants.JobStatusFailed
		}
		metrics.JobsProcessed.WithLabelValues("failed").Inc()
		p.Logger.Error("processor.job.failed",
			"paper_id", job.PaperID,
			"worker_id", common.WorkerIDFromContext(ctx),
			"attempt", job.Attempts,
			"requeued", out.Status == constants.JobStatusPending,
			"elapsed_ms", out.Elapsed.Milliseconds(),
			"error", err,
		)
		if ferr := store.FailJob(ctx, job.PaperID, err.Error(), maxAttempts); ferr != nil {
			return out, fmt.Errorf("report failure of %s: %w", job.PaperID, ferr)
		}
		return out, nil
	}

	out.QA = &res
	out.Status = constants.JobStatusCompleted
	if !res.ShouldDisplay() {
		out.Status = constants.JobStatusQAFlagged
	}
	metrics.JobsProcessed.WithLabelValues(string(out.Status)).Inc()
	if err := store.CompleteJob(ctx, job.PaperID, res.ShouldDisplay()); err != nil {
		return out, fmt.Errorf("report completion of %s: %w", job.PaperID, err)
	}

	p.Logger.Info("processor.job.ok",
		"paper_id", job.PaperID,
		"worker_id", common.WorkerIDFromContext(ctx),
		"status", out.Status,
		"qa_score", res.Score,
		"elapsed_ms", out.Elapsed.Milliseconds(),
	)
	return out, nil
}
