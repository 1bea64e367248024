package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/paper-translate/constants"
	"github.com/joseph-ayodele/paper-translate/internal/common"
	"github.com/joseph-ayodele/paper-translate/internal/entity"
	"github.com/joseph-ayodele/paper-translate/internal/repository"
	"github.com/joseph-ayodele/paper-translate/internal/utils"
)

// RecordReader loads a persisted translation record. *papers.DirSink
// satisfies it.
type RecordReader interface {
	Load(paperID string) (entity.TranslationRecord, error)
}

// Service produces XLSX reports of the queue and the QA verdicts.
type Service struct {
	store   repository.JobStore
	records RecordReader
	logger  *slog.Logger
}

func NewService(store repository.JobStore, records RecordReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, records: records, logger: logger}
}

const (
	jobsSheet    = "Jobs"
	summarySheet = "Summary"
)

var jobHeaders = []string{
	"Paper ID",
	"Status",
	"Attempts",
	"Worker",
	"Created At",
	"Started At",
	"Completed At",
	"Last Error",
	"QA Status",
	"QA Score",
	"QA Issues",
	"Flagged Fields",
}

// ExportXLSX returns a workbook with one row per job, filtered to statuses
// when any are given, and a summary sheet of counts per status. QA columns
// are filled for jobs whose record has been written.
func (s *Service) ExportXLSX(ctx context.Context, statuses ...constants.JobStatus) ([]byte, error) {
	start := time.Now()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	for i, h := range jobHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(jobsSheet, cell, h)
	}

	row := 2
	for _, j := range jobs {
		if len(statuses) > 0 && !slices.Contains(statuses, j.Status) {
			continue
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(jobsSheet, cell, v)
		}

		write(1, j.PaperID)
		write(2, string(j.Status))
		write(3, j.Attempts)
		write(4, utils.StrOrEmpty(j.WorkerID))
		write(5, utils.FormatTime(&j.CreatedAt))
		write(6, utils.FormatTime(j.StartedAt))
		write(7, utils.FormatTime(j.CompletedAt))
		write(8, truncate(j.LastError(), 200))

		if s.records != nil && (j.Status == constants.JobStatusCompleted || j.Status == constants.JobStatusQAFlagged) {
			rec, err := s.records.Load(j.PaperID)
			switch {
			case err == nil:
				if rec.QAStatus != nil {
					write(9, *rec.QAStatus)
				}
				if rec.QAScore != nil {
					write(10, *rec.QAScore)
				}
				write(11, strings.Join(rec.QAIssues, "; "))
				write(12, strings.Join(rec.QAFlaggedFields, ", "))
			case errors.Is(err, common.ErrNotFound):
				write(9, "missing record")
			default:
				s.logger.Warn("export.record.unreadable", "paper_id", j.PaperID, "error", err)
				write(9, "unreadable record")
			}
		}
		row++
	}

	_ = f.SetColWidth(jobsSheet, "A", "A", 28) // paper id
	_ = f.SetColWidth(jobsSheet, "B", "D", 14)
	_ = f.SetColWidth(jobsSheet, "E", "G", 22) // timestamps
	_ = f.SetColWidth(jobsSheet, "H", "H", 60) // error
	_ = f.SetColWidth(jobsSheet, "I", "J", 14)
	_ = f.SetColWidth(jobsSheet, "K", "L", 48)
	_ = f.SetPanes(jobsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	summary := [][]any{
		{"Status", "Jobs"},
		{string(constants.JobStatusPending), stats.Pending},
		{string(constants.JobStatusInProgress), stats.InProgress},
		{string(constants.JobStatusCompleted), stats.Completed},
		{string(constants.JobStatusFailed), stats.Failed},
		{string(constants.JobStatusQAFlagged), stats.QAFlagged},
		{"total", stats.Total},
	}
	for i, r := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(summarySheet, cell, &r)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", row-2,
		"total_jobs", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
