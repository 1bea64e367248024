package entity

import (
	"time"

	"github.com/joseph-ayodele/paper-translate/constants"
)

// Job is one paper's translation task as tracked by the job store.
type Job struct {
	PaperID     string              `json:"paper_id"`
	Status      constants.JobStatus `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	Attempts    int                 `json:"attempts"`
	WorkerID    *string             `json:"worker_id"`
	StartedAt   *time.Time          `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at"`
	Error       *string             `json:"error"`
}

// NewJob returns a fresh pending job.
func NewJob(paperID string, now time.Time) Job {
	return Job{
		PaperID:   paperID,
		Status:    constants.JobStatusPending,
		CreatedAt: now,
	}
}

// Claimable reports whether a worker may take the job.
func (j Job) Claimable(maxAttempts int) bool {
	return j.Status == constants.JobStatusPending && j.Attempts < maxAttempts
}

// Owner returns the worker id or "" when unowned.
func (j Job) Owner() string {
	if j.WorkerID == nil {
		return ""
	}
	return *j.WorkerID
}

// LastError returns the last failure reason or "".
func (j Job) LastError() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// Stats is a per-status count over the whole store.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	QAFlagged  int `json:"qa_flagged"`
}

// Add counts n jobs with the given status.
func (s *Stats) Add(status constants.JobStatus, n int) {
	s.Total += n
	switch status {
	case constants.JobStatusPending:
		s.Pending += n
	case constants.JobStatusInProgress:
		s.InProgress += n
	case constants.JobStatusCompleted:
		s.Completed += n
	case constants.JobStatusFailed:
		s.Failed += n
	case constants.JobStatusQAFlagged:
		s.QAFlagged += n
	}
}
