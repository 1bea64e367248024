package constants

// JobStatus is the canonical status for rows in the job store.
type JobStatus string

// Stable values (store these exact strings).
const (
	JobStatusPending    JobStatus = "pending"     // waiting for a worker
	JobStatusInProgress JobStatus = "in_progress" // owned by exactly one worker
	JobStatusCompleted  JobStatus = "completed"   // translated and passed QA
	JobStatusFailed     JobStatus = "failed"      // attempts exhausted
	JobStatusQAFlagged  JobStatus = "qa_flagged"  // translated, held back for review
)

// JobStatuses lists every status in display order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusInProgress,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusQAFlagged,
}

// IsTerminal reports whether the status only changes through a manual reset.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusQAFlagged
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range JobStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// QAStatus is the verdict the QA gate attaches to a translation record.
type QAStatus string

const (
	QAStatusPass           QAStatus = "pass"
	QAStatusFlagChinese    QAStatus = "flag_chinese"
	QAStatusFlagFormatting QAStatus = "flag_formatting"
)
