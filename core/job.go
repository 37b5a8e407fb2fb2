package core

import (
	"time"

	"github.com/google/uuid"
)

// BatchJobStatus represents the lifecycle state of a batch submission job
type BatchJobStatus string

const (
	// JobPending indicates the job has been accepted but not started
	JobPending BatchJobStatus = "PENDING"
	// JobProcessing indicates the worker is processing items
	JobProcessing BatchJobStatus = "PROCESSING"
	// JobCompleted indicates every item has been attempted
	JobCompleted BatchJobStatus = "COMPLETED"
	// JobFailed indicates the job's own control logic failed
	JobFailed BatchJobStatus = "FAILED"
)

// IsTerminal reports whether the status is final.
func (s BatchJobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// BatchItemResult is the per-item outcome appended to a job as the
// worker progresses. An item failure is recorded here and never aborts
// the job.
type BatchItemResult struct {
	ThreatID       string   `json:"threat_id,omitempty"`
	SourceIP       string   `json:"source_ip"`
	Severity       Severity `json:"severity,omitempty"`
	Confidence     float64  `json:"confidence,omitempty"`
	Techniques     []string `json:"techniques,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
	Delivered      bool     `json:"delivered"`
	Error          string   `json:"error,omitempty"`
}

// BatchJob tracks the lifecycle of one bulk submission request.
// Completed only ever increases; a concurrent status query sees a
// monotonically advancing snapshot.
type BatchJob struct {
	JobID     string            `json:"job_id"`
	Status    BatchJobStatus    `json:"status"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	Results   []BatchItemResult `json:"results"`
	StartTime time.Time         `json:"start_time"`
	EndTime   *time.Time        `json:"end_time,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// NewBatchJob creates a job in the PENDING state for the given item count.
func NewBatchJob(total int) *BatchJob {
	return &BatchJob{
		JobID:     uuid.New().String(),
		Status:    JobPending,
		Total:     total,
		Results:   make([]BatchItemResult, 0, total),
		StartTime: time.Now().UTC(),
	}
}

// Recommendation returns the operator guidance for a severity level.
func Recommendation(severity Severity) string {
	switch severity {
	case SeverityHigh:
		return "Immediate action required. Isolate affected systems and investigate."
	case SeverityMedium:
		return "Investigate promptly. Implement additional monitoring and controls."
	case SeverityLow:
		return "Monitor the situation. No immediate action required."
	case SeverityNormal:
		return "No action required. Part of normal operations."
	default:
		return "Unable to assess severity. Manual investigation recommended."
	}
}
