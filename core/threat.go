package core

import (
	"time"

	"github.com/google/uuid"
)

// Severity represents the assessed severity level of a threat record
type Severity string

const (
	// SeverityNormal indicates benign / expected traffic
	SeverityNormal Severity = "NORMAL"
	// SeverityLow indicates low-risk activity worth recording
	SeverityLow Severity = "LOW"
	// SeverityMedium indicates activity that should be investigated
	SeverityMedium Severity = "MEDIUM"
	// SeverityHigh indicates activity requiring immediate attention
	SeverityHigh Severity = "HIGH"
	// SeverityUnknown indicates the severity could not be assessed
	SeverityUnknown Severity = "UNKNOWN"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityNormal, SeverityLow, SeverityMedium, SeverityHigh, SeverityUnknown:
		return true
	default:
		return false
	}
}

// ParsedAlert is the structured form of one sensor alert block.
// Fields other than the IPs may be empty when the block is malformed;
// a missing source or destination IP makes the alert non-viable.
type ParsedAlert struct {
	Timestamp      string `json:"timestamp"` // sensor-local format, MM/DD-HH:MM:SS.ssssss
	SignatureID    string `json:"signature_id"`
	SignatureRev   string `json:"signature_rev"`
	SignatureName  string `json:"signature_name"`
	Classification string `json:"classification"`
	Priority       int    `json:"priority"`
	SourceIP       string `json:"source_ip"`
	SourcePort     int    `json:"source_port"`
	DestIP         string `json:"dest_ip"`
	DestPort       int    `json:"dest_port"`
	Protocol       string `json:"protocol"`
}

// Viable reports whether the alert carries enough information to become
// a threat record. Alerts without both endpoint IPs are dropped.
func (a *ParsedAlert) Viable() bool {
	return a != nil && a.SourceIP != "" && a.DestIP != ""
}

// Assessment is the output of a severity classifier: severity, a 0-1
// confidence score, and any identified attack technique tags. Technique
// order is insertion order and is meaningful for display.
type Assessment struct {
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	Techniques []string `json:"techniques"`
}

// ThreatRecord is the canonical unit flowing through the pipeline.
// It is created by the record builder, persisted by storage, and mutated
// by the delivery engine (submitted flag, submission time, retry count).
type ThreatRecord struct {
	ID             string                 `json:"id"`
	SourceIP       string                 `json:"source_ip"`
	DestinationIP  string                 `json:"destination_ip"`
	Protocol       string                 `json:"protocol"`
	Behavior       string                 `json:"behavior"`
	Timestamp      string                 `json:"timestamp"`
	Severity       Severity               `json:"severity"`
	Confidence     float64                `json:"confidence"`
	Techniques     []string               `json:"techniques"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
	Anomaly        bool                   `json:"anomaly"`
	CreationTime   time.Time              `json:"creation_time"`
	Submitted      bool                   `json:"submitted"`
	SubmissionTime *time.Time             `json:"submission_time,omitempty"`
	APIResponse    string                 `json:"api_response,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	Failed         bool                   `json:"failed"`
}

// SubmissionAttempt is one row of the append-only delivery ledger.
// Rows are never mutated after insert. ErrorMessage is set on failed
// attempts only; the sink's success payload lives on the record itself.
type SubmissionAttempt struct {
	ThreatID     string    `json:"threat_id"`
	AttemptTime  time.Time `json:"attempt_time"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// NewThreatID generates a globally unique record identifier.
// Content-free on purpose so re-ingestion with a caller-supplied id can
// rely on upsert semantics instead of collision handling.
func NewThreatID() string {
	return uuid.New().String()
}

// NewThreatRecord builds a canonical record from a parsed alert and its
// classification results. Pure construction, no side effects. When id is
// empty a fresh one is generated; a caller-supplied id is preserved so the
// store's upsert-by-id applies on re-ingestion.
func NewThreatRecord(id string, alert *ParsedAlert, behavior string, assessment Assessment) *ThreatRecord {
	if id == "" {
		id = NewThreatID()
	}

	additional := map[string]interface{}{
		"signature_id":     alert.SignatureID,
		"signature_name":   alert.SignatureName,
		"classification":   alert.Classification,
		"priority":         alert.Priority,
		"source_port":      alert.SourcePort,
		"destination_port": alert.DestPort,
	}

	return &ThreatRecord{
		ID:             id,
		SourceIP:       alert.SourceIP,
		DestinationIP:  alert.DestIP,
		Protocol:       alert.Protocol,
		Behavior:       behavior,
		Timestamp:      alert.Timestamp,
		Severity:       assessment.Severity,
		Confidence:     assessment.Confidence,
		Techniques:     assessment.Techniques,
		AdditionalData: additional,
		Anomaly:        assessment.Severity == SeverityHigh,
		CreationTime:   time.Now().UTC(),
	}
}

// StoreStats holds aggregate counters derived from the persistent store.
// The 24-hour submission tallies come from the attempt ledger, not the
// records table, so history survives a record's later success.
type StoreStats struct {
	TotalThreats     int            `json:"total_threats"`
	SubmittedThreats int            `json:"submitted_threats"`
	PendingThreats   int            `json:"pending_threats"`
	FailedThreats    int            `json:"failed_threats"`
	BehaviorCounts   map[string]int `json:"behavior_counts"`
	RecentSuccess    int            `json:"recent_success"`
	RecentFailure    int            `json:"recent_failure"`
}
