package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
)

// ErrNotFound is returned when a threat record does not exist.
var ErrNotFound = errors.New("threat record not found")

// ThreatStore persists threat records and the submission ledger.
// Writes to the same record id are serialized through a per-id lock so
// a delivery status update cannot interleave with a re-ingestion upsert.
type ThreatStore struct {
	db     *SQLite
	logger *zap.SugaredLogger

	mu      sync.Mutex
	idLocks map[string]*sync.Mutex
}

// NewThreatStore opens the database at path and returns a store.
func NewThreatStore(path string, logger *zap.SugaredLogger) (*ThreatStore, error) {
	db, err := NewSQLite(path, logger)
	if err != nil {
		return nil, err
	}
	return &ThreatStore{
		db:      db,
		logger:  logger,
		idLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Close closes the underlying database.
func (ts *ThreatStore) Close() error {
	return ts.db.Close()
}

func (ts *ThreatStore) lockID(id string) *sync.Mutex {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	lock, ok := ts.idLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		ts.idLocks[id] = lock
	}
	return lock
}

const upsertSQL = `
INSERT INTO threats (
	id, source_ip, destination_ip, protocol, behavior, timestamp,
	severity, confidence, techniques, additional_data, anomaly,
	creation_time, submitted, submission_time, api_response, retry_count, failed
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source_ip = excluded.source_ip,
	destination_ip = excluded.destination_ip,
	protocol = excluded.protocol,
	behavior = excluded.behavior,
	timestamp = excluded.timestamp,
	severity = excluded.severity,
	confidence = excluded.confidence,
	techniques = excluded.techniques,
	additional_data = excluded.additional_data,
	anomaly = excluded.anomaly,
	submitted = excluded.submitted,
	submission_time = excluded.submission_time,
	api_response = excluded.api_response,
	retry_count = excluded.retry_count,
	failed = excluded.failed`

// Upsert inserts a record or replaces an existing one with the same id.
// The original creation_time is preserved on replacement so retry
// ordering stays stable across re-ingestion.
func (ts *ThreatStore) Upsert(record *core.ThreatRecord) error {
	lock := ts.lockID(record.ID)
	lock.Lock()
	defer lock.Unlock()

	return ts.db.WithTransaction(func(tx *sql.Tx) error {
		return upsertInTx(tx, record)
	})
}

// UpsertBatch persists a batch of records in one transaction. Either
// all records land or none do.
func (ts *ThreatStore) UpsertBatch(records []*core.ThreatRecord) error {
	if len(records) == 0 {
		return nil
	}
	return ts.db.WithTransaction(func(tx *sql.Tx) error {
		for _, record := range records {
			if err := upsertInTx(tx, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertInTx(tx *sql.Tx, record *core.ThreatRecord) error {
	techniques, err := json.Marshal(record.Techniques)
	if err != nil {
		return fmt.Errorf("failed to encode techniques: %w", err)
	}
	additional, err := json.Marshal(record.AdditionalData)
	if err != nil {
		return fmt.Errorf("failed to encode additional data: %w", err)
	}

	var submissionTime interface{}
	if record.SubmissionTime != nil {
		submissionTime = record.SubmissionTime.UTC()
	}

	_, err = tx.Exec(upsertSQL,
		record.ID, record.SourceIP, record.DestinationIP, record.Protocol,
		record.Behavior, record.Timestamp, string(record.Severity),
		record.Confidence, string(techniques), string(additional),
		boolToInt(record.Anomaly), record.CreationTime.UTC(),
		boolToInt(record.Submitted), submissionTime, record.APIResponse,
		record.RetryCount, boolToInt(record.Failed))
	if err != nil {
		metrics.StoreErrors.WithLabelValues("upsert").Inc()
		return fmt.Errorf("failed to upsert threat %s: %w", record.ID, err)
	}
	return nil
}

const selectColumns = `
	id, source_ip, destination_ip, protocol, behavior, timestamp,
	severity, confidence, techniques, additional_data, anomaly,
	creation_time, submitted, submission_time, api_response, retry_count, failed`

// Get fetches one record by id, or ErrNotFound.
func (ts *ThreatStore) Get(id string) (*core.ThreatRecord, error) {
	row := ts.db.ReadDB.QueryRow(
		fmt.Sprintf("SELECT %s FROM threats WHERE id = ?", selectColumns), id)
	record, err := scanThreat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// ListUnsent returns undelivered records that have not been marked
// permanently failed, oldest first.
func (ts *ThreatStore) ListUnsent(limit int) ([]*core.ThreatRecord, error) {
	rows, err := ts.db.ReadDB.Query(
		fmt.Sprintf(`SELECT %s FROM threats
			WHERE submitted = 0 AND failed = 0
			ORDER BY creation_time ASC LIMIT ?`, selectColumns), limit)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_unsent").Inc()
		return nil, fmt.Errorf("failed to query unsent threats: %w", err)
	}
	defer rows.Close()

	var records []*core.ThreatRecord
	for rows.Next() {
		record, err := scanThreat(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanThreat(row rowScanner) (*core.ThreatRecord, error) {
	var record core.ThreatRecord
	var severity, techniques, additional string
	var anomaly, submitted, failed int
	var submissionTime sql.NullTime
	var apiResponse sql.NullString

	err := row.Scan(&record.ID, &record.SourceIP, &record.DestinationIP,
		&record.Protocol, &record.Behavior, &record.Timestamp,
		&severity, &record.Confidence, &techniques, &additional, &anomaly,
		&record.CreationTime, &submitted, &submissionTime, &apiResponse,
		&record.RetryCount, &failed)
	if err != nil {
		return nil, err
	}

	record.Severity = core.Severity(severity)
	record.Anomaly = anomaly == 1
	record.Submitted = submitted == 1
	record.Failed = failed == 1
	if submissionTime.Valid {
		t := submissionTime.Time
		record.SubmissionTime = &t
	}
	if apiResponse.Valid {
		record.APIResponse = apiResponse.String
	}
	if techniques != "" {
		if err := json.Unmarshal([]byte(techniques), &record.Techniques); err != nil {
			return nil, fmt.Errorf("failed to decode techniques for %s: %w", record.ID, err)
		}
	}
	if additional != "" {
		if err := json.Unmarshal([]byte(additional), &record.AdditionalData); err != nil {
			return nil, fmt.Errorf("failed to decode additional data for %s: %w", record.ID, err)
		}
	}
	return &record, nil
}

// MarkSubmitted marks a record delivered and appends a success row to
// the ledger. Both writes happen in one transaction.
func (ts *ThreatStore) MarkSubmitted(id, response string) error {
	lock := ts.lockID(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	return ts.db.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE threats
			SET submitted = 1, submission_time = ?, api_response = ?
			WHERE id = ?`, now, response, id)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("mark_submitted").Inc()
			return fmt.Errorf("failed to mark threat %s submitted: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return appendAttempt(tx, id, now, true, "")
	})
}

// RecordFailure appends a failure row to the ledger and increments the
// record's retry count.
func (ts *ThreatStore) RecordFailure(id, errMsg string) error {
	lock := ts.lockID(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	return ts.db.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE threats
			SET retry_count = retry_count + 1, api_response = ?
			WHERE id = ?`, errMsg, id)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("record_failure").Inc()
			return fmt.Errorf("failed to record failure for threat %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return appendAttempt(tx, id, now, false, errMsg)
	})
}

// MarkFailed flags a record as permanently failed so retry sweeps skip it.
func (ts *ThreatStore) MarkFailed(id string) error {
	lock := ts.lockID(id)
	lock.Lock()
	defer lock.Unlock()

	return ts.db.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("UPDATE threats SET failed = 1 WHERE id = ?", id)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("mark_failed").Inc()
			return fmt.Errorf("failed to mark threat %s failed: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func appendAttempt(tx *sql.Tx, id string, at time.Time, success bool, errMsg string) error {
	_, err := tx.Exec(`INSERT INTO submission_attempts
		(threat_id, attempt_time, success, error_message) VALUES (?, ?, ?, ?)`,
		id, at, boolToInt(success), sql.NullString{String: errMsg, Valid: errMsg != ""})
	if err != nil {
		return fmt.Errorf("failed to append submission attempt for %s: %w", id, err)
	}
	return nil
}

// Attempts returns the ledger rows for a record, oldest first.
func (ts *ThreatStore) Attempts(id string) ([]core.SubmissionAttempt, error) {
	rows, err := ts.db.ReadDB.Query(`SELECT threat_id, attempt_time, success, error_message
		FROM submission_attempts WHERE threat_id = ? ORDER BY attempt_time ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query submission attempts: %w", err)
	}
	defer rows.Close()

	var attempts []core.SubmissionAttempt
	for rows.Next() {
		var attempt core.SubmissionAttempt
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&attempt.ThreatID, &attempt.AttemptTime, &success, &errMsg); err != nil {
			return nil, err
		}
		attempt.Success = success == 1
		attempt.ErrorMessage = errMsg.String
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

// Stats aggregates store-wide counters. The recent success and failure
// tallies come from ledger rows in the trailing 24 hours.
func (ts *ThreatStore) Stats() (*core.StoreStats, error) {
	stats := &core.StoreStats{BehaviorCounts: make(map[string]int)}

	err := ts.db.ReadDB.QueryRow(`SELECT
			COUNT(*),
			COALESCE(SUM(submitted), 0),
			COALESCE(SUM(CASE WHEN submitted = 0 AND failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(failed), 0)
		FROM threats`).Scan(&stats.TotalThreats, &stats.SubmittedThreats,
		&stats.PendingThreats, &stats.FailedThreats)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		return nil, fmt.Errorf("failed to aggregate threat counts: %w", err)
	}

	rows, err := ts.db.ReadDB.Query(`SELECT behavior, COUNT(*) FROM threats GROUP BY behavior`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate behavior counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var behavior string
		var count int
		if err := rows.Scan(&behavior, &count); err != nil {
			return nil, err
		}
		stats.BehaviorCounts[behavior] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	err = ts.db.ReadDB.QueryRow(`SELECT
			COALESCE(SUM(success), 0),
			COALESCE(SUM(1 - success), 0)
		FROM submission_attempts WHERE attempt_time >= ?`, cutoff).
		Scan(&stats.RecentSuccess, &stats.RecentFailure)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate recent attempts: %w", err)
	}

	return stats, nil
}

// PurgeOlderThan deletes records created before the retention window
// along with their ledger rows, and returns the number of records
// removed.
func (ts *ThreatStore) PurgeOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var removed int64

	err := ts.db.WithTransaction(func(tx *sql.Tx) error {
		// ON DELETE CASCADE covers attempts of purged records; the
		// second delete catches rows orphaned by older schema versions.
		res, err := tx.Exec("DELETE FROM threats WHERE creation_time < ?", cutoff)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("purge").Inc()
			return fmt.Errorf("failed to purge old threats: %w", err)
		}
		removed, _ = res.RowsAffected()

		_, err = tx.Exec(`DELETE FROM submission_attempts
			WHERE threat_id NOT IN (SELECT id FROM threats)`)
		if err != nil {
			return fmt.Errorf("failed to purge orphaned attempts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		ts.logger.Infow("Purged old threat records", "removed", removed, "retention_days", days)
	}
	return removed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
