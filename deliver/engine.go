package deliver

import (
	"context"

	"go.uber.org/zap"

	"argus/core"
	"argus/storage"
)

// Engine couples the sink client with the store: every delivery outcome
// is durably recorded before the pipeline moves on, so an unsent record
// is always visible to the retry sweeper.
type Engine struct {
	store  *storage.ThreatStore
	sink   *SinkClient
	logger *zap.SugaredLogger
}

// NewEngine creates a delivery engine.
func NewEngine(store *storage.ThreatStore, sink *SinkClient, logger *zap.SugaredLogger) *Engine {
	return &Engine{store: store, sink: sink, logger: logger}
}

// Deliver submits one record and records the outcome. A sink failure is
// returned to the caller after the failure has been written to the
// ledger; the record stays unsent for the retry sweeper.
func (e *Engine) Deliver(ctx context.Context, record *core.ThreatRecord) error {
	response, err := e.sink.Submit(ctx, record)
	if err != nil {
		e.logger.Warnw("Threat delivery failed",
			"threat_id", record.ID,
			"behavior", record.Behavior,
			"error", err)
		if ledgerErr := e.store.RecordFailure(record.ID, err.Error()); ledgerErr != nil {
			e.logger.Errorf("Failed to record delivery failure for %s: %v", record.ID, ledgerErr)
		}
		return err
	}

	if err := e.store.MarkSubmitted(record.ID, response); err != nil {
		e.logger.Errorf("Failed to mark threat %s submitted: %v", record.ID, err)
		return err
	}

	e.logger.Debugw("Threat delivered",
		"threat_id", record.ID,
		"behavior", record.Behavior,
		"severity", record.Severity)
	return nil
}

// DeliverBatch submits a slice of records in one request and records a
// uniform outcome for every member.
func (e *Engine) DeliverBatch(ctx context.Context, records []*core.ThreatRecord) error {
	if len(records) == 0 {
		return nil
	}

	response, err := e.sink.SubmitBatch(ctx, records)
	if err != nil {
		e.logger.Warnw("Batch delivery failed",
			"batch_size", len(records),
			"error", err)
		for _, record := range records {
			if ledgerErr := e.store.RecordFailure(record.ID, err.Error()); ledgerErr != nil {
				e.logger.Errorf("Failed to record delivery failure for %s: %v", record.ID, ledgerErr)
			}
		}
		return err
	}

	for _, record := range records {
		if err := e.store.MarkSubmitted(record.ID, response); err != nil {
			e.logger.Errorf("Failed to mark threat %s submitted: %v", record.ID, err)
		}
	}

	e.logger.Infow("Batch delivered", "batch_size", len(records))
	return nil
}
