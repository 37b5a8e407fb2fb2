package deliver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"argus/metrics"
	"argus/storage"
)

// RetryConfig tunes the retry sweeper.
type RetryConfig struct {
	Interval  time.Duration // time between sweeps
	Limit     int           // attempts before a record is marked failed
	Delay     time.Duration // pause between submissions inside one sweep
	SweepSize int           // max records fetched per sweep
}

// Sweeper periodically re-submits unsent records, oldest first.
// Records that exhaust the retry limit are marked permanently failed so
// they stop consuming sweeps.
type Sweeper struct {
	store  *storage.ThreatStore
	engine *Engine
	cfg    RetryConfig
	logger *zap.SugaredLogger
}

// NewSweeper creates a retry sweeper.
func NewSweeper(store *storage.ThreatStore, engine *Engine, cfg RetryConfig, logger *zap.SugaredLogger) *Sweeper {
	if cfg.SweepSize <= 0 {
		cfg.SweepSize = 50
	}
	return &Sweeper{store: store, engine: engine, cfg: cfg, logger: logger}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Infow("Retry sweeper started",
		"interval", s.cfg.Interval,
		"limit", s.cfg.Limit)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep fetches unsent records and re-submits each one. Per-record
// failures do not stop the sweep; context cancellation does.
func (s *Sweeper) Sweep(ctx context.Context) {
	metrics.RetrySweeps.Inc()

	records, err := s.store.ListUnsent(s.cfg.SweepSize)
	if err != nil {
		s.logger.Errorf("Retry sweep failed to list unsent threats: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	s.logger.Infow("Retry sweep started", "pending", len(records))

	for i, record := range records {
		if ctx.Err() != nil {
			return
		}

		if s.cfg.Limit > 0 && record.RetryCount >= s.cfg.Limit {
			s.logger.Warnw("Retry limit exhausted, marking threat failed",
				"threat_id", record.ID,
				"attempts", record.RetryCount)
			metrics.RetriesExhausted.Inc()
			if err := s.store.MarkFailed(record.ID); err != nil {
				s.logger.Errorf("Failed to mark threat %s failed: %v", record.ID, err)
			}
			continue
		}

		_ = s.engine.Deliver(ctx, record)

		// Spacing between submissions keeps a long sweep from hammering
		// a sink that is still recovering.
		if s.cfg.Delay > 0 && i < len(records)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.Delay):
			}
		}
	}
}
