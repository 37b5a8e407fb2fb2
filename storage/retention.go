package storage

import (
	"time"

	"go.uber.org/zap"
)

// RetentionManager periodically purges threat records older than the
// configured retention window.
type RetentionManager struct {
	store         *ThreatStore
	retentionDays int
	checkInterval time.Duration
	logger        *zap.SugaredLogger
	stopCh        chan struct{}
}

// NewRetentionManager creates a retention manager with a daily sweep.
func NewRetentionManager(store *ThreatStore, retentionDays int, logger *zap.SugaredLogger) *RetentionManager {
	return &RetentionManager{
		store:         store,
		retentionDays: retentionDays,
		checkInterval: 24 * time.Hour,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start runs an immediate sweep and then sweeps on the check interval.
func (rm *RetentionManager) Start() {
	go rm.run()
}

func (rm *RetentionManager) run() {
	rm.cleanup()

	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rm.cleanup()
		case <-rm.stopCh:
			return
		}
	}
}

// Stop stops the retention manager.
func (rm *RetentionManager) Stop() {
	close(rm.stopCh)
}

func (rm *RetentionManager) cleanup() {
	if rm.retentionDays <= 0 {
		return
	}
	if _, err := rm.store.PurgeOlderThan(rm.retentionDays); err != nil {
		rm.logger.Errorf("Failed to purge old threat records: %v", err)
	}
}
