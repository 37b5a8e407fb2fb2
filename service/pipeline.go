// Package service runs the end-to-end pipeline: tail the sensor log,
// classify new alerts, persist them, and push them to the sink.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/deliver"
	"argus/detect"
	"argus/ingest"
	"argus/metrics"
	"argus/mitre"
	"argus/ml"
	"argus/storage"
)

// Options tunes the pipeline loop.
type Options struct {
	PollInterval time.Duration
	BatchEnabled bool
	BatchSize    int
	DrainSize    int // records re-submitted from the backlog at startup
}

// Pipeline connects the tail reader to classification, storage, and
// delivery. One goroutine owns the whole path; the store serializes
// concurrent access from the retry sweeper and batch workers.
type Pipeline struct {
	tail       *ingest.TailReader
	watcher    *ingest.Watcher
	classifier *detect.Classifier
	assessor   ml.Assessor
	store      *storage.ThreatStore
	engine     *deliver.Engine
	opts       Options
	logger     *zap.SugaredLogger

	pending []*core.ThreatRecord // batch accumulation buffer
}

// NewPipeline assembles a pipeline. watcher may be nil; the poll ticker
// then remains the only wake-up signal.
func NewPipeline(tail *ingest.TailReader, watcher *ingest.Watcher, classifier *detect.Classifier, assessor ml.Assessor, store *storage.ThreatStore, engine *deliver.Engine, opts Options, logger *zap.SugaredLogger) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.DrainSize <= 0 {
		opts.DrainSize = 100
	}
	return &Pipeline{
		tail:       tail,
		watcher:    watcher,
		classifier: classifier,
		assessor:   assessor,
		store:      store,
		engine:     engine,
		opts:       opts,
		logger:     logger,
	}
}

// Run processes the log until ctx is cancelled. Filesystem events and
// the poll ticker feed the same processing path, so a missed event is
// only ever a delay, never a loss.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Infow("Pipeline started",
		"poll_interval", p.opts.PollInterval,
		"batch_enabled", p.opts.BatchEnabled)

	p.drainBacklog(ctx)

	var notify <-chan struct{}
	if p.watcher != nil {
		notify = p.watcher.Notify()
	}

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background())
			p.logger.Info("Pipeline stopped")
			return
		case <-ticker.C:
			p.cycle(ctx)
		case <-notify:
			p.cycle(ctx)
		}
	}
}

// drainBacklog re-submits records left unsent by a previous run.
func (p *Pipeline) drainBacklog(ctx context.Context) {
	records, err := p.store.ListUnsent(p.opts.DrainSize)
	if err != nil {
		p.logger.Errorf("Failed to list backlog: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	p.logger.Infow("Draining delivery backlog", "pending", len(records))
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		_ = p.engine.Deliver(ctx, record)
	}
}

// cycle reads every new block and runs it through the pipeline.
func (p *Pipeline) cycle(ctx context.Context) {
	blocks, err := p.tail.Poll()
	if err != nil {
		p.logger.Errorf("Failed to read sensor log: %v", err)
		return
	}

	for _, block := range blocks {
		if ctx.Err() != nil {
			return
		}
		p.processBlock(ctx, block)
	}
}

func (p *Pipeline) processBlock(ctx context.Context, block string) {
	start := time.Now()

	alert, err := ingest.ParseAlertBlock(block)
	if err != nil {
		metrics.AlertsParsed.WithLabelValues("error").Inc()
		p.logger.Debugw("Dropped unparseable alert block", "error", err)
		return
	}
	if !alert.Viable() {
		metrics.AlertsParsed.WithLabelValues("dropped").Inc()
		return
	}
	metrics.AlertsParsed.WithLabelValues("ok").Inc()

	behavior := p.classifier.Classify(alert)
	assessment, err := p.assessor.Assess(ctx, alert, behavior)
	if err != nil {
		p.logger.Errorf("Assessment failed for %s: %v", alert.SourceIP, err)
		return
	}
	metrics.ThreatsClassified.WithLabelValues(behavior, string(assessment.Severity)).Inc()

	record := core.NewThreatRecord("", alert, behavior, assessment)
	if err := p.store.Upsert(record); err != nil {
		p.logger.Errorf("Failed to persist threat %s: %v", record.ID, err)
		return
	}

	fields := []interface{}{
		"threat_id", record.ID,
		"behavior", behavior,
		"severity", assessment.Severity,
		"source_ip", alert.SourceIP,
		"destination_ip", alert.DestIP,
	}
	if len(assessment.Techniques) > 0 {
		names := make([]string, len(assessment.Techniques))
		for i, id := range assessment.Techniques {
			names[i] = id + " " + mitre.TechniqueName(id)
		}
		fields = append(fields, "techniques", names)
	}
	p.logger.Infow("Threat recorded", fields...)

	if p.opts.BatchEnabled {
		p.pending = append(p.pending, record)
		if len(p.pending) >= p.opts.BatchSize {
			p.flush(ctx)
		}
	} else {
		// Failures stay unsent in the store for the retry sweeper.
		_ = p.engine.Deliver(ctx, record)
	}

	metrics.PipelineDuration.Observe(time.Since(start).Seconds())
}

// flush delivers the accumulated batch, if any.
func (p *Pipeline) flush(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	_ = p.engine.DeliverBatch(ctx, p.pending)
	p.pending = nil
}
