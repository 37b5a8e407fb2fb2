package batch

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/deliver"
	"argus/detect"
	"argus/metrics"
	"argus/ml"
	"argus/storage"
)

// Item is one entry of a bulk submission: a pre-observed threat to run
// through classification and delivery. Behavior is optional; when empty
// it is derived from the signature name.
type Item struct {
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip"`
	Protocol      string `json:"protocol"`
	Behavior      string `json:"behavior,omitempty"`
	SignatureName string `json:"signature_name,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// Coordinator runs bulk submissions asynchronously. Each item passes
// through assessment, persistence, and delivery on its own; item
// failures land in the job's results without aborting the job.
type Coordinator struct {
	store      *storage.ThreatStore
	engine     *deliver.Engine
	classifier *detect.Classifier
	assessor   ml.Assessor
	jobs       JobStore
	logger     *zap.SugaredLogger
}

// NewCoordinator creates a batch coordinator.
func NewCoordinator(store *storage.ThreatStore, engine *deliver.Engine, classifier *detect.Classifier, assessor ml.Assessor, jobs JobStore, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		store:      store,
		engine:     engine,
		classifier: classifier,
		assessor:   assessor,
		jobs:       jobs,
		logger:     logger,
	}
}

// Submit accepts a batch, persists the job in the PENDING state, and
// starts a worker bound to ctx. The returned job snapshot carries the
// id used for status queries.
func (c *Coordinator) Submit(ctx context.Context, items []Item) (*core.BatchJob, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("batch must contain at least one item")
	}

	job := core.NewBatchJob(len(items))
	if err := c.jobs.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist batch job: %w", err)
	}
	metrics.BatchJobs.WithLabelValues(string(core.JobPending)).Inc()

	c.logger.Infow("Batch job accepted", "job_id", job.JobID, "items", len(items))
	go c.process(ctx, cloneJob(job), items)

	return job, nil
}

// Status returns the current snapshot of a job.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*core.BatchJob, error) {
	return c.jobs.Get(ctx, jobID)
}

func (c *Coordinator) process(ctx context.Context, job *core.BatchJob, items []Item) {
	defer func() {
		if p := recover(); p != nil {
			c.failJob(ctx, job, fmt.Sprintf("batch worker panic: %v", p))
		}
	}()

	job.Status = core.JobProcessing
	if err := c.jobs.Put(ctx, job); err != nil {
		c.logger.Errorf("Failed to persist job %s state: %v", job.JobID, err)
	}
	metrics.BatchJobs.WithLabelValues(string(core.JobProcessing)).Inc()

	for _, item := range items {
		if ctx.Err() != nil {
			c.failJob(ctx, job, "batch processing interrupted by shutdown")
			return
		}

		result := c.processItem(ctx, item)
		job.Results = append(job.Results, result)
		job.Completed++

		// Persist after every item so a status query observes live
		// monotonic progress.
		if err := c.jobs.Put(ctx, job); err != nil {
			c.logger.Errorf("Failed to persist job %s progress: %v", job.JobID, err)
		}
	}

	now := time.Now().UTC()
	job.Status = core.JobCompleted
	job.EndTime = &now
	if err := c.jobs.Put(ctx, job); err != nil {
		c.logger.Errorf("Failed to persist job %s completion: %v", job.JobID, err)
	}
	metrics.BatchJobs.WithLabelValues(string(core.JobCompleted)).Inc()

	c.logger.Infow("Batch job completed",
		"job_id", job.JobID,
		"total", job.Total,
		"completed", job.Completed)
}

func (c *Coordinator) failJob(ctx context.Context, job *core.BatchJob, reason string) {
	now := time.Now().UTC()
	job.Status = core.JobFailed
	job.Error = reason
	job.EndTime = &now
	if err := c.jobs.Put(ctx, job); err != nil {
		c.logger.Errorf("Failed to persist job %s failure: %v", job.JobID, err)
	}
	metrics.BatchJobs.WithLabelValues(string(core.JobFailed)).Inc()
	c.logger.Errorw("Batch job failed", "job_id", job.JobID, "reason", reason)
}

// processItem runs one item through the full pipeline. Every failure
// mode is captured in the result; this function never aborts the job.
func (c *Coordinator) processItem(ctx context.Context, item Item) core.BatchItemResult {
	result := core.BatchItemResult{SourceIP: item.SourceIP}

	if net.ParseIP(item.SourceIP) == nil || net.ParseIP(item.DestinationIP) == nil {
		result.Error = fmt.Sprintf("invalid endpoints %q -> %q", item.SourceIP, item.DestinationIP)
		return result
	}

	alert := &core.ParsedAlert{
		Timestamp:     item.Timestamp,
		SignatureName: item.SignatureName,
		SourceIP:      item.SourceIP,
		DestIP:        item.DestinationIP,
		Protocol:      item.Protocol,
	}
	if alert.Protocol == "" {
		alert.Protocol = "TCP"
	}

	behavior := item.Behavior
	if behavior == "" {
		behavior = c.classifier.Classify(alert)
	}

	assessment, err := c.assessor.Assess(ctx, alert, behavior)
	if err != nil {
		result.Error = fmt.Sprintf("assessment failed: %v", err)
		return result
	}

	record := core.NewThreatRecord("", alert, behavior, assessment)
	result.ThreatID = record.ID
	result.Severity = assessment.Severity
	result.Confidence = assessment.Confidence
	result.Techniques = assessment.Techniques
	result.Recommendation = core.Recommendation(assessment.Severity)

	if err := c.store.Upsert(record); err != nil {
		result.Error = fmt.Sprintf("persistence failed: %v", err)
		return result
	}

	if err := c.engine.Deliver(ctx, record); err != nil {
		result.Error = fmt.Sprintf("delivery failed: %v", err)
		return result
	}
	result.Delivered = true
	return result
}
