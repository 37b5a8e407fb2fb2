// Package deliver pushes stored threat records to the downstream
// analysis sink and retries the ones that did not make it.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"argus/core"
	"argus/metrics"
)

// SubmissionPayload is the wire shape the sink accepts. Delivery
// bookkeeping (id, retry count, submitted flag) never leaves the
// process.
type SubmissionPayload struct {
	SourceIP       string                 `json:"source_ip"`
	DestinationIP  string                 `json:"destination_ip"`
	Protocol       string                 `json:"protocol"`
	Behavior       string                 `json:"behavior"`
	Timestamp      string                 `json:"timestamp"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
}

// NewSubmissionPayload projects a stored record onto the sink contract.
func NewSubmissionPayload(record *core.ThreatRecord) SubmissionPayload {
	return SubmissionPayload{
		SourceIP:       record.SourceIP,
		DestinationIP:  record.DestinationIP,
		Protocol:       record.Protocol,
		Behavior:       record.Behavior,
		Timestamp:      record.Timestamp,
		AdditionalData: record.AdditionalData,
	}
}

// SinkClient submits threat records to the downstream HTTP sink.
// Submissions share a rate limiter so a burst of alerts cannot flood
// the sink.
type SinkClient struct {
	url      string
	batchURL string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.SugaredLogger
}

// NewSinkClient validates the endpoint URLs and builds a client.
// ratePerSecond <= 0 disables rate limiting.
func NewSinkClient(endpoint, batchEndpoint string, timeout time.Duration, ratePerSecond float64, logger *zap.SugaredLogger) (*SinkClient, error) {
	for _, u := range []string{endpoint, batchEndpoint} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid sink URL %q", u)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("sink URL %q must use http or https", u)
		}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}

	return &SinkClient{
		url:      endpoint,
		batchURL: batchEndpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Submit posts a single record to the sink. Any 2xx status is a
// successful delivery; the response body is returned for the ledger.
func (sc *SinkClient) Submit(ctx context.Context, record *core.ThreatRecord) (string, error) {
	body, err := sc.post(ctx, sc.url, record)
	if err != nil {
		metrics.Deliveries.WithLabelValues("single", "failure").Inc()
		return body, err
	}
	metrics.Deliveries.WithLabelValues("single", "success").Inc()
	return body, nil
}

// SubmitBatch posts a batch of records in one request. The sink
// acknowledges with 200 for synchronous processing or 202 for accepted
// asynchronous processing; anything else fails the whole batch.
func (sc *SinkClient) SubmitBatch(ctx context.Context, records []*core.ThreatRecord) (string, error) {
	if err := sc.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	submissions := make([]SubmissionPayload, 0, len(records))
	for _, record := range records {
		submissions = append(submissions, NewSubmissionPayload(record))
	}
	payload, err := json.Marshal(submissions)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch payload: %w", err)
	}

	resp, body, err := sc.doPost(ctx, sc.batchURL, payload)
	if err != nil {
		metrics.Deliveries.WithLabelValues("batch", "failure").Inc()
		return "", err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		metrics.Deliveries.WithLabelValues("batch", "failure").Inc()
		return body, fmt.Errorf("sink rejected batch with status %d", resp.StatusCode)
	}

	metrics.Deliveries.WithLabelValues("batch", "success").Inc()
	return body, nil
}

func (sc *SinkClient) post(ctx context.Context, endpoint string, record *core.ThreatRecord) (string, error) {
	if err := sc.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	payload, err := json.Marshal(NewSubmissionPayload(record))
	if err != nil {
		return "", fmt.Errorf("failed to encode threat payload: %w", err)
	}

	resp, body, err := sc.doPost(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, fmt.Errorf("sink rejected threat with status %d", resp.StatusCode)
	}
	return body, nil
}

func (sc *SinkClient) doPost(ctx context.Context, endpoint string, payload []byte) (*http.Response, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("sink request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sink response: %w", err)
	}
	return resp, strings.TrimSpace(string(raw)), nil
}
