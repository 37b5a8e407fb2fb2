package ml

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

	"argus/core"
)

// OracleClient queries a remote inference service for severity
// assessments over HTTP.
type OracleClient struct {
	url    string
	client *http.Client
	logger *zap.SugaredLogger
}

type oracleRequest struct {
	SourceIP      string `json:"source_ip"`
	DestinationIP string `json:"destination_ip"`
	Protocol      string `json:"protocol"`
	Behavior      string `json:"behavior"`
	SignatureName string `json:"signature_name"`
	Priority      int    `json:"priority"`
}

type oracleResponse struct {
	Severity   string   `json:"severity"`
	Confidence float64  `json:"confidence"`
	Techniques []string `json:"techniques"`
}

// NewOracleClient validates the endpoint URL and builds a client with
// the given request timeout.
func NewOracleClient(endpoint string, timeout time.Duration, logger *zap.SugaredLogger) (*OracleClient, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid oracle URL %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OracleClient{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Assess posts the alert to the oracle and decodes its verdict. Any
// transport error, non-2xx status, or unusable payload is returned as
// an error for the caller's fallback chain.
func (o *OracleClient) Assess(ctx context.Context, alert *core.ParsedAlert, behavior string) (core.Assessment, error) {
	payload, err := json.Marshal(oracleRequest{
		SourceIP:      alert.SourceIP,
		DestinationIP: alert.DestIP,
		Protocol:      alert.Protocol,
		Behavior:      behavior,
		SignatureName: alert.SignatureName,
		Priority:      alert.Priority,
	})
	if err != nil {
		return core.Assessment{}, fmt.Errorf("failed to encode oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(payload))
	if err != nil {
		return core.Assessment{}, fmt.Errorf("failed to build oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		recordOracleOutcome("error")
		return core.Assessment{}, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		recordOracleOutcome("error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.Assessment{}, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(body))
	}

	var verdict oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		recordOracleOutcome("error")
		return core.Assessment{}, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	severity := core.Severity(strings.ToUpper(verdict.Severity))
	if !severity.IsValid() {
		recordOracleOutcome("error")
		return core.Assessment{}, fmt.Errorf("oracle returned unknown severity %q", verdict.Severity)
	}

	recordOracleOutcome("success")
	return core.Assessment{
		Severity:   severity,
		Confidence: verdict.Confidence,
		Techniques: verdict.Techniques,
	}, nil
}
