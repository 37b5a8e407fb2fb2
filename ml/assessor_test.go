package ml

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func c2Alert() *core.ParsedAlert {
	return &core.ParsedAlert{
		SignatureName:  "SNORT ALERT: Malware C2 Traffic",
		Classification: "Potentially Bad Traffic",
		Priority:       1,
		SourceIP:       "192.168.10.80",
		SourcePort:     54321,
		DestIP:         "10.0.0.40",
		DestPort:       8080,
		Protocol:       "TCP",
	}
}

func TestHeuristicSeverityTiers(t *testing.T) {
	h := NewHeuristicAssessor()
	ctx := context.Background()

	cases := []struct {
		name     string
		behavior string
		want     core.Severity
	}{
		{"SNORT ALERT: Malware C2 Traffic", "malware_c2", core.SeverityHigh},
		{"ransomware beacon observed", "unknown", core.SeverityHigh},
		{"SNORT ALERT: Port Scan Detected", "port_scan", core.SeverityMedium},
		{"Suspicious Admin Access", "unknown", core.SeverityMedium},
		{"login attempt failed", "unknown", core.SeverityLow},
		{"routine traffic", "protocol_violation", core.SeverityNormal},
	}
	for _, tc := range cases {
		got, err := h.Assess(ctx, &core.ParsedAlert{SignatureName: tc.name}, tc.behavior)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.Severity, "signature %q", tc.name)
		assert.Equal(t, HeuristicConfidence, got.Confidence)
	}
}

func TestTagTechniques(t *testing.T) {
	cases := []struct {
		name     string
		protocol string
		behavior string
		want     []string
	}{
		// The admin rule requires the HTTP protocol, not the word "http"
		// somewhere in the text.
		{"Suspicious admin page request", "HTTP", "web_attack", []string{"T1190"}},
		{"Suspicious admin page request", "HTTPS", "web_attack", nil},
		{"http exploit of admin console", "TCP", "unknown", nil},
		{"SNORT ALERT: Port Scan Detected", "TCP", "port_scan", []string{"T1046"}},
		{"SELECT data FROM users", "HTTP", "sql_injection", []string{"T1190"}},
		{"brute force against login", "SSH", "brute_force", []string{"T1110"}},
		{"remote command execution", "TCP", "unknown", []string{"T1059"}},
		{"plain traffic", "TCP", "protocol_violation", nil},
	}
	for _, tc := range cases {
		got := TagTechniques(&core.ParsedAlert{SignatureName: tc.name, Protocol: tc.protocol}, tc.behavior)
		assert.Equal(t, tc.want, got, "signature %q over %s", tc.name, tc.protocol)
	}
}

func TestTagTechniquesNoDuplicates(t *testing.T) {
	alert := &core.ParsedAlert{SignatureName: "admin panel SELECT x FROM y", Protocol: "http"}
	got := TagTechniques(alert, "sql_injection")
	assert.Equal(t, []string{"T1190"}, got)
}

func TestOracleClientAssess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "192.168.10.80", req["source_ip"])
		assert.Equal(t, "malware_c2", req["behavior"])

		json.NewEncoder(w).Encode(map[string]any{
			"severity":   "high",
			"confidence": 0.93,
			"techniques": []string{"T1071"},
		})
	}))
	defer srv.Close()

	oracle, err := NewOracleClient(srv.URL, 2*time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)

	got, err := oracle.Assess(context.Background(), c2Alert(), "malware_c2")
	require.NoError(t, err)
	assert.Equal(t, core.SeverityHigh, got.Severity)
	assert.Equal(t, 0.93, got.Confidence)
	assert.Equal(t, []string{"T1071"}, got.Techniques)
}

func TestOracleClientErrors(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		oracle, err := NewOracleClient(srv.URL, 2*time.Second, zap.NewNop().Sugar())
		require.NoError(t, err)
		_, err = oracle.Assess(context.Background(), c2Alert(), "malware_c2")
		assert.ErrorContains(t, err, "503")
	})

	t.Run("invalid severity", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"severity": "catastrophic", "confidence": 0.9})
		}))
		defer srv.Close()

		oracle, err := NewOracleClient(srv.URL, 2*time.Second, zap.NewNop().Sugar())
		require.NoError(t, err)
		_, err = oracle.Assess(context.Background(), c2Alert(), "malware_c2")
		assert.ErrorContains(t, err, "unknown severity")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewOracleClient("not a url", 2*time.Second, zap.NewNop().Sugar())
		assert.Error(t, err)
	})
}

type failingAssessor struct{ err error }

func (f *failingAssessor) Assess(context.Context, *core.ParsedAlert, string) (core.Assessment, error) {
	return core.Assessment{}, f.err
}

func TestFallbackAssessorDegrades(t *testing.T) {
	fb := NewFallbackAssessor(
		&failingAssessor{err: errors.New("connection refused")},
		NewHeuristicAssessor(),
		zap.NewNop().Sugar(),
	)

	got, err := fb.Assess(context.Background(), c2Alert(), "malware_c2")
	require.NoError(t, err)
	assert.Equal(t, core.SeverityHigh, got.Severity)
	assert.Equal(t, DegradedConfidence, got.Confidence)
}

func TestFallbackAssessorFillsTechniques(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"severity": "MEDIUM", "confidence": 0.8})
	}))
	defer srv.Close()

	oracle, err := NewOracleClient(srv.URL, 2*time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)
	fb := NewFallbackAssessor(oracle, NewHeuristicAssessor(), zap.NewNop().Sugar())

	alert := &core.ParsedAlert{SignatureName: "SNORT ALERT: Port Scan Detected"}
	got, err := fb.Assess(context.Background(), alert, "port_scan")
	require.NoError(t, err)
	assert.Equal(t, core.SeverityMedium, got.Severity)
	assert.Equal(t, []string{"T1046"}, got.Techniques)
}

type countingAssessor struct {
	calls atomic.Int64
}

func (c *countingAssessor) Assess(context.Context, *core.ParsedAlert, string) (core.Assessment, error) {
	c.calls.Add(1)
	return core.Assessment{Severity: core.SeverityLow, Confidence: 0.7}, nil
}

func TestCachedAssessor(t *testing.T) {
	inner := &countingAssessor{}
	cached, err := NewCachedAssessor(inner, 8)
	require.NoError(t, err)

	ctx := context.Background()
	alert := c2Alert()
	for i := 0; i < 3; i++ {
		got, err := cached.Assess(ctx, alert, "malware_c2")
		require.NoError(t, err)
		assert.Equal(t, core.SeverityLow, got.Severity)
	}
	assert.Equal(t, int64(1), inner.calls.Load())

	// Different behavior label is a different key.
	_, err = cached.Assess(ctx, alert, "web_attack")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.calls.Load())
	assert.Equal(t, 2, cached.Len())
}
