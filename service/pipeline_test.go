package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
	"argus/deliver"
	"argus/detect"
	"argus/ingest"
	"argus/ml"
	"argus/storage"
)

const alertBlock = `[**] [1:1000008:1] SNORT ALERT: Malware C2 Traffic [**]
[Classification: Potentially Bad Traffic] [Priority: 1]
03/04-14:10:22.123456 192.168.10.80:54321 -> 10.0.0.40:8080`

type sinkRecorder struct {
	mu      sync.Mutex
	single  []deliver.SubmissionPayload
	batches [][]deliver.SubmissionPayload
}

func (sr *sinkRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr.mu.Lock()
		defer sr.mu.Unlock()
		if r.URL.Path == "/batch-analyze" {
			var payloads []deliver.SubmissionPayload
			json.NewDecoder(r.Body).Decode(&payloads)
			sr.batches = append(sr.batches, payloads)
		} else {
			var payload deliver.SubmissionPayload
			json.NewDecoder(r.Body).Decode(&payload)
			sr.single = append(sr.single, payload)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func (sr *sinkRecorder) singleCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.single)
}

func (sr *sinkRecorder) batchCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.batches)
}

type pipelineHarness struct {
	pipeline *Pipeline
	store    *storage.ThreatStore
	logPath  string
	recorder *sinkRecorder
}

func newHarness(t *testing.T, opts Options) *pipelineHarness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	recorder := &sinkRecorder{}

	srv := httptest.NewServer(recorder.handler())
	t.Cleanup(srv.Close)

	store, err := storage.NewThreatStore(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sink, err := deliver.NewSinkClient(srv.URL+"/analyze", srv.URL+"/batch-analyze", 2*time.Second, 0, logger)
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "alert")
	pipeline := NewPipeline(
		ingest.NewTailReader(logPath, logger),
		nil,
		detect.NewClassifier(logger),
		ml.NewHeuristicAssessor(),
		store,
		deliver.NewEngine(store, sink, logger),
		opts,
		logger,
	)
	return &pipelineHarness{pipeline: pipeline, store: store, logPath: logPath, recorder: recorder}
}

func appendAlert(t *testing.T, path, block string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(block + "\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}

func TestPipelineEndToEnd(t *testing.T) {
	h := newHarness(t, Options{PollInterval: 20 * time.Millisecond})
	appendAlert(t, h.logPath, alertBlock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.pipeline.Run(ctx)
		close(done)
	}()

	eventually(t, func() bool { return h.recorder.singleCount() == 1 }, "threat not delivered")
	cancel()
	<-done

	h.recorder.mu.Lock()
	delivered := h.recorder.single[0]
	h.recorder.mu.Unlock()

	// The classification label maps directly, before any signature
	// pattern is consulted.
	assert.Equal(t, "malware_c2", delivered.Behavior)
	assert.Equal(t, "192.168.10.80", delivered.SourceIP)
	assert.Equal(t, "10.0.0.40", delivered.DestinationIP)
	assert.Equal(t, "SNORT ALERT: Malware C2 Traffic", delivered.AdditionalData["signature_name"])

	stats, err := h.store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SubmittedThreats)
	assert.Equal(t, map[string]int{"malware_c2": 1}, stats.BehaviorCounts)
}

func TestPipelineBatchMode(t *testing.T) {
	h := newHarness(t, Options{
		PollInterval: 20 * time.Millisecond,
		BatchEnabled: true,
		BatchSize:    2,
	})

	appendAlert(t, h.logPath, alertBlock)
	appendAlert(t, h.logPath, alertBlock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.pipeline.Run(ctx)
		close(done)
	}()

	eventually(t, func() bool { return h.recorder.batchCount() == 1 }, "batch not delivered")
	cancel()
	<-done

	h.recorder.mu.Lock()
	batch := h.recorder.batches[0]
	h.recorder.mu.Unlock()
	assert.Len(t, batch, 2)
	assert.Equal(t, 0, h.recorder.singleCount())
}

func TestPipelineFlushesBatchOnShutdown(t *testing.T) {
	h := newHarness(t, Options{
		PollInterval: 20 * time.Millisecond,
		BatchEnabled: true,
		BatchSize:    10,
	})

	appendAlert(t, h.logPath, alertBlock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.pipeline.Run(ctx)
		close(done)
	}()

	// Wait for ingestion, then shut down with a partial batch pending.
	eventually(t, func() bool {
		stats, err := h.store.Stats()
		return err == nil && stats.TotalThreats == 1
	}, "threat not ingested")

	cancel()
	<-done

	assert.Equal(t, 1, h.recorder.batchCount())
}

func TestPipelineDrainsBacklogOnStartup(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Hour})

	// A record left unsent by a previous run.
	leftover := core.NewThreatRecord("leftover", &core.ParsedAlert{
		SignatureName: "SNORT ALERT: Port Scan Detected",
		SourceIP:      "192.168.10.81",
		DestIP:        "10.0.0.40",
		DestPort:      22,
		Protocol:      "SSH",
	}, "port_scan", core.Assessment{Severity: core.SeverityMedium, Confidence: 0.5})
	require.NoError(t, h.store.Upsert(leftover))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.pipeline.Run(ctx)
		close(done)
	}()

	eventually(t, func() bool { return h.recorder.singleCount() == 1 }, "backlog not drained")
	cancel()
	<-done

	stored, err := h.store.Get("leftover")
	require.NoError(t, err)
	assert.True(t, stored.Submitted)
}

func TestPipelineDropsMalformedBlocks(t *testing.T) {
	h := newHarness(t, Options{PollInterval: 20 * time.Millisecond})

	appendAlert(t, h.logPath, "garbage without an endpoint line")
	appendAlert(t, h.logPath, alertBlock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.pipeline.Run(ctx)
		close(done)
	}()

	eventually(t, func() bool { return h.recorder.singleCount() == 1 }, "valid threat not delivered")
	cancel()
	<-done

	stats, err := h.store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalThreats)
}
