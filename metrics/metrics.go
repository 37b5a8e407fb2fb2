// Package metrics defines Prometheus instrumentation for the Argus pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_log_blocks_read_total",
			Help: "Total number of alert blocks read from the monitored log",
		},
	)

	TruncationsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_log_truncations_detected_total",
			Help: "Total number of log truncations/rotations detected by the tail reader",
		},
	)

	AlertsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_parsed_total",
			Help: "Total number of alert blocks parsed",
		},
		[]string{"result"}, // ok, error, dropped
	)

	ThreatsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_threats_classified_total",
			Help: "Total number of threat records classified",
		},
		[]string{"behavior", "severity"},
	)

	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_oracle_requests_total",
			Help: "Total number of classification oracle calls",
		},
		[]string{"outcome"}, // success, error
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_deliveries_total",
			Help: "Total number of sink submission attempts",
		},
		[]string{"mode", "outcome"}, // mode: single, batch; outcome: success, failure
	)

	RetrySweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_retry_sweeps_total",
			Help: "Total number of retry sweeps executed",
		},
	)

	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_retries_exhausted_total",
			Help: "Total number of records marked permanently failed after exhausting retries",
		},
	)

	BatchJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_batch_jobs_total",
			Help: "Total number of batch jobs by terminal status",
		},
		[]string{"status"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_store_errors_total",
			Help: "Total number of persistent store operation failures",
		},
		[]string{"operation"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_pipeline_duration_seconds",
			Help:    "Time taken to run one alert through parse, classify, store and deliver",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"cache", "operation"},
	)
)
