// Package ml produces severity assessments for classified threats,
// either from a remote inference oracle or from a local heuristic
// engine when the oracle is unavailable.
package ml

import (
	"context"
	"time"

	"go.uber.org/zap"

	"argus/core"
	"argus/metrics"
)

// Assessor produces a severity assessment for a classified alert.
type Assessor interface {
	Assess(ctx context.Context, alert *core.ParsedAlert, behavior string) (core.Assessment, error)
}

// FallbackAssessor tries a primary assessor and degrades to the local
// heuristic when the primary fails. The degraded assessment keeps the
// heuristic severity but carries a reduced confidence so downstream
// consumers can tell the two paths apart.
type FallbackAssessor struct {
	primary   Assessor
	heuristic *HeuristicAssessor
	logger    *zap.SugaredLogger
}

// NewFallbackAssessor wraps primary with heuristic degradation.
func NewFallbackAssessor(primary Assessor, heuristic *HeuristicAssessor, logger *zap.SugaredLogger) *FallbackAssessor {
	return &FallbackAssessor{primary: primary, heuristic: heuristic, logger: logger}
}

// Assess never returns an error: a failing primary is absorbed into a
// degraded heuristic assessment so one oracle outage cannot stall the
// pipeline.
func (f *FallbackAssessor) Assess(ctx context.Context, alert *core.ParsedAlert, behavior string) (core.Assessment, error) {
	assessment, err := f.primary.Assess(ctx, alert, behavior)
	if err == nil {
		// Oracles may omit technique tagging; fill in locally.
		if len(assessment.Techniques) == 0 {
			assessment.Techniques = TagTechniques(alert, behavior)
		}
		return assessment, nil
	}

	f.logger.Warnw("Assessment oracle failed, using heuristic fallback",
		"behavior", behavior,
		"source_ip", alert.SourceIP,
		"error", err)

	assessment, _ = f.heuristic.Assess(ctx, alert, behavior)
	assessment.Confidence = DegradedConfidence
	return assessment, nil
}

// BuildAssessor assembles the assessment chain from configuration:
// heuristic only, or oracle with heuristic fallback, optionally cached.
func BuildAssessor(oracleEnabled bool, oracleURL string, timeout time.Duration, cacheSize int, logger *zap.SugaredLogger) (Assessor, error) {
	heuristic := NewHeuristicAssessor()
	if !oracleEnabled {
		return heuristic, nil
	}

	oracle, err := NewOracleClient(oracleURL, timeout, logger)
	if err != nil {
		return nil, err
	}

	var assessor Assessor = NewFallbackAssessor(oracle, heuristic, logger)
	if cacheSize > 0 {
		assessor, err = NewCachedAssessor(assessor, cacheSize)
		if err != nil {
			return nil, err
		}
	}
	return assessor, nil
}

func recordOracleOutcome(outcome string) {
	metrics.OracleRequests.WithLabelValues(outcome).Inc()
}
