package ml

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"argus/core"
	"argus/metrics"
)

// CachedAssessor memoizes assessments keyed by signature name and
// behavior. Sensors emit long runs of identical alerts, so the cache
// shields the oracle from repeated identical queries.
type CachedAssessor struct {
	inner Assessor
	cache *lru.Cache[string, core.Assessment]
}

// NewCachedAssessor wraps inner with an LRU of the given size.
func NewCachedAssessor(inner Assessor, size int) (*CachedAssessor, error) {
	cache, err := lru.New[string, core.Assessment](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create assessment cache: %w", err)
	}
	return &CachedAssessor{inner: inner, cache: cache}, nil
}

func (c *CachedAssessor) Assess(ctx context.Context, alert *core.ParsedAlert, behavior string) (core.Assessment, error) {
	key := alert.SignatureName + "|" + behavior
	if assessment, ok := c.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("assessment").Inc()
		return assessment, nil
	}
	metrics.CacheMisses.WithLabelValues("assessment").Inc()

	assessment, err := c.inner.Assess(ctx, alert, behavior)
	if err != nil {
		return core.Assessment{}, err
	}
	c.cache.Add(key, assessment)
	return assessment, nil
}

// Len returns the number of cached assessments.
func (c *CachedAssessor) Len() int {
	return c.cache.Len()
}
