// Package metrics tracks cache outcome counters for the tile proxy.
//
// The Collector is an explicitly owned state object injected into the cache
// orchestrator and the invalidation listener; it is the source of truth for
// the /metrics endpoints. Updates are mirrored into Prometheus metrics so the
// same numbers are visible to a scraper via the default registry.
package metrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileproxy_requests_total",
		Help: "Total tile requests handled by the proxy",
	})

	promCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileproxy_cache_hits_total",
		Help: "Total cache hits by layer",
	}, []string{"layer"}) // "local", "redis"

	promUpstreamCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileproxy_upstream_calls_total",
		Help: "Total requests forwarded to the upstream tile provider",
	})

	promUpstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileproxy_upstream_errors_total",
		Help: "Total failed upstream fetches",
	})

	promRemoteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileproxy_remote_errors_total",
		Help: "Total Redis cache errors degraded to misses",
	})

	promTrackingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tileproxy_tracking_active",
		Help: "Whether the Redis invalidation subscription is active (1) or not (0)",
	})
)

// Collector counts cache outcomes. All counters are monotonic and reset only
// by process restart.
type Collector struct {
	mu sync.Mutex

	totalRequests  uint64
	localHits      uint64
	redisHits      uint64
	upstreamCalls  uint64
	upstreamErrors uint64
	remoteErrors   uint64
	trackingActive bool
}

// NewCollector creates a zeroed Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordLocalHit counts a request answered by the local tier.
func (c *Collector) RecordLocalHit() {
	c.mu.Lock()
	c.totalRequests++
	c.localHits++
	c.mu.Unlock()

	promRequestsTotal.Inc()
	promCacheHits.WithLabelValues("local").Inc()
}

// RecordRedisHit counts a request answered by the Redis tier.
func (c *Collector) RecordRedisHit() {
	c.mu.Lock()
	c.totalRequests++
	c.redisHits++
	c.mu.Unlock()

	promRequestsTotal.Inc()
	promCacheHits.WithLabelValues("redis").Inc()
}

// RecordUpstreamCall counts a request that missed both tiers and was served
// by the upstream provider.
func (c *Collector) RecordUpstreamCall() {
	c.mu.Lock()
	c.totalRequests++
	c.upstreamCalls++
	c.mu.Unlock()

	promRequestsTotal.Inc()
	promUpstreamCalls.Inc()
}

// RecordUpstreamError counts a request whose upstream fetch failed.
// The upstream call itself is counted as well: an errored fetch is still a
// call that left the process.
func (c *Collector) RecordUpstreamError() {
	c.mu.Lock()
	c.totalRequests++
	c.upstreamCalls++
	c.upstreamErrors++
	c.mu.Unlock()

	promRequestsTotal.Inc()
	promUpstreamCalls.Inc()
	promUpstreamErrors.Inc()
}

// RecordRemoteError counts a Redis round trip that failed and was degraded
// to a cache miss. Does not count a request.
func (c *Collector) RecordRemoteError() {
	c.mu.Lock()
	c.remoteErrors++
	c.mu.Unlock()

	promRemoteErrors.Inc()
}

// SetTrackingActive records whether the invalidation subscription is live.
func (c *Collector) SetTrackingActive(active bool) {
	c.mu.Lock()
	c.trackingActive = active
	c.mu.Unlock()

	if active {
		promTrackingActive.Set(1)
	} else {
		promTrackingActive.Set(0)
	}
}

// Snapshot is a point-in-time view of the counters with derived ratios.
type Snapshot struct {
	TotalRequests  uint64 `json:"total_requests"`
	CacheHits      uint64 `json:"cache_hits"`
	LocalCacheHits uint64 `json:"local_cache_hits"`
	RedisCacheHits uint64 `json:"redis_cache_hits"`
	UpstreamCalls  uint64 `json:"upstream_calls"`
	UpstreamErrors uint64 `json:"upstream_errors"`
	RemoteErrors   uint64 `json:"remote_errors"`
	TrackingActive bool   `json:"tracking_active"`

	CacheHitRatio      float64 `json:"cache_hit_ratio"`
	LocalCacheHitRatio float64 `json:"local_cache_hit_ratio"`
	RedisCacheHitRatio float64 `json:"redis_cache_hit_ratio"`
	UpstreamErrorRate  float64 `json:"upstream_error_rate"`
}

// Snapshot returns the current counter values and derived ratios.
// All ratios are 0.0 when no requests have been served yet.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalRequests:  c.totalRequests,
		CacheHits:      c.localHits + c.redisHits,
		LocalCacheHits: c.localHits,
		RedisCacheHits: c.redisHits,
		UpstreamCalls:  c.upstreamCalls,
		UpstreamErrors: c.upstreamErrors,
		RemoteErrors:   c.remoteErrors,
		TrackingActive: c.trackingActive,
	}

	if c.totalRequests > 0 {
		total := float64(c.totalRequests)
		s.CacheHitRatio = float64(s.CacheHits) / total
		s.LocalCacheHitRatio = float64(c.localHits) / total
		s.RedisCacheHitRatio = float64(c.redisHits) / total
		s.UpstreamErrorRate = float64(c.upstreamErrors) / total
	}

	return s
}

// RenderText renders the counters in a line-oriented plain-text format, one
// "name value" pair per line with a trailing newline, for periodic scraping.
func (c *Collector) RenderText() string {
	s := c.Snapshot()

	tracking := 0
	if s.TrackingActive {
		tracking = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "total_requests %d\n", s.TotalRequests)
	fmt.Fprintf(&b, "cache_hits %d\n", s.CacheHits)
	fmt.Fprintf(&b, "local_cache_hits %d\n", s.LocalCacheHits)
	fmt.Fprintf(&b, "redis_cache_hits %d\n", s.RedisCacheHits)
	fmt.Fprintf(&b, "upstream_calls %d\n", s.UpstreamCalls)
	fmt.Fprintf(&b, "upstream_errors %d\n", s.UpstreamErrors)
	fmt.Fprintf(&b, "remote_errors %d\n", s.RemoteErrors)
	fmt.Fprintf(&b, "tracking_active %d\n", tracking)
	return b.String()
}
