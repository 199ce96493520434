package cache

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleettrack/tile-proxy/pkg/logging"
	"github.com/fleettrack/tile-proxy/pkg/metrics"
	"github.com/fleettrack/tile-proxy/pkg/upstream"
)

// Hit tiers reported to clients via the X-Cache header.
const (
	TierLocal = "HIT-LOCAL"
	TierRedis = "HIT-REDIS"
	TierMiss  = "MISS"
)

// Remote is the shared cache tier as seen by the orchestrator.
type Remote interface {
	Read(ctx context.Context, key string) (body []byte, contentType string, ttl time.Duration, ok bool)
	Write(ctx context.Context, key string, body []byte, contentType string, ttl time.Duration)
}

// Origin fetches tiles from the upstream provider.
type Origin interface {
	Fetch(ctx context.Context, url string) (*upstream.TileResult, error)
}

// Result is a resolved tile ready to serve.
type Result struct {
	Body        []byte
	ContentType string

	// Tier reports which layer answered: TierLocal, TierRedis or TierMiss.
	Tier string

	// TTL is the remaining lifetime for cache hits and the derived lifetime
	// for upstream fills; it becomes the response's max-age.
	TTL time.Duration
}

// TieredCache implements the read-through fill: local tier, then Redis,
// then the origin, writing results back into both tiers on the way out.
type TieredCache struct {
	keys     KeyBuilder
	local    *LocalCache
	remote   Remote
	origin   Origin
	counters *metrics.Collector
	logger   zerolog.Logger
}

// NewTieredCache wires the cache hierarchy together.
func NewTieredCache(keys KeyBuilder, local *LocalCache, remote Remote, origin Origin, counters *metrics.Collector) *TieredCache {
	return &TieredCache{
		keys:     keys,
		local:    local,
		remote:   remote,
		origin:   origin,
		counters: counters,
		logger:   logging.NewLogger("tiered-cache"),
	}
}

// Keys returns the key builder, for callers that need the canonical form.
func (t *TieredCache) Keys() KeyBuilder {
	return t.keys
}

// Local returns the local tier, for diagnostics.
func (t *TieredCache) Local() *LocalCache {
	return t.local
}

// Resolve serves one tile request through the cache hierarchy.
//
// The only error it can return is an upstream fetch failure (as a
// *upstream.FetchError wrapped or direct); cache-tier failures degrade to
// misses and cache writes are best-effort, so already-fetched content is
// always returned.
func (t *TieredCache) Resolve(ctx context.Context, path string, query url.Values) (*Result, error) {
	key := t.keys.Canonical(path, query)

	// Tier 1: local
	if entry, ok := t.local.Get(key); ok {
		t.counters.RecordLocalHit()
		remaining := entry.RemainingTTL(time.Now())
		if remaining < time.Second {
			remaining = time.Second
		}
		t.logger.Debug().Str("key", key).Str("layer", "local").Msg("Cache hit")
		return &Result{
			Body:        entry.Body,
			ContentType: entry.ContentType,
			Tier:        TierLocal,
			TTL:         remaining,
		}, nil
	}

	// Tier 2: Redis
	redisKey := t.keys.RedisKey(key)
	if body, contentType, remaining, ok := t.remote.Read(ctx, redisKey); ok {
		t.local.Set(key, body, contentType, remaining)
		t.counters.RecordRedisHit()
		t.logger.Debug().Str("key", key).Str("layer", "redis").Dur("ttl", remaining).Msg("Cache hit")
		return &Result{
			Body:        body,
			ContentType: contentType,
			Tier:        TierRedis,
			TTL:         remaining,
		}, nil
	}

	// Origin fill
	cacheMisses.Inc()
	result, err := t.origin.Fetch(ctx, key)
	if err != nil {
		t.counters.RecordUpstreamError()
		return nil, err
	}
	t.counters.RecordUpstreamCall()

	t.remote.Write(ctx, redisKey, result.Body, result.ContentType, result.TTL)
	t.local.Set(key, result.Body, result.ContentType, result.TTL)

	t.logger.Debug().Str("key", key).Dur("ttl", result.TTL).Msg("Filled from upstream")
	return &Result{
		Body:        result.Body,
		ContentType: result.ContentType,
		Tier:        TierMiss,
		TTL:         result.TTL,
	}, nil
}
