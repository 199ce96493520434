package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fleettrack/tile-proxy/pkg/logging"
	"github.com/fleettrack/tile-proxy/pkg/metrics"
)

// Hash fields of a tile record. The record is self-contained so any proxy
// instance can interpret it; expiry rides on the Redis key TTL, never
// duplicated inside the value.
const (
	fieldBody        = "b"
	fieldContentType = "ct"
)

// DefaultContentType is assumed when a stored record lacks a content type.
const DefaultContentType = "image/png"

// RemoteCache is the shared Redis cache tier. All round trips are pipelined:
// a read or write costs one network exchange no matter how many fields the
// record carries.
//
// Redis failures never propagate to the request path. A failed read is a
// cache miss and a failed write is dropped; both are counted.
type RemoteCache struct {
	rdb      *redis.Client
	counters *metrics.Collector
	logger   zerolog.Logger
}

// NewRemoteCache creates a RemoteCache on the given client.
func NewRemoteCache(rdb *redis.Client, counters *metrics.Collector) *RemoteCache {
	if rdb == nil {
		panic("redis client cannot be nil")
	}
	return &RemoteCache{
		rdb:      rdb,
		counters: counters,
		logger:   logging.NewLogger("remote-cache"),
	}
}

// Read fetches the tile record and its remaining TTL in a single pipelined
// round trip. Returns ok=false on miss, on a record with no remaining TTL,
// and on any transport error.
func (r *RemoteCache) Read(ctx context.Context, key string) (body []byte, contentType string, ttl time.Duration, ok bool) {
	pipe := r.rdb.Pipeline()
	fieldsCmd := pipe.HMGet(ctx, key, fieldBody, fieldContentType)
	ttlCmd := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		r.counters.RecordRemoteError()
		cacheErrors.WithLabelValues("read").Inc()
		r.logger.Warn().Err(err).Str("key", key).Msg("Redis read failed, treating as miss")
		return nil, "", 0, false
	}

	fields := fieldsCmd.Val()
	if len(fields) != 2 || fields[0] == nil {
		return nil, "", 0, false
	}

	bodyStr, _ := fields[0].(string)
	if bodyStr == "" {
		return nil, "", 0, false
	}

	remaining := ttlCmd.Val()
	if remaining <= 0 {
		// Key vanished or has no expiry between our HMGET and TTL; either
		// way it is not trustworthy cache content.
		return nil, "", 0, false
	}

	contentType = DefaultContentType
	if ct, _ := fields[1].(string); ct != "" {
		contentType = ct
	}

	return []byte(bodyStr), contentType, remaining, true
}

// Write stores the tile record and sets its expiry in a single pipelined
// round trip. Errors are swallowed after being counted: a failed cache write
// must never prevent serving already-fetched content. A non-positive TTL is
// a no-op.
func (r *RemoteCache) Write(ctx context.Context, key string, body []byte, contentType string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, key, fieldBody, body, fieldContentType, contentType)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		r.counters.RecordRemoteError()
		cacheErrors.WithLabelValues("write").Inc()
		r.logger.Warn().Err(err).Str("key", key).Msg("Redis write failed, content served uncached")
	}
}
