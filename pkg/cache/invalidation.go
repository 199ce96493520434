package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fleettrack/tile-proxy/pkg/logging"
	"github.com/fleettrack/tile-proxy/pkg/metrics"
)

// invalidationChannel is where Redis delivers client-side caching
// invalidation pushes when tracking is redirected to a RESP2 subscriber.
const invalidationChannel = "__redis__:invalidate"

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

var errSubscriberIDUnknown = errors.New("subscriber connection id unknown")

// Invalidator keeps the local tier consistent with the Redis tier without
// polling. It registers a broadcast, prefix-filtered, echo-suppressed
// tracking subscription and evicts every key Redis reports as changed or
// expired.
//
// Registration sequence:
//
//  1. a dedicated subscriber client (whose OnConnect hook records each new
//     connection's CLIENT ID) subscribes to the invalidation channel;
//  2. CLIENT TRACKING ON REDIRECT <subscriber-id> BCAST PREFIX <ns> NOLOOP
//     is issued on a control connection held open for the session, pointing
//     the server's invalidation stream at the subscriber.
//
// Any failure tears the session down and re-enters an exponential
// backoff-retry loop; Run never blocks process startup and exits cleanly on
// context cancellation.
type Invalidator struct {
	rdb      *redis.Client // shared client owning the control connection
	sub      *redis.Client // dedicated client for the subscription
	keys     KeyBuilder
	local    *LocalCache
	counters *metrics.Collector
	logger   zerolog.Logger

	mu    sync.Mutex
	subID int64
}

// NewInvalidator creates an Invalidator. opts are the connection options of
// the shared client; a private copy with an OnConnect hook is used for the
// subscriber connection.
func NewInvalidator(rdb *redis.Client, opts *redis.Options, keys KeyBuilder, local *LocalCache, counters *metrics.Collector) *Invalidator {
	inv := &Invalidator{
		rdb:      rdb,
		keys:     keys,
		local:    local,
		counters: counters,
		logger:   logging.NewLogger("invalidator"),
	}

	subOpts := *opts
	subOpts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		id, err := cn.ClientID(ctx).Result()
		if err != nil {
			return err
		}
		inv.mu.Lock()
		inv.subID = id
		inv.mu.Unlock()
		return nil
	}
	inv.sub = redis.NewClient(&subOpts)

	return inv
}

// Run drives the subscription until ctx is cancelled. Intended to be started
// in its own goroutine at process start.
func (inv *Invalidator) Run(ctx context.Context) {
	backoff := initialBackoff

	for {
		active, err := inv.listen(ctx)

		inv.counters.SetTrackingActive(false)

		if ctx.Err() != nil {
			inv.logger.Info().Msg("Invalidation listener stopped")
			return
		}

		if active {
			// The session was established and then lost; start the retry
			// schedule over.
			backoff = initialBackoff
			inv.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Invalidation subscription lost")
		} else {
			inv.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Invalidation subscription failed to register")
		}

		select {
		case <-ctx.Done():
			inv.logger.Info().Msg("Invalidation listener stopped")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close releases the subscriber client.
func (inv *Invalidator) Close() error {
	return inv.sub.Close()
}

// listen runs one subscription session. It returns whether the session
// reached the active state before failing.
func (inv *Invalidator) listen(ctx context.Context) (active bool, err error) {
	pubsub := inv.sub.Subscribe(ctx, invalidationChannel)
	defer pubsub.Close()

	// Force the subscribe round trip so the connection exists server-side
	// and OnConnect has recorded its client id.
	if _, err := pubsub.Receive(ctx); err != nil {
		cacheErrors.WithLabelValues("subscribe").Inc()
		return false, err
	}

	inv.mu.Lock()
	subID := inv.subID
	inv.mu.Unlock()
	if subID == 0 {
		cacheErrors.WithLabelValues("subscribe").Inc()
		return false, errSubscriberIDUnknown
	}

	// Tracking state lives on the connection that enables it, so hold a
	// dedicated control connection open for the whole session.
	ctrl := inv.rdb.Conn()
	defer ctrl.Close()

	tracking := redis.NewStatusCmd(ctx,
		"client", "tracking", "on",
		"redirect", subID,
		"bcast", "prefix", inv.keys.Prefix(),
		"noloop",
	)
	if err := ctrl.Process(ctx, tracking); err != nil {
		cacheErrors.WithLabelValues("subscribe").Inc()
		return false, err
	}

	inv.counters.SetTrackingActive(true)
	inv.logger.Info().
		Int64("subscriber_id", subID).
		Str("prefix", inv.keys.Prefix()).
		Msg("Invalidation subscription active")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return true, errors.New("subscription channel closed")
			}
			inv.handleMessage(msg)
		}
	}
}

// handleMessage evicts the keys carried by one invalidation push. Malformed
// messages are logged and dropped; the session continues.
func (inv *Invalidator) handleMessage(msg *redis.Message) {
	keys := decodeInvalidation(msg)
	if keys == nil {
		inv.logger.Warn().
			Str("channel", msg.Channel).
			Str("payload", msg.Payload).
			Msg("Ignoring malformed invalidation message")
		return
	}

	batch := make([]string, 0, len(keys))
	for _, redisKey := range keys {
		if canonical, ok := inv.keys.StripPrefix(redisKey); ok {
			batch = append(batch, canonical)
		}
	}
	if len(batch) == 0 {
		return
	}

	inv.local.Evict(batch...)
	invalidationsTotal.Add(float64(len(batch)))
	inv.logger.Debug().Int("keys", len(batch)).Msg("Evicted invalidated keys from local tier")
}

// decodeInvalidation extracts the key batch from an invalidation push.
// Returns nil when the message shape is not recognized.
func decodeInvalidation(msg *redis.Message) []string {
	if msg == nil || msg.Channel != invalidationChannel {
		return nil
	}
	if len(msg.PayloadSlice) > 0 {
		return msg.PayloadSlice
	}
	if msg.Payload != "" {
		return []string{msg.Payload}
	}
	return nil
}
