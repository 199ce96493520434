package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleettrack/tile-proxy/pkg/api"
	"github.com/fleettrack/tile-proxy/pkg/cache"
	"github.com/fleettrack/tile-proxy/pkg/config"
	"github.com/fleettrack/tile-proxy/pkg/fleet"
	"github.com/fleettrack/tile-proxy/pkg/logging"
	"github.com/fleettrack/tile-proxy/pkg/metrics"
	"github.com/fleettrack/tile-proxy/pkg/status"
	"github.com/fleettrack/tile-proxy/pkg/upstream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logging.Setup(logging.Config{Level: logging.LogLevel(cfg.LogLevel), Pretty: cfg.LogPretty})
	logger := logging.NewLogger("main")

	redisOpts := &redis.Options{
		Addr:         cfg.RedisAddr(),
		DB:           cfg.RedisDB,
		Password:     cfg.RedisPassword,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
		PoolSize:     cfg.RedisPoolSize,
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// The Redis tier degrades to misses, so a dead Redis delays nothing
		// but cache sharing.
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr()).Msg("Redis unreachable at startup, continuing degraded")
	} else {
		logger.Info().Str("addr", cfg.RedisAddr()).Msg("Connected to Redis")
	}

	counters := metrics.NewCollector()
	keys := cache.NewKeyBuilder(cfg.UpstreamBaseURL, cfg.RedisKeyPrefix)

	capacity := cache.ComputeCapacity(cfg.MaxMemoryPercent, cfg.AvgEntryBytes, logger)
	local := cache.NewLocalCache(capacity)
	remote := cache.NewRemoteCache(rdb, counters)

	fetcher := upstream.NewFetcher(upstream.Config{
		ConnectTimeout: cfg.UpstreamConnectTimeout,
		HeaderTimeout:  cfg.UpstreamHeaderTimeout,
		TotalTimeout:   cfg.UpstreamTotalTimeout,
		MaxConns:       cfg.UpstreamMaxConns,
		MaxIdle:        cfg.UpstreamMaxIdle,
		DefaultTTL:     cfg.DefaultTTL,
	})
	defer fetcher.CloseIdleConnections()

	tiered := cache.NewTieredCache(keys, local, remote, fetcher, counters)

	invalidator := cache.NewInvalidator(rdb, redisOpts, keys, local, counters)
	defer invalidator.Close()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go invalidator.Run(runCtx)

	server := api.NewServer(tiered, counters,
		status.NewReporter(local),
		fleet.NewHandler(cfg.FleetSize, cfg.FleetDelay))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: server.Routes(),
	}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr()).
			Str("upstream", cfg.UpstreamBaseURL).
			Int("local_capacity", capacity).
			Msg("Tile proxy listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-runCtx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown incomplete")
	}
}
