// Command redis-check verifies connectivity and basic round-trip health of
// the Redis instance the tile proxy will use. It exits 0 when all checks
// pass and 1 otherwise, so it can gate deployments.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleettrack/tile-proxy/pkg/config"
)

const perfCycles = 100

func main() {
	cfg := config.Load()

	fmt.Println("Redis connectivity check")
	fmt.Printf("  addr: %s  db: %d  timeout: %s\n", cfg.RedisAddr(), cfg.RedisDB, cfg.RedisDialTimeout)

	if run(cfg) {
		fmt.Println("all checks passed")
		os.Exit(0)
	}
	fmt.Println("checks FAILED")
	os.Exit(1)
}

func run(cfg config.Config) bool {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		DB:           cfg.RedisDB,
		Password:     cfg.RedisPassword,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Ping round trip
	start := time.Now()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Printf("  ping: FAILED (%v)\n", err)
		return false
	}
	fmt.Printf("  ping: ok (%.2fms)\n", float64(time.Since(start).Microseconds())/1000)

	// Server info
	if raw, err := rdb.Info(ctx, "server", "clients", "memory").Result(); err != nil {
		fmt.Printf("  info: unavailable (%v)\n", err)
	} else {
		info := parseInfo(raw)
		fmt.Printf("  version: %s  uptime: %ss\n", info["redis_version"], info["uptime_in_seconds"])
		fmt.Printf("  clients: %s  memory: %s\n", info["connected_clients"], info["used_memory_human"])
	}

	// Write, read, delete one probe key
	probeKey := cfg.RedisKeyPrefix + "check:" + fmt.Sprint(time.Now().Unix())
	probeValue := fmt.Sprintf("check_%d", time.Now().UnixNano())

	if err := rdb.Set(ctx, probeKey, probeValue, time.Minute).Err(); err != nil {
		fmt.Printf("  set: FAILED (%v)\n", err)
		return false
	}
	got, err := rdb.Get(ctx, probeKey).Result()
	if err != nil {
		fmt.Printf("  get: FAILED (%v)\n", err)
		return false
	}
	if got != probeValue {
		fmt.Printf("  get: FAILED (wrote %q, read %q)\n", probeValue, got)
		return false
	}
	if err := rdb.Del(ctx, probeKey).Err(); err != nil {
		fmt.Printf("  del: FAILED (%v)\n", err)
		return false
	}
	fmt.Println("  set/get/del: ok")

	// Round-trip throughput
	start = time.Now()
	for i := 0; i < perfCycles; i++ {
		key := fmt.Sprintf("%scheck:perf:%d", cfg.RedisKeyPrefix, i)
		if err := rdb.Set(ctx, key, i, time.Minute).Err(); err != nil {
			fmt.Printf("  perf: FAILED at cycle %d (%v)\n", i, err)
			return false
		}
		if err := rdb.Get(ctx, key).Err(); err != nil {
			fmt.Printf("  perf: FAILED at cycle %d (%v)\n", i, err)
			return false
		}
		if err := rdb.Del(ctx, key).Err(); err != nil {
			fmt.Printf("  perf: FAILED at cycle %d (%v)\n", i, err)
			return false
		}
	}
	elapsed := time.Since(start)
	opsPerSecond := float64(perfCycles*3) / elapsed.Seconds()
	fmt.Printf("  perf: %d set/get/del cycles in %s (%.0f ops/s)\n", perfCycles, elapsed.Round(time.Millisecond), opsPerSecond)

	return true
}

// parseInfo flattens INFO's "key:value" lines into a map, skipping section
// headers and blanks.
func parseInfo(raw string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			info[k] = v
		}
	}
	return info
}
