// Package config loads tile-proxy configuration from environment variables.
// Every setting is optional and falls back to a safe default, so a bare
// `tile-proxy` invocation works against a local Redis and the public tile API.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the full process configuration.
type Config struct {
	// Redis connection
	RedisHost         string
	RedisPort         int
	RedisDB           int
	RedisPassword     string
	RedisKeyPrefix    string
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration
	RedisPoolSize     int

	// Cache sizing and lifetime
	DefaultTTL       time.Duration
	AvgEntryBytes    int
	MaxMemoryPercent int

	// Upstream tile provider
	UpstreamBaseURL        string
	UpstreamConnectTimeout time.Duration
	UpstreamHeaderTimeout  time.Duration
	UpstreamTotalTimeout   time.Duration
	UpstreamMaxConns       int
	UpstreamMaxIdle        int

	// HTTP server
	ListenHost string
	ListenPort int

	// Logging
	LogLevel  string
	LogPretty bool

	// Synthetic fleet endpoints
	FleetSize  int
	FleetDelay time.Duration
}

// Default values. Pool and timeout figures match the connection limits the
// proxy has always run with in production.
const (
	DefaultRedisHost        = "localhost"
	DefaultRedisPort        = 6379
	DefaultRedisKeyPrefix   = "tileproxy:"
	DefaultTTLSeconds       = 3600
	DefaultAvgEntryBytes    = 400 * 1024
	DefaultMaxMemoryPercent = 20
	DefaultUpstreamBaseURL  = "https://maps.hereapi.com/v3/base/mc/"
	DefaultListenPort       = 8000
	DefaultFleetSize        = 20000
)

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		RedisHost:         getEnv("REDIS_HOST", DefaultRedisHost),
		RedisPort:         getEnvInt("REDIS_PORT", DefaultRedisPort),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", DefaultRedisKeyPrefix),
		RedisDialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisPoolSize:     getEnvInt("REDIS_POOL_SIZE", 20),

		DefaultTTL:       getEnvDuration("CACHE_DEFAULT_TTL", DefaultTTLSeconds*time.Second),
		AvgEntryBytes:    getEnvInt("CACHE_AVG_ENTRY_BYTES", DefaultAvgEntryBytes),
		MaxMemoryPercent: getEnvInt("CACHE_MAX_MEMORY_PERCENT", DefaultMaxMemoryPercent),

		UpstreamBaseURL:        getEnv("UPSTREAM_BASE_URL", DefaultUpstreamBaseURL),
		UpstreamConnectTimeout: getEnvDuration("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamHeaderTimeout:  getEnvDuration("UPSTREAM_HEADER_TIMEOUT", 10*time.Second),
		UpstreamTotalTimeout:   getEnvDuration("UPSTREAM_TOTAL_TIMEOUT", 30*time.Second),
		UpstreamMaxConns:       getEnvInt("UPSTREAM_MAX_CONNS", 200),
		UpstreamMaxIdle:        getEnvInt("UPSTREAM_MAX_IDLE", 100),

		ListenHost: getEnv("LISTEN_HOST", "0.0.0.0"),
		ListenPort: getEnvInt("LISTEN_PORT", DefaultListenPort),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),

		FleetSize:  getEnvInt("FLEET_SIZE", DefaultFleetSize),
		FleetDelay: getEnvDuration("FLEET_DELAY", 2*time.Second),
	}
}

// RedisAddr returns the host:port address for the Redis client.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// ListenAddr returns the host:port address for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid boolean in environment, using default")
		return defaultValue
	}
	return b
}

// getEnvDuration accepts Go duration strings ("30s") and, for compatibility
// with the previous deployment, bare integers interpreted as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
	return defaultValue
}
