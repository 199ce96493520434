// Package upstream fetches tiles from the origin tile provider over a
// pooled HTTP client and derives cache lifetimes from response headers.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/fleettrack/tile-proxy/pkg/logging"
)

// Prometheus metrics for upstream fetches.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileproxy_upstream_requests_total",
		Help: "Total upstream tile requests by HTTP status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tileproxy_upstream_request_duration_seconds",
		Help:    "Upstream tile request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	upstreamFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tileproxy_upstream_fetch_errors_total",
		Help: "Total failed upstream fetches by error class",
	}, []string{"class"})
)

// maxAgePattern extracts the max-age directive from a Cache-Control header.
var maxAgePattern = regexp.MustCompile(`max-age=(\d+)`)

// DefaultContentType is assumed when the origin omits a Content-Type header.
const DefaultContentType = "image/png"

// TileResult is a successfully fetched tile with its derived cache lifetime.
type TileResult struct {
	Body        []byte
	ContentType string
	TTL         time.Duration
	StatusCode  int
}

// Config holds the fetcher configuration.
type Config struct {
	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration

	// HeaderTimeout bounds the wait for upstream response headers.
	HeaderTimeout time.Duration

	// TotalTimeout bounds the whole request including body transfer.
	TotalTimeout time.Duration

	// MaxConns caps concurrent connections to the provider.
	MaxConns int

	// MaxIdle caps pooled keep-alive connections.
	MaxIdle int

	// DefaultTTL is applied when the origin sends no usable max-age; it is
	// also the upper clamp for origin-provided values.
	DefaultTTL time.Duration
}

// DefaultConfig returns the connection limits the proxy has always used
// against the tile provider.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		HeaderTimeout:  10 * time.Second,
		TotalTimeout:   30 * time.Second,
		MaxConns:       200,
		MaxIdle:        100,
		DefaultTTL:     3600 * time.Second,
	}
}

// Fetcher issues pooled HTTP GETs to the upstream tile provider.
type Fetcher struct {
	client     *http.Client
	defaultTTL time.Duration
	logger     zerolog.Logger
}

// NewFetcher creates a Fetcher with a dedicated connection pool.
func NewFetcher(cfg Config) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		MaxConnsPerHost:       cfg.MaxConns,
		MaxIdleConns:          cfg.MaxIdle,
		MaxIdleConnsPerHost:   cfg.MaxIdle,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
		},
		defaultTTL: cfg.DefaultTTL,
		logger:     logging.NewLogger("upstream"),
	}
}

// Fetch issues a GET for the given tile URL.
//
// Transport failures and non-2xx responses return a *FetchError; error
// response bodies are never treated as tile content. On success the TTL is
// derived from the Cache-Control max-age directive, clamped to
// [1s, DefaultTTL], and applies identically to both cache tiers.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*TileResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := f.client.Do(req)
	upstreamRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		upstreamFetchErrors.WithLabelValues(string(ErrorClassNetwork)).Inc()
		f.logger.Error().Err(err).Str("url", url).Msg("Upstream request failed")
		return nil, &FetchError{URL: url, Class: ErrorClassNetwork, Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		upstreamFetchErrors.WithLabelValues(string(class)).Inc()
		f.logger.Warn().
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream returned error status")
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Class: class}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		upstreamFetchErrors.WithLabelValues(string(ErrorClassNetwork)).Inc()
		f.logger.Error().Err(err).Str("url", url).Msg("Reading upstream body failed")
		return nil, &FetchError{URL: url, Class: ErrorClassNetwork, Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}

	return &TileResult{
		Body:        body,
		ContentType: contentType,
		TTL:         ttlFromHeaders(resp.Header, f.defaultTTL),
		StatusCode:  resp.StatusCode,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.client = client
}

// CloseIdleConnections drains the connection pool at shutdown.
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

// ttlFromHeaders derives the cache TTL from the Cache-Control max-age
// directive, clamped to [1s, defaultTTL]. Absent or unparsable values fall
// back to defaultTTL.
func ttlFromHeaders(headers http.Header, defaultTTL time.Duration) time.Duration {
	match := maxAgePattern.FindStringSubmatch(headers.Get("Cache-Control"))
	if match == nil {
		return defaultTTL
	}

	seconds, err := strconv.Atoi(match[1])
	if err != nil {
		return defaultTTL
	}

	ttl := time.Duration(seconds) * time.Second
	if ttl < time.Second {
		return time.Second
	}
	if ttl > defaultTTL {
		return defaultTTL
	}
	return ttl
}
