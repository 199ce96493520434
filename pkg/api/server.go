// Package api exposes the tile proxy over HTTP: the tile endpoint itself
// plus metrics, status and synthetic fleet endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fleettrack/tile-proxy/pkg/cache"
	"github.com/fleettrack/tile-proxy/pkg/fleet"
	"github.com/fleettrack/tile-proxy/pkg/logging"
	"github.com/fleettrack/tile-proxy/pkg/metrics"
	"github.com/fleettrack/tile-proxy/pkg/status"
	"github.com/fleettrack/tile-proxy/pkg/upstream"
)

// proxyPrefix is the path prefix under which tile requests are served.
const proxyPrefix = "/proxy/"

// untaggedClient is the label used when a request carries no client tag.
const untaggedClient = "untagged"

var clientRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tileproxy_client_requests_total",
	Help: "Total tile requests by client tag",
}, []string{"tag"})

// Server routes HTTP traffic to the cache hierarchy and the operational
// endpoints.
type Server struct {
	tiered   *cache.TieredCache
	counters *metrics.Collector
	reporter *status.Reporter
	fleet    *fleet.Handler
	logger   zerolog.Logger
}

// NewServer creates a Server over the given components.
func NewServer(tiered *cache.TieredCache, counters *metrics.Collector, reporter *status.Reporter, fleetHandler *fleet.Handler) *Server {
	return &Server{
		tiered:   tiered,
		counters: counters,
		reporter: reporter,
		fleet:    fleetHandler,
		logger:   logging.NewLogger("api"),
	}
}

// Routes returns the full request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(proxyPrefix, s.handleTile)
	mux.HandleFunc("/metrics", s.handleMetricsJSON)
	mux.HandleFunc("/metrics/prometheus", s.handleMetricsText)
	mux.Handle("/debug/metrics", promhttp.Handler())
	mux.HandleFunc("/system-status", s.handleSystemStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/fleet/current", s.fleet.Current)
	mux.HandleFunc("/fleet/stream", s.fleet.Stream)
	return mux
}

// handleTile serves one tile request through the cache hierarchy.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, proxyPrefix)
	query := r.URL.Query()

	tag := query.Get(cache.MetricsTagParam)
	if tag == "" {
		tag = untaggedClient
	}
	clientRequests.WithLabelValues(tag).Inc()

	result, err := s.tiered.Resolve(r.Context(), path, query)
	if err != nil {
		statusCode, message := upstreamErrorResponse(err)
		s.logger.Warn().
			Err(err).
			Str("path", path).
			Int("status_code", statusCode).
			Msg("Tile request failed")
		writeJSONError(w, statusCode, message)
		return
	}

	maxAge := int(result.TTL.Seconds())
	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	w.Header().Set("X-Cache", result.Tier)
	w.Write(result.Body)
}

// upstreamErrorResponse maps a resolve failure to a response status and
// message. Transport failures become 502, upstream status errors are
// propagated as-is.
func upstreamErrorResponse(err error) (int, string) {
	var fe *upstream.FetchError
	if errors.As(err, &fe) && fe.StatusCode != 0 {
		return fe.StatusCode, fmt.Sprintf("upstream returned status %d", fe.StatusCode)
	}
	return http.StatusBadGateway, "upstream fetch failed"
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(s.counters.Snapshot()); err != nil {
		s.logger.Warn().Err(err).Msg("Writing metrics snapshot failed")
	}
}

func (s *Server) handleMetricsText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.counters.RenderText())
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(s.reporter.Snapshot(r.Context())); err != nil {
		s.logger.Warn().Err(err).Msg("Writing status report failed")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// setCORSHeaders allows browsers on any origin to request tiles; the proxy
// fronts a public tile API and carries no credentials.
func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("Access-Control-Max-Age", "86400")
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
