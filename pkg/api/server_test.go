package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleettrack/tile-proxy/internal/testutil"
	"github.com/fleettrack/tile-proxy/pkg/cache"
	"github.com/fleettrack/tile-proxy/pkg/fleet"
	"github.com/fleettrack/tile-proxy/pkg/metrics"
	"github.com/fleettrack/tile-proxy/pkg/status"
	"github.com/fleettrack/tile-proxy/pkg/upstream"
)

// memRemote is an in-memory Redis tier stand-in.
type memRemote struct {
	entries map[string]memEntry
}

type memEntry struct {
	body        []byte
	contentType string
	ttl         time.Duration
}

func newMemRemote() *memRemote {
	return &memRemote{entries: make(map[string]memEntry)}
}

func (m *memRemote) Read(ctx context.Context, key string) ([]byte, string, time.Duration, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, "", 0, false
	}
	return e.body, e.contentType, e.ttl, true
}

func (m *memRemote) Write(ctx context.Context, key string, body []byte, contentType string, ttl time.Duration) {
	m.entries[key] = memEntry{body: body, contentType: contentType, ttl: ttl}
}

type testProxy struct {
	server   *httptest.Server
	tiles    *testutil.MockTiles
	remote   *memRemote
	counters *metrics.Collector
	tiered   *cache.TieredCache
}

func newTestProxy(t *testing.T) *testProxy {
	t.Helper()

	tiles := testutil.NewMockTiles()
	t.Cleanup(tiles.Close)

	counters := metrics.NewCollector()
	keys := cache.NewKeyBuilder(tiles.BaseURL(), "tileproxy:")
	local := cache.NewLocalCache(100)
	remote := newMemRemote()

	fetcherCfg := upstream.DefaultConfig()
	fetcherCfg.TotalTimeout = 5 * time.Second
	fetcher := upstream.NewFetcher(fetcherCfg)
	t.Cleanup(fetcher.CloseIdleConnections)

	tiered := cache.NewTieredCache(keys, local, remote, fetcher, counters)

	srv := NewServer(tiered, counters, status.NewReporter(local), fleet.NewHandler(10, 0))
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &testProxy{server: ts, tiles: tiles, remote: remote, counters: counters, tiered: tiered}
}

func (p *testProxy) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(p.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

func TestServer_MissThenLocalHit(t *testing.T) {
	p := newTestProxy(t)
	p.tiles.SetTileResponse(1, 2, 3, testutil.NewTileResponse([]byte("tile-123"), 300))

	resp := p.get(t, "/proxy/tile/1/2/3?apiKey=abc")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != cache.TierMiss {
		t.Errorf("X-Cache = %q, want %s", got, cache.TierMiss)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=300" {
		t.Errorf("Cache-Control = %q, want public, max-age=300", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
	if string(body) != "tile-123" {
		t.Errorf("body = %q, want tile-123", body)
	}

	// Second identical request must be answered locally.
	resp = p.get(t, "/proxy/tile/1/2/3?apiKey=abc")
	io.Copy(io.Discard, resp.Body)
	xCache := resp.Header.Get("X-Cache")
	resp.Body.Close()

	if xCache != cache.TierLocal {
		t.Errorf("X-Cache = %q, want %s", xCache, cache.TierLocal)
	}
	if got := p.tiles.GetRequestCount(); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

func TestServer_RedisHit(t *testing.T) {
	p := newTestProxy(t)

	// Populate only the shared tier, as another instance would have.
	key := p.tiered.Keys().Canonical("tile/4/5/6", nil)
	p.remote.Write(context.Background(), p.tiered.Keys().RedisKey(key),
		[]byte("shared-tile"), "image/png", 90*time.Second)

	resp := p.get(t, "/proxy/tile/4/5/6")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if got := resp.Header.Get("X-Cache"); got != cache.TierRedis {
		t.Errorf("X-Cache = %q, want %s", got, cache.TierRedis)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=90" {
		t.Errorf("Cache-Control = %q, want remaining shared-tier TTL of 90s", got)
	}
	if string(body) != "shared-tile" {
		t.Errorf("body = %q, want shared-tile", body)
	}
	if got := p.tiles.GetRequestCount(); got != 0 {
		t.Errorf("upstream requests = %d, want 0", got)
	}
}

func TestServer_ClientTagSharesCacheEntry(t *testing.T) {
	p := newTestProxy(t)

	resp := p.get(t, "/proxy/tile/1/2/3?apiKey=abc&client_tag=fleet-app")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !strings.Contains(p.tiles.LastRequestURL, "apiKey=abc") {
		t.Errorf("upstream URL %q should keep real parameters", p.tiles.LastRequestURL)
	}
	if strings.Contains(p.tiles.LastRequestURL, "client_tag") {
		t.Errorf("upstream URL %q must not carry the client tag", p.tiles.LastRequestURL)
	}

	// Same tile under a different tag is the same cache entry.
	resp = p.get(t, "/proxy/tile/1/2/3?apiKey=abc&client_tag=other-app")
	xCache := resp.Header.Get("X-Cache")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if xCache != cache.TierLocal {
		t.Errorf("X-Cache = %q, want %s across differing client tags", xCache, cache.TierLocal)
	}
}

func TestServer_UpstreamStatusPropagated(t *testing.T) {
	p := newTestProxy(t)
	p.tiles.SetTileResponse(9, 9, 9, testutil.NewNotFoundResponse())

	resp := p.get(t, "/proxy/tile/9/9/9")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 propagated", resp.StatusCode)
	}

	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if payload["error"] == "" {
		t.Error("error body should carry an error message")
	}
}

func TestServer_TransportFailureIs502(t *testing.T) {
	p := newTestProxy(t)
	// Kill the upstream so the fetch fails at the transport level.
	p.tiles.Close()

	resp := p.get(t, "/proxy/tile/1/2/3")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}

	s := p.counters.Snapshot()
	if s.UpstreamErrors != 1 {
		t.Errorf("UpstreamErrors = %d, want 1", s.UpstreamErrors)
	}
}

func TestServer_Options(t *testing.T) {
	p := newTestProxy(t)

	req, _ := http.NewRequest(http.MethodOptions, p.server.URL+"/proxy/tile/1/2/3", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "GET") {
		t.Errorf("Access-Control-Allow-Methods = %q, want GET included", got)
	}
	if got := p.tiles.GetRequestCount(); got != 0 {
		t.Errorf("OPTIONS must not reach the upstream, got %d requests", got)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	p := newTestProxy(t)

	resp, err := http.Post(p.server.URL+"/proxy/tile/1/2/3", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_MetricsJSON(t *testing.T) {
	p := newTestProxy(t)

	// Serve one tile so the counters move.
	resp := p.get(t, "/proxy/tile/1/2/3")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp = p.get(t, "/metrics")
	defer resp.Body.Close()

	var snapshot metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("metrics body is not JSON: %v", err)
	}
	if snapshot.TotalRequests != 1 || snapshot.UpstreamCalls != 1 {
		t.Errorf("snapshot = %+v, want 1 request and 1 upstream call", snapshot)
	}
}

func TestServer_MetricsText(t *testing.T) {
	p := newTestProxy(t)

	resp := p.get(t, "/metrics/prometheus")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	text := string(body)
	if !strings.Contains(text, "total_requests 0\n") {
		t.Errorf("text format missing total_requests line:\n%s", text)
	}
	if !strings.HasSuffix(text, "\n") {
		t.Error("text format should end with a newline")
	}
}

func TestServer_DebugMetricsExposition(t *testing.T) {
	p := newTestProxy(t)

	resp := p.get(t, "/debug/metrics")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "tileproxy_") {
		t.Error("Prometheus exposition should carry tileproxy metrics")
	}
}

func TestServer_SystemStatus(t *testing.T) {
	p := newTestProxy(t)

	resp := p.get(t, "/system-status")
	defer resp.Body.Close()

	var report status.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("status body is not JSON: %v", err)
	}
	if report.LocalCache.Capacity != 100 {
		t.Errorf("LocalCache.Capacity = %d, want 100", report.LocalCache.Capacity)
	}
}

func TestServer_Healthz(t *testing.T) {
	p := newTestProxy(t)

	resp := p.get(t, "/healthz")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("healthz = %d %q, want 200 OK", resp.StatusCode, body)
	}
}

func TestServer_FleetEndpoints(t *testing.T) {
	p := newTestProxy(t)

	resp := p.get(t, "/fleet/current")
	var vehicles []fleet.Vehicle
	if err := json.NewDecoder(resp.Body).Decode(&vehicles); err != nil {
		t.Fatalf("fleet body is not JSON: %v", err)
	}
	resp.Body.Close()
	if len(vehicles) != 10 {
		t.Errorf("got %d vehicles, want 10", len(vehicles))
	}

	// Explicit Accept-Encoding disables the transport's transparent
	// decompression so the raw gzip stream is observable.
	req, _ := http.NewRequest(http.MethodGet, p.server.URL+"/fleet/stream", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /fleet/stream failed: %v", err)
	}
	defer resp.Body.Close()
	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("fleet stream is not gzip: %v", err)
	}
	var c fleet.Columnar
	if err := json.NewDecoder(gz).Decode(&c); err != nil {
		t.Fatalf("fleet stream is not columnar JSON: %v", err)
	}
	if len(c.SpeedVal) != 10 {
		t.Errorf("got %d columnar rows, want 10", len(c.SpeedVal))
	}
}
