// Package testutil provides testing utilities for the tile proxy.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockTileResponse defines the behavior for a mock tile endpoint response.
type MockTileResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
	Delay      time.Duration
}

// MockTiles is a configurable mock tile provider for testing.
type MockTiles struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount   int
	LastRequestURL string
	pathCounts     map[string]int
}

// NewMockTiles creates a new mock tile provider.
func NewMockTiles() *MockTiles {
	mock := &MockTiles{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.LastRequestURL = r.URL.String()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockTiles) URL() string {
	return m.server.URL
}

// BaseURL returns the mock server URL with a trailing slash, suitable as an
// upstream base URL.
func (m *MockTiles) BaseURL() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockTiles) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockTiles) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestURL = ""
	m.pathCounts = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockTiles) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockTiles) SetResponse(path string, resp MockTileResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if len(resp.Body) > 0 {
			w.Write(resp.Body)
		}
	})
}

// SetTileResponse configures a tile at the given zoom/x/y coordinates.
func (m *MockTiles) SetTileResponse(zoom, x, y int, resp MockTileResponse) {
	m.SetResponse(fmt.Sprintf("/tile/%d/%d/%d", zoom, x, y), resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockTiles) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to one path.
func (m *MockTiles) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// defaultHandler serves a small PNG-like payload with a short max-age.
func (m *MockTiles) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(TilePNG())
}

// TilePNG returns a payload standing in for tile image bytes.
func TilePNG() []byte {
	return []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
}

// NewTileResponse creates a standard 200 OK tile response with the given
// max-age.
func NewTileResponse(body []byte, maxAge int) MockTileResponse {
	return MockTileResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":  "image/png",
			"Cache-Control": fmt.Sprintf("public, max-age=%d", maxAge),
		},
	}
}

// NewNotFoundResponse creates a 404 response as the provider sends for
// coordinates outside the tile pyramid.
func NewNotFoundResponse() MockTileResponse {
	return MockTileResponse{
		StatusCode: http.StatusNotFound,
		Body:       []byte(`{"error": "tile not found"}`),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockTileResponse {
	return MockTileResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte(`{"error": "tile backend overloaded"}`),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
