package fleet

import (
	"compress/gzip"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleettrack/tile-proxy/pkg/logging"
)

// streamChunkSize is how much compressed data is flushed per chunk.
const streamChunkSize = 8192

// Handler serves the fleet telemetry endpoints.
type Handler struct {
	size   int
	delay  time.Duration
	logger zerolog.Logger
}

// NewHandler creates a fleet Handler producing size vehicles per response.
// delay is applied to the current-snapshot endpoint to mimic the latency of
// a live tracking backend.
func NewHandler(size int, delay time.Duration) *Handler {
	return &Handler{
		size:   size,
		delay:  delay,
		logger: logging.NewLogger("fleet"),
	}
}

// Current responds with the whole fleet as a JSON array after the
// configured delay.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
		return
	case <-time.After(h.delay):
	}

	vehicles := Generate(h.size)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(vehicles); err != nil {
		h.logger.Warn().Err(err).Msg("Writing fleet snapshot failed")
	}
}

// Stream responds with the fleet in columnar form, gzip-compressed and
// flushed in fixed-size chunks so clients can start decompressing before
// the response completes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	columnar := ToColumnar(Generate(h.size))

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Cache-Control", "no-cache")

	cw := &chunkedWriter{w: w, chunkSize: streamChunkSize}
	gz := gzip.NewWriter(cw)

	if err := json.NewEncoder(gz).Encode(columnar); err != nil {
		h.logger.Warn().Err(err).Msg("Streaming fleet data failed")
		return
	}
	if err := gz.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("Closing fleet gzip stream failed")
	}
	cw.Flush()
}

// chunkedWriter buffers writes and flushes the underlying ResponseWriter
// every chunkSize bytes.
type chunkedWriter struct {
	w         http.ResponseWriter
	chunkSize int
	buffered  int
}

func (c *chunkedWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.buffered += n
	if c.buffered >= c.chunkSize {
		c.Flush()
	}
	return n, err
}

func (c *chunkedWriter) Flush() {
	if f, ok := c.w.(http.Flusher); ok {
		f.Flush()
	}
	c.buffered = 0
}
