package cache

import (
	"net/url"
	"sort"
	"strings"
)

// MetricsTagParam is reserved for per-client request accounting. It is
// stripped before key derivation and never forwarded upstream.
const MetricsTagParam = "client_tag"

// redundantPathSegment duplicates the trailing segment of the upstream base
// path; clients routinely include it, so it is stripped before composing the
// upstream URL.
const redundantPathSegment = "mc/"

// KeyBuilder derives canonical cache keys from tile request paths and query
// parameters. The canonical form doubles as the upstream fetch URL, so one
// string addresses the local tier, the Redis tier (with a namespace prefix)
// and the origin.
type KeyBuilder struct {
	baseURL string
	prefix  string
}

// NewKeyBuilder creates a KeyBuilder for the given upstream base URL and
// Redis namespace prefix.
func NewKeyBuilder(baseURL, redisPrefix string) KeyBuilder {
	return KeyBuilder{baseURL: baseURL, prefix: redisPrefix}
}

// Prefix returns the Redis namespace prefix.
func (b KeyBuilder) Prefix() string {
	return b.prefix
}

// Canonical derives the canonical key for a tile request.
//
// The path is normalized (redundant leading segment removed), reserved
// parameters are dropped, and the remaining parameters are sorted by key then
// value so that any permutation of the same parameter set yields the same
// key. Multi-valued parameters keep every value.
func (b KeyBuilder) Canonical(path string, query url.Values) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimPrefix(path, redundantPathSegment)

	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(query))
	for k, vs := range query {
		if k == MetricsTagParam {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var sb strings.Builder
	sb.WriteString(b.baseURL)
	sb.WriteString(path)
	sb.WriteByte('?')
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.v))
	}
	return sb.String()
}

// RedisKey returns the Redis-side key for a canonical key.
func (b KeyBuilder) RedisKey(canonical string) string {
	return b.prefix + canonical
}

// StripPrefix removes the Redis namespace prefix from a key pushed by the
// invalidation channel. The second return value reports whether the key was
// inside our namespace at all.
func (b KeyBuilder) StripPrefix(redisKey string) (string, bool) {
	if !strings.HasPrefix(redisKey, b.prefix) {
		return "", false
	}
	return redisKey[len(b.prefix):], true
}
