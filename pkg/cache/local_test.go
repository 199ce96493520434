package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLocalCache_SetAndGet(t *testing.T) {
	c := NewLocalCache(10)

	c.Set("k1", []byte("tile-bytes"), "image/png", time.Minute)

	entry, ok := c.Get("k1")
	if !ok {
		t.Fatal("Get after Set should hit")
	}
	if string(entry.Body) != "tile-bytes" {
		t.Errorf("Body = %q, want tile-bytes", entry.Body)
	}
	if entry.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", entry.ContentType)
	}

	remaining := entry.RemainingTTL(time.Now())
	if remaining <= 50*time.Second || remaining > time.Minute {
		t.Errorf("RemainingTTL = %v, want close to 1m", remaining)
	}
}

func TestLocalCache_NonPositiveTTLIsNoop(t *testing.T) {
	c := NewLocalCache(10)

	c.Set("k1", []byte("x"), "image/png", 0)
	c.Set("k2", []byte("x"), "image/png", -time.Second)

	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after non-positive TTL sets", c.Len())
	}
}

func TestLocalCache_ExpiredEntryIsAbsent(t *testing.T) {
	c := NewLocalCache(10)

	c.Set("k1", []byte("x"), "image/png", time.Nanosecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("k1"); ok {
		t.Error("expired entry must not be returned")
	}
	// Observed expired entries are physically removed.
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after expired entry observed", c.Len())
	}
}

func TestLocalCache_CapacityBound(t *testing.T) {
	const capacity = 8
	c := NewLocalCache(capacity)

	for i := 0; i < capacity*3; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("x"), "image/png", time.Minute)
		if c.Len() > capacity {
			t.Fatalf("Len = %d exceeds capacity %d after set %d", c.Len(), capacity, i)
		}
	}
}

// With capacity N and N+1 inserts and no intervening reads, the
// first-inserted key is the one evicted.
func TestLocalCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLocalCache(3)

	c.Set("a", []byte("x"), "image/png", time.Minute)
	c.Set("b", []byte("x"), "image/png", time.Minute)
	c.Set("c", []byte("x"), "image/png", time.Minute)
	c.Set("d", []byte("x"), "image/png", time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("first-inserted key should have been evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %q should still be present", k)
		}
	}
}

func TestLocalCache_GetPromotes(t *testing.T) {
	c := NewLocalCache(3)

	c.Set("a", []byte("x"), "image/png", time.Minute)
	c.Set("b", []byte("x"), "image/png", time.Minute)
	c.Set("c", []byte("x"), "image/png", time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Set("d", []byte("x"), "image/png", time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted after a was promoted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should have survived eviction")
	}
}

func TestLocalCache_OverwriteKeepsSingleEntry(t *testing.T) {
	c := NewLocalCache(3)

	c.Set("a", []byte("v1"), "image/png", time.Minute)
	c.Set("a", []byte("v2"), "image/jpeg", time.Minute)

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 after overwrite", c.Len())
	}
	entry, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(entry.Body) != "v2" || entry.ContentType != "image/jpeg" {
		t.Errorf("entry not replaced wholesale: %q %q", entry.Body, entry.ContentType)
	}
}

func TestLocalCache_Evict(t *testing.T) {
	c := NewLocalCache(10)

	c.Set("a", []byte("x"), "image/png", time.Minute)
	c.Set("b", []byte("x"), "image/png", time.Minute)

	// Evicting a mix of present and absent keys must not panic and must be
	// silent about which keys existed.
	c.Evict("a", "missing", "b")

	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after Evict", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("a should be gone after Evict")
	}
}

func TestCapacityFor(t *testing.T) {
	const mib = 1024 * 1024

	tests := []struct {
		name      string
		available uint64
		percent   int
		avgEntry  int
		want      int
	}{
		{"typical host", 8192 * mib, 20, 400 * 1024, 4194},
		{"tiny host clamps to min", 64 * mib, 20, 400 * 1024, MinCapacity},
		{"huge host clamps to max", 4 * 1024 * 1024 * mib, 20, 400 * 1024, MaxCapacity},
		{"zero percent falls back", 8192 * mib, 0, 400 * 1024, FallbackCapacity},
		{"zero entry size falls back", 8192 * mib, 20, 0, FallbackCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := capacityFor(tt.available, tt.percent, tt.avgEntry)
			if got != tt.want {
				t.Errorf("capacityFor(%d, %d, %d) = %d, want %d",
					tt.available, tt.percent, tt.avgEntry, got, tt.want)
			}
		})
	}
}
