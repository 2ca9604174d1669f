package expcache

import (
	"testing"
	"time"
)

func TestGetOrCreateAndLookup(t *testing.T) {
	c := New[[]byte]()
	c.WithInnerCache("token-a", time.Minute, func(inner map[string][]byte) {
		inner["kf"] = []byte("wrapped-bytes")
	})

	var got []byte
	c.WithInnerCache("token-a", time.Minute, func(inner map[string][]byte) {
		got = inner["kf"]
	})
	if string(got) != "wrapped-bytes" {
		t.Fatalf("got %q, want wrapped-bytes", got)
	}
}

func TestExpiredInnerCacheIsReplaced(t *testing.T) {
	c := New[[]byte]()
	c.WithInnerCache("token-a", time.Millisecond, func(inner map[string][]byte) {
		inner["kf"] = []byte("v1")
	})
	time.Sleep(5 * time.Millisecond)

	var size int
	c.WithInnerCache("token-a", time.Minute, func(inner map[string][]byte) {
		size = len(inner)
	})
	if size != 0 {
		t.Fatalf("expected fresh inner cache after expiry, got size %d", size)
	}
}

func TestRemoveTokenAndClear(t *testing.T) {
	c := New[[]byte]()
	c.WithInnerCache("a", time.Minute, func(inner map[string][]byte) { inner["x"] = []byte("1") })
	c.WithInnerCache("b", time.Minute, func(inner map[string][]byte) { inner["y"] = []byte("2") })

	c.RemoveToken("a")
	if c.Len() != 1 {
		t.Fatalf("Len() = %d after RemoveToken, want 1", c.Len())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", c.Len())
	}
}

func TestSweepRespectsCleanupPeriod(t *testing.T) {
	c := New[[]byte]()
	c.WithInnerCache("a", time.Millisecond, func(inner map[string][]byte) { inner["x"] = []byte("1") })
	time.Sleep(5 * time.Millisecond)

	// A long cleanup period should suppress the sweep on the very first call.
	c.Sweep(time.Hour)
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, expected sweep suppressed by cleanup period", c.Len())
	}
}

func TestSweepRemovesExpiredTokens(t *testing.T) {
	c := New[[]byte]()
	c.lastCleanup = time.Now().Add(-time.Hour)
	c.WithInnerCache("a", time.Millisecond, func(inner map[string][]byte) { inner["x"] = []byte("1") })
	time.Sleep(5 * time.Millisecond)

	c.Sweep(time.Millisecond)
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after sweep, want 0", c.Len())
	}
}
