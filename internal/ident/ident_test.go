package ident

import (
	"testing"
	"time"
)

// TestNewUnique verifies identifiers do not collide under rapid generation.
func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate identifier: %s", id)
		}
		seen[id] = true
	}
}

// TestCreatedAt verifies the timestamp prefix round-trips.
func TestCreatedAt(t *testing.T) {
	now := time.Now()
	id := NewAt(now)

	got := CreatedAt(id)
	if got != now.UnixMilli() {
		t.Errorf("CreatedAt = %d, want %d", got, now.UnixMilli())
	}
}

// TestCreatedAtMalformed verifies unrecognized identifiers yield zero.
func TestCreatedAtMalformed(t *testing.T) {
	for _, id := range []string{"", "no-timestamp-here", "plainstring"} {
		if got := CreatedAt(id); got != 0 {
			t.Errorf("CreatedAt(%q) = %d, want 0", id, got)
		}
	}
}
