package orchestrator

import (
	"testing"
	"time"
)

func TestDedup(t *testing.T) {
	d := NewDedup(time.Minute)

	if d.IsDuplicate("SIGNAL BTCUSDT LONG") {
		t.Fatal("first sighting must not be a duplicate")
	}
	if !d.IsDuplicate("SIGNAL BTCUSDT LONG") {
		t.Fatal("second sighting within the TTL must be a duplicate")
	}
	if d.IsDuplicate("SIGNAL ETHUSDT SHORT") {
		t.Fatal("different payload must not be a duplicate")
	}
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	if d.IsDuplicate("payload") {
		t.Fatal("first sighting must not be a duplicate")
	}
	time.Sleep(20 * time.Millisecond)
	if d.IsDuplicate("payload") {
		t.Fatal("expired payload must be treated as fresh")
	}
}

func TestDedupCleanup(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	d.IsDuplicate("a")
	d.IsDuplicate("b")
	time.Sleep(20 * time.Millisecond)
	d.Cleanup()

	d.mu.Lock()
	remaining := len(d.seen)
	d.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected expired entries dropped, %d remain", remaining)
	}
}
