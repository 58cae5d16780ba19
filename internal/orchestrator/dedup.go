package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Dedup suppresses repeated raw messages within a time-to-live window, keyed
// by payload hash. Chat transports redeliver on reconnect; acting twice on
// the same text would double an entry. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether the payload has been seen within the TTL
// window. A fresh (or expired) payload is recorded and not a duplicate.
func (d *Dedup) IsDuplicate(payload string) bool {
	key := hashPayload(payload)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup drops expired entries. Call periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

func hashPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
