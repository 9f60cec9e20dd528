package executor

import (
	"sync"
	"time"
)

// sweepAt bounds the seen map; expired entries are dropped once it grows
// past this many keys.
const sweepAt = 1024

// Dedup suppresses repeat submissions of the same step within a TTL window.
// It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // submission key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate when it was
// seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// IsDuplicate reports whether key was seen within the TTL window. A fresh
// or expired key is recorded and reported as not duplicate.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	if len(d.seen) >= sweepAt {
		d.sweep(now)
	}
	d.seen[key] = now
	return false
}

// sweep drops expired entries. Callers hold mu.
func (d *Dedup) sweep(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
