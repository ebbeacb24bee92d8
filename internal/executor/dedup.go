package executor

import (
	"sync"
	"time"
)

// Dedup prevents the same intent from being submitted more than once within a
// configurable time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // intent key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup instance that considers an intent a duplicate if
// its key has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if the key has been seen within the TTL window.
// If the key has not been seen (or has expired), it is recorded and false is
// returned. Expired entries are swept on every call, so the map stays bounded
// by the number of keys seen within one TTL window.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}

// setNow swaps the clock. Tests only.
func (d *Dedup) setNow(now func() time.Time) {
	d.now = now
}
