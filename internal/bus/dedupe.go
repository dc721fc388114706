package bus

import (
	"sync"
	"time"
)

// DedupeCache is a TTL-bounded set of recently seen message keys. Telegram
// long-poll restarts and Discord gateway resumes can redeliver a message;
// the cache keeps one agent run per delivery.
type DedupeCache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a cache that remembers keys for ttl and holds at
// most maxSize entries.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate records key and reports whether it was already present and
// unexpired. Expired entries are swept lazily on each call.
func (d *DedupeCache) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}

	if len(d.seen) >= d.maxSize {
		for k, at := range d.seen {
			if now.Sub(at) >= d.ttl {
				delete(d.seen, k)
			}
		}
		// Still full after sweeping: drop the oldest entry.
		if len(d.seen) >= d.maxSize {
			var oldestKey string
			var oldestAt time.Time
			for k, at := range d.seen {
				if oldestKey == "" || at.Before(oldestAt) {
					oldestKey, oldestAt = k, at
				}
			}
			delete(d.seen, oldestKey)
		}
	}

	d.seen[key] = now
	return false
}

// Len returns the number of tracked keys.
func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
