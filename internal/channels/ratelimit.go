package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedSenders caps the number of tracked senders to prevent
	// memory exhaustion from rotating sender IDs.
	maxTrackedSenders = 4096

	// floodWindow is the sliding window duration for rate counting.
	floodWindow = 60 * time.Second

	// floodMaxHits is the max messages per sender within a window.
	floodMaxHits = 30
)

type floodEntry struct {
	windowStart time.Time
	count       int
}

// FloodLimiter bounds per-sender inbound message rates so one noisy user
// cannot monopolize the relay's agent budget. Safe for concurrent use.
type FloodLimiter struct {
	mu      sync.Mutex
	entries map[string]*floodEntry
}

// NewFloodLimiter creates a bounded flood limiter.
func NewFloodLimiter() *FloodLimiter {
	return &FloodLimiter{entries: make(map[string]*floodEntry)}
}

// Allow returns true if the sender is within rate limits. Stale entries are
// pruned when the tracked-sender cap is approached.
func (f *FloodLimiter) Allow(senderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()

	if len(f.entries) >= maxTrackedSenders {
		for k, e := range f.entries {
			if now.Sub(e.windowStart) >= floodWindow {
				delete(f.entries, k)
			}
		}
		// Still at cap after pruning: reject unknown senders.
		if len(f.entries) >= maxTrackedSenders {
			if _, known := f.entries[senderID]; !known {
				return false
			}
		}
	}

	e, ok := f.entries[senderID]
	if !ok || now.Sub(e.windowStart) >= floodWindow {
		f.entries[senderID] = &floodEntry{windowStart: now, count: 1}
		return true
	}

	if e.count >= floodMaxHits {
		return false
	}
	e.count++
	return true
}
