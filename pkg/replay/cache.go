// Package replay implements the Nonce/Replay Cache: a bounded set of
// recently-seen nonces with time-based eviction, used by the Attestation
// Handshake Engine to reject repeated challenge nonces. Heartbeat pulses
// carry no nonce and do not use it.
package replay

import (
	"sync"
	"time"
)

// DefaultRetention is the default nonce retention window
// (nonce_retention_ms default 300000).
const DefaultRetention = 5 * time.Minute

// DefaultMaxSize bounds the cache under a burst so memory does not grow
// unboundedly faster than cleanup can keep up; entries are evicted
// least-recently-seen first when the cap is hit. A generously sized cap at
// the default retention window should never be reached in normal operation.
const DefaultMaxSize = 1 << 20

// Cache is a set of recently-seen nonces keyed by their raw bytes, with
// insertion-time tracking for eviction. The invariant required is that
// for all nonces n observed within nonce_retention_ms, seen(n)
// returns true" — holds as long as Cleanup is not called with a cutoff
// inside the retention window and the hard cap is not exceeded.
type Cache struct {
	mu        sync.Mutex
	retention time.Duration
	maxSize   int

	records map[string]time.Time
	order   []string // insertion order, for LRU eviction under the hard cap
}

// New creates a Cache with the given retention window and size cap. A
// zero/negative retention or maxSize falls back to the package defaults.
func New(retention time.Duration, maxSize int) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		retention: retention,
		maxSize:   maxSize,
		records:   make(map[string]time.Time),
	}
}

// Seen reports whether nonce has been recorded and has not yet been
// evicted.
func (c *Cache) Seen(nonce []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[string(nonce)]
	return ok
}

// Insert records nonce as seen at now. The invariant "no two records share
// a nonce" means a second Insert of the same nonce is a no-op rather than
// refreshing its timestamp — a nonce that was valid five minutes ago must
// not be granted a fresh five-minute lease by a replay attempt.
func (c *Cache) Insert(nonce []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(nonce)
	if _, exists := c.records[key]; exists {
		return
	}

	if len(c.records) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.records[key] = now
	c.order = append(c.order, key)
}

// CheckAndInsert is the atomic compare-and-set a handshake/heartbeat path
// needs: it reports whether nonce was already seen, and if not, inserts it.
// Using this instead of separate Seen+Insert calls closes the race where
// two concurrent messages carrying the same nonce could both observe
// "not seen" before either inserts.
func (c *Cache) CheckAndInsert(nonce []byte, now time.Time) (alreadySeen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := string(nonce)
	if _, exists := c.records[key]; exists {
		return true
	}

	if len(c.records) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.records[key] = now
	c.order = append(c.order, key)
	return false
}

// Cleanup removes every record whose age exceeds the configured retention
// window as of now. Intended to run on a periodic background sweep.
func (c *Cache) Cleanup(now time.Time) (removed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-c.retention)
	kept := c.order[:0]
	for _, key := range c.order {
		seenAt, ok := c.records[key]
		if !ok {
			continue
		}
		if seenAt.Before(cutoff) {
			delete(c.records, key)
			removed++
			continue
		}
		kept = append(kept, key)
	}
	c.order = kept
	return removed
}

// Len returns the current number of tracked nonces.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// evictOldestLocked drops the single oldest-inserted record. Caller must
// hold c.mu.
func (c *Cache) evictOldestLocked() {
	for len(c.order) > 0 {
		key := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.records[key]; ok {
			delete(c.records, key)
			return
		}
	}
}
