// Package cache implements the Response Cache (C10): a TTL'd, singleflight
// store in front of the Agent Registry's non-streaming path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is used when a ResponseCache is built with ttl <= 0.
const DefaultTTL = 600 * time.Second

// Compute produces the value to cache for a miss. Only a nil error result
// is stored; a failed compute is never cached, so the next caller retries.
type Compute func(ctx context.Context) (json.RawMessage, error)

// entry is one stored value plus its expiry.
type entry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// inflight tracks one in-progress compute so concurrent callers for the
// same key can wait on it rather than each calling Compute themselves.
type inflight struct {
	done  chan struct{}
	value json.RawMessage
	err   error
}

// ResponseCache is a read-through cache keyed by agent+prompt+args, with
// at-most-one concurrent Compute per key (singleflight) and a TTL applied
// only to successful results. It is in-memory only: nothing survives a
// restart, matching the non-streaming response cache's documented scope.
type ResponseCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]entry
	calls   map[string]*inflight

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewResponseCache builds a cache with the given TTL (DefaultTTL if ttl <= 0).
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResponseCache{
		ttl:     ttl,
		entries: make(map[string]entry),
		calls:   make(map[string]*inflight),
	}
}

// Key builds the canonical cache key for one agent call: SHA-256 over
// "agent:" ∥ name ∥ "|prompt:" ∥ prompt ∥ "|args:" ∥ sorted-kv(args).
func Key(agentName, prompt string, args map[string]string) string {
	var b strings.Builder
	b.WriteString("agent:")
	b.WriteString(agentName)
	b.WriteString("|prompt:")
	b.WriteString(prompt)
	b.WriteString("|args:")

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(args[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for key, and a read-through single-flighted
// call to compute when it fires a miss. A second caller for the same
// missing key blocks on the first's compute and receives its result without
// calling compute itself.
func (c *ResponseCache) Get(ctx context.Context, key string, compute Compute) (json.RawMessage, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		c.mu.Unlock()
		c.hits.Add(1)
		return e.value, nil
	}

	if call, ok := c.calls[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		<-call.done
		return call.value, call.err
	}

	call := &inflight{done: make(chan struct{})}
	c.calls[key] = call
	c.mu.Unlock()
	c.misses.Add(1)

	call.value, call.err = compute(ctx)
	close(call.done)

	c.mu.Lock()
	delete(c.calls, key)
	if call.err == nil {
		c.entries[key] = entry{value: call.value, expiresAt: time.Now().Add(c.ttl)}
	}
	c.mu.Unlock()

	return call.value, call.err
}

// Invalidate drops a single cached entry, if present.
func (c *ResponseCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats reports cumulative hit/miss counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Stats returns the cache's cumulative hit/miss counts.
func (c *ResponseCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// HitRate returns the fraction of Get calls served from cache, in [0, 1].
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
