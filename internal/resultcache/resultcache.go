// Package resultcache holds evaluation results keyed by exact document
// content, bounded by entry count and TTL. Any edit changes the
// fingerprint, so entries never serve stale text.
package resultcache

import (
	"sync/atomic"
	"time"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wudi/speclint/internal/diag"
	"github.com/wudi/speclint/internal/fingerprint"
)

const (
	defaultMaxEntries = 100
	defaultTTL        = 5 * time.Minute
)

// entry is one evaluation's published output.
type entry struct {
	diagnostics []diag.Diagnostic
	actions     []diag.Action
}

// Cache is an in-memory LRU of evaluation results with TTL expiry.
type Cache struct {
	lru        *expirable.LRU[string, entry]
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
}

// New creates a cache bounded to maxEntries entries, each living at most
// ttl. Non-positive arguments fall back to the defaults (100 entries, 5m).
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{maxEntries: maxEntries}
	c.lru = expirable.NewLRU[string, entry](maxEntries, func(string, entry) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

// Get returns the cached diagnostics and action metadata for text, or
// reports a miss when no live entry exists for its fingerprint.
func (c *Cache) Get(text string) ([]diag.Diagnostic, []diag.Action, bool) {
	e, ok := c.lru.Get(fingerprint.HashString(text))
	if !ok {
		c.misses.Add(1)
		return nil, nil, false
	}
	c.hits.Add(1)
	return copyDiagnostics(e.diagnostics), copyActions(e.actions), true
}

// Set stores the result for text, overwriting any live entry for the same
// fingerprint.
func (c *Cache) Set(text string, diags []diag.Diagnostic, actions []diag.Action) {
	c.lru.Add(fingerprint.HashString(text), entry{
		diagnostics: copyDiagnostics(diags),
		actions:     copyActions(actions),
	})
}

// Delete drops the entry for text, if any. Used when an accepted ignore
// invalidates a previously published result.
func (c *Cache) Delete(text string) {
	c.lru.Remove(fingerprint.HashString(text))
}

// Clear drops all entries. Called on configuration changes since prior
// results may not be valid for the new project context.
func (c *Cache) Clear() {
	c.lru.Purge()
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size       int   `json:"size"`
	MaxEntries int   `json:"max_entries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() Stats {
	return Stats{
		Size:       c.lru.Len(),
		MaxEntries: c.maxEntries,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}

// Cached results are copied both into and out of the cache so callers
// can't mutate shared slices.
func copyDiagnostics(in []diag.Diagnostic) []diag.Diagnostic {
	if in == nil {
		return nil
	}
	out := make([]diag.Diagnostic, len(in))
	copy(out, in)
	return out
}

func copyActions(in []diag.Action) []diag.Action {
	if in == nil {
		return nil
	}
	out := make([]diag.Action, len(in))
	copy(out, in)
	return out
}
