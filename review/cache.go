package review

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

type (
	// Cache is the in-memory view of the per-MR fingerprint set. The stored
	// representation uses an array because the backing stores lack a native
	// set type.
	Cache struct {
		// LastUpdated is epoch milliseconds of the last write.
		LastUpdated int64
		// Fingerprints holds the hex fingerprints of units reviewed clean.
		Fingerprints map[string]struct{}
	}

	// CacheStore persists per-MR fingerprint caches.
	CacheStore interface {
		// GetCache returns the cache for the MR. An absent document or one
		// with an invalid shape yields a fresh empty cache, never an error
		// for shape problems.
		GetCache(ctx context.Context, projectID string, mrIID int64) (*Cache, error)
		// UpdateCache overwrites the document and stamps LastUpdated with the
		// current time.
		UpdateCache(ctx context.Context, projectID string, mrIID int64, cache *Cache) error
	}
)

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{Fingerprints: make(map[string]struct{})}
}

// Clone returns an independent copy for a working set during a review run.
func (c *Cache) Clone() *Cache {
	out := &Cache{LastUpdated: c.LastUpdated, Fingerprints: make(map[string]struct{}, len(c.Fingerprints))}
	for fp := range c.Fingerprints {
		out.Fingerprints[fp] = struct{}{}
	}
	return out
}

// Has reports fingerprint membership.
func (c *Cache) Has(fingerprint string) bool {
	_, ok := c.Fingerprints[fingerprint]
	return ok
}

// Add inserts a fingerprint.
func (c *Cache) Add(fingerprint string) {
	c.Fingerprints[fingerprint] = struct{}{}
}

// FingerprintList returns the set as a sorted-free array for storage.
func (c *Cache) FingerprintList() []string {
	out := make([]string, 0, len(c.Fingerprints))
	for fp := range c.Fingerprints {
		out = append(out, fp)
	}
	return out
}

// CacheFromList rebuilds the in-memory set from the stored array.
func CacheFromList(lastUpdated int64, fingerprints []string) *Cache {
	out := &Cache{LastUpdated: lastUpdated, Fingerprints: make(map[string]struct{}, len(fingerprints))}
	for _, fp := range fingerprints {
		out.Fingerprints[fp] = struct{}{}
	}
	return out
}

// Touch stamps LastUpdated with the current wall clock.
func (c *Cache) Touch() {
	c.LastUpdated = time.Now().UnixMilli()
}

var unsafeDocIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// CacheDocID derives the cache document id from the project id and MR iid.
// Characters outside [A-Za-z0-9_-] in string project ids are replaced with an
// underscore; numeric ids pass through unchanged.
func CacheDocID(projectID string, mrIID int64) string {
	safe := unsafeDocIDChars.ReplaceAllString(projectID, "_")
	return fmt.Sprintf("proj_%s_mr_%d", safe, mrIID)
}
