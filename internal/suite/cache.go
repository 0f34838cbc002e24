package suite

import (
	"sync"
	"time"
)

// DefaultValidationWindow is how long a successful image validation stays
// fresh before the registry must be consulted again.
const DefaultValidationWindow = 1800 * time.Second

// ValidationCache remembers when each test-runner image last resolved to a
// digest so repeated validations inside the window skip the registry. A
// single mutex guards the whole map; no network or disk I/O ever happens
// under the lock.
type ValidationCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]time.Time
}

// NewValidationCache returns an empty cache with the given freshness
// window. A zero or negative window falls back to DefaultValidationWindow.
func NewValidationCache(window time.Duration) *ValidationCache {
	if window <= 0 {
		window = DefaultValidationWindow
	}
	return &ValidationCache{
		window:  window,
		entries: make(map[string]time.Time),
	}
}

// IsValid reports whether imageName was validated within the window. Stale
// entries are removed under the same lock as the read so two concurrent
// validations cannot both act on an expired entry.
func (c *ValidationCache) IsValid(imageName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	validatedAt, ok := c.entries[imageName]
	if !ok {
		return false
	}
	if time.Since(validatedAt) > c.window {
		delete(c.entries, imageName)
		return false
	}
	return true
}

// RecordSuccess marks imageName as validated at the given time.
func (c *ValidationCache) RecordSuccess(imageName string, validatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[imageName] = validatedAt
}

// Invalidate drops imageName from the cache.
func (c *ValidationCache) Invalidate(imageName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, imageName)
}

// Len returns the number of cached entries, counting stale ones that have
// not been read since expiring.
func (c *ValidationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
