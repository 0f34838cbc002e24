package registry

import (
	"sync"
	"time"
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// TokenCache stores bearer tokens issued by registry auth realms, keyed by
// manifest URL. One cache is constructed at startup and shared by every
// Client in the process so concurrent validations of images on the same
// registry reuse a single issued token instead of re-authenticating.
//
// All operations take the cache-wide lock; they are pure map work and must
// stay that way (no I/O under the lock).
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewTokenCache creates an empty token cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]cachedToken)}
}

// Get returns the token cached for manifestURL. Entries past their expiry
// are evicted and reported absent; the check and the eviction happen under
// the same lock acquisition as the read.
func (c *TokenCache) Get(manifestURL string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tokens[manifestURL]
	if !ok {
		return "", false
	}
	if !time.Now().Before(entry.expiresAt) {
		delete(c.tokens, manifestURL)
		return "", false
	}
	return entry.token, true
}

// Set stores a token for manifestURL, replacing any previous entry.
func (c *TokenCache) Set(manifestURL, token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[manifestURL] = cachedToken{token: token, expiresAt: expiresAt}
}

// Remove drops the entry for manifestURL if present.
func (c *TokenCache) Remove(manifestURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, manifestURL)
}
