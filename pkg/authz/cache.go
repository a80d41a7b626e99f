package authz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the default time-to-live for cached authorization results.
const DefaultCacheTTL = 10 * time.Second

// cacheEntry stores a cached authorization result with its expiration time.
type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// CachedAuthorizer wraps another Authorizer with a short-lived in-memory
// cache so repeated checks for the same identity and action skip the inner
// authorizer.
type CachedAuthorizer struct {
	inner Authorizer
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCachedAuthorizer creates a CachedAuthorizer that wraps inner with the given TTL.
func NewCachedAuthorizer(inner Authorizer, ttl time.Duration) *CachedAuthorizer {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedAuthorizer{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Authorize checks the cache first and delegates to the inner Authorizer on miss.
func (c *CachedAuthorizer) Authorize(ctx context.Context, req Request) (bool, error) {
	key := cacheKey(req)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.allowed, nil
	}

	allowed, err := c.inner.Authorize(ctx, req)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{allowed: allowed, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return allowed, nil
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		req.User, strings.Join(req.Groups, ","), req.Resource, req.Verb, req.ClientID)
}
