package shiftpolicy

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingProvider wraps another provider with a TTL cache so policy lookups
// stay off the HR backend's hot path. Only successful lookups are cached;
// failures fall through to the inner provider on the next call.
type CachingProvider struct {
	inner Provider
	cache *cache.Cache
}

// NewCaching wraps inner with the given TTL.
func NewCaching(inner Provider, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Policy returns the cached policy or falls through to the inner provider.
func (c *CachingProvider) Policy(ctx context.Context, employeeID string) (ShiftPolicy, error) {
	if cached, found := c.cache.Get(employeeID); found {
		if p, ok := cached.(ShiftPolicy); ok {
			return p, nil
		}
	}

	p, err := c.inner.Policy(ctx, employeeID)
	if err != nil {
		return ShiftPolicy{}, err
	}
	c.cache.Set(employeeID, p, cache.DefaultExpiration)
	return p, nil
}

// Invalidate drops the cached policy for one employee, for HR-driven
// corrections that must take effect immediately.
func (c *CachingProvider) Invalidate(employeeID string) {
	c.cache.Delete(employeeID)
}
