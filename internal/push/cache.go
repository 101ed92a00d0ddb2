package push

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/brianly1003/taskpulse/internal/domain/ports"
)

// DefaultCacheTTL bounds how stale a cached subscription list may be.
const DefaultCacheTTL = 30 * time.Second

// CachedStore caches ListForUser per user in front of another store. Writes
// through this store invalidate the affected users immediately.
type CachedStore struct {
	inner ports.SubscriptionStore
	cache *ttlcache.Cache[int64, []ports.PushSubscription]

	// gen changes on every invalidation so a list loaded before a write is
	// not cached after it.
	mu  sync.Mutex
	gen uint64
}

// NewCachedStore wraps inner. Call Stop to release the expiry goroutine.
func NewCachedStore(inner ports.SubscriptionStore, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	cache := ttlcache.New[int64, []ports.PushSubscription](
		ttlcache.WithTTL[int64, []ports.PushSubscription](ttl),
		ttlcache.WithDisableTouchOnHit[int64, []ports.PushSubscription](),
	)
	go cache.Start()

	return &CachedStore{inner: inner, cache: cache}
}

// Stop stops the cache's expiry loop.
func (c *CachedStore) Stop() {
	c.cache.Stop()
}

func (c *CachedStore) invalidate(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Delete(userID)
}

func (c *CachedStore) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.DeleteAll()
}

// Upsert implements ports.SubscriptionStore.
func (c *CachedStore) Upsert(ctx context.Context, userID int64, endpoint string, keys ports.PushKeys) (ports.PushSubscription, ports.UpsertResult, error) {
	sub, res, err := c.inner.Upsert(ctx, userID, endpoint, keys)
	if err != nil {
		return sub, res, err
	}
	switch res {
	case ports.UpsertCreated:
		c.invalidate(userID)
	case ports.UpsertUpdated:
		// The endpoint may have moved from another user, who is not known
		// here.
		c.invalidateAll()
	}
	return sub, res, nil
}

// Remove implements ports.SubscriptionStore.
func (c *CachedStore) Remove(ctx context.Context, endpoint string) (ports.PushSubscription, bool, error) {
	sub, ok, err := c.inner.Remove(ctx, endpoint)
	if err == nil && ok {
		c.invalidate(sub.UserID)
	}
	return sub, ok, err
}

// RemoveOwned implements ports.SubscriptionStore.
func (c *CachedStore) RemoveOwned(ctx context.Context, userID int64, endpoint string) (bool, error) {
	ok, err := c.inner.RemoveOwned(ctx, userID, endpoint)
	if err == nil && ok {
		c.invalidate(userID)
	}
	return ok, err
}

// RemoveStale implements ports.SubscriptionStore.
func (c *CachedStore) RemoveStale(ctx context.Context, sub ports.PushSubscription) (bool, error) {
	ok, err := c.inner.RemoveStale(ctx, sub)
	if err == nil && ok {
		c.invalidate(sub.UserID)
	}
	return ok, err
}

// ListForUser implements ports.SubscriptionStore. The returned slice is the
// caller's to modify.
func (c *CachedStore) ListForUser(ctx context.Context, userID int64) ([]ports.PushSubscription, error) {
	if item := c.cache.Get(userID); item != nil {
		return clone(item.Value()), nil
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	subs, err := c.inner.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.cache.Set(userID, clone(subs), ttlcache.DefaultTTL)
	}
	c.mu.Unlock()
	return subs, nil
}

func clone(subs []ports.PushSubscription) []ports.PushSubscription {
	if subs == nil {
		return nil
	}
	out := make([]ports.PushSubscription, len(subs))
	copy(out, subs)
	return out
}

var _ ports.SubscriptionStore = (*CachedStore)(nil)
