package monitor

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTTL is how long download metadata stays cached.
const DefaultFetchTTL = 30 * time.Second

// sharedFetchTimeout bounds a coalesced upstream call.
const sharedFetchTimeout = 2 * time.Minute

// FetchCache memoises download metadata per product and channel.
// Entries expire a fixed TTL after they were stored; failed fetches are
// not cached. Concurrent misses on one key share a single upstream call.
type FetchCache struct {
	adapters map[ProductID]Adapter
	items    *gocache.Cache
	group    singleflight.Group
}

// NewFetchCache creates a cache over the adapter registry.
func NewFetchCache(adapters map[ProductID]Adapter, ttl time.Duration) *FetchCache {
	if ttl <= 0 {
		ttl = DefaultFetchTTL
	}
	return &FetchCache{
		adapters: adapters,
		items:    gocache.New(ttl, 2*ttl),
	}
}

func cacheKey(id ProductID, ch Channel) string {
	return string(id) + "-" + string(ch)
}

// Get returns cached metadata or fetches it through the product's adapter.
func (c *FetchCache) Get(ctx context.Context, id ProductID, ch Channel) (*DownloadMetadata, error) {
	key := cacheKey(id, ch)
	if v, ok := c.items.Get(key); ok {
		return v.(*DownloadMetadata), nil
	}

	adapter, ok := c.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}

	// The shared call outlives any one caller; each caller stops waiting
	// when its own context ends.
	done := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.items.Get(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		meta, err := adapter.Download(fctx, ch)
		if err != nil {
			return nil, err
		}
		c.items.SetDefault(key, meta)
		return meta, nil
	})
	select {
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*DownloadMetadata), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Func binds the cache to one product as a DownloadFunc.
func (c *FetchCache) Func(id ProductID) DownloadFunc {
	return func(ctx context.Context, ch Channel) (*DownloadMetadata, error) {
		return c.Get(ctx, id, ch)
	}
}

// Invalidate drops the cached entry of a product channel.
func (c *FetchCache) Invalidate(id ProductID, ch Channel) {
	c.items.Delete(cacheKey(id, ch))
}

// Len reports the number of live entries.
func (c *FetchCache) Len() int {
	return c.items.ItemCount()
}
