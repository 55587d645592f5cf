package changemaster

import (
	"context"
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// changeCache keeps recently read changes in memory so that display
// consumers repeatedly asking for the same ids don't hit the Store. Ids
// below the low-water mark may have been pruned; they are never cached or
// served from the cache
type changeCache struct {
	store Store
	lru   *lru.Cache
	floor atomic.Int64
}

func newChangeCache(store Store, size int) (*changeCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &changeCache{
		store: store,
		lru:   c,
	}, nil
}

// Get returns a cached change or loads it from the Store. The returned
// change is a copy the caller may modify
func (c *changeCache) Get(ctx context.Context, id ChangeID) (*Change, error) {
	if c.cacheable(id) {
		if v, ok := c.lru.Get(id); ok {
			return v.(*Change).Copy(), nil
		}
	}

	ch, err := c.store.GetChange(ctx, id)
	if err != nil {
		return nil, err
	}
	// the pruner may have raised the mark while the read was in flight
	if c.cacheable(id) {
		c.lru.Add(id, ch.Copy())
	}
	return ch, nil
}

// Put records a freshly numbered change
func (c *changeCache) Put(ch *Change) {
	if c.cacheable(ch.ID) {
		c.lru.Add(ch.ID, ch.Copy())
	}
}

// Advance raises the low-water mark. Ids below it are treated as pruned
func (c *changeCache) Advance(floor ChangeID) {
	for {
		cur := c.floor.Load()
		if int64(floor) <= cur || c.floor.CompareAndSwap(cur, int64(floor)) {
			return
		}
	}
}

func (c *changeCache) cacheable(id ChangeID) bool {
	return int64(id) >= c.floor.Load()
}

// Forget drops an id, typically after the pruner removed it
func (c *changeCache) Forget(id ChangeID) {
	c.lru.Remove(id)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrChangeNotFound)
}
