package pricing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aristath/rebalancer/internal/domain"
)

// DefaultCacheTTL is how long a resolved price table is served.
const DefaultCacheTTL = 60 * time.Second

// FetchFunc produces a fresh price table.
type FetchFunc func(ctx context.Context) (domain.PriceTable, error)

// Cache memoizes the whole price table for a fixed TTL. Concurrent misses
// share a single fetch; readers get their own copy of the table.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	value     domain.PriceTable
	expiresAt time.Time

	group singleflight.Group
}

// NewCache creates a price cache; a non-positive ttl uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// GetOrRefresh returns the cached table while it is fresh, otherwise calls
// fetch and stores the result. Failed fetches are not cached.
func (c *Cache) GetOrRefresh(ctx context.Context, fetch FetchFunc) (domain.PriceTable, error) {
	if v, ok := c.fresh(); ok {
		return v, nil
	}
	return c.refresh(ctx, fetch)
}

// Refresh fetches unconditionally and replaces the cached table.
func (c *Cache) Refresh(ctx context.Context, fetch FetchFunc) (domain.PriceTable, error) {
	return c.refresh(ctx, fetch)
}

// Peek returns the cached table and its expiry without refreshing.
func (c *Cache) Peek() (domain.PriceTable, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil {
		return nil, time.Time{}, false
	}
	return c.value.Clone(), c.expiresAt, true
}

// Invalidate drops the cached table.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.value = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) fresh() (domain.PriceTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil || !c.now().Before(c.expiresAt) {
		return nil, false
	}
	return c.value.Clone(), true
}

func (c *Cache) refresh(ctx context.Context, fetch FetchFunc) (domain.PriceTable, error) {
	v, err, _ := c.group.Do("prices", func() (interface{}, error) {
		table, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.value = table
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(domain.PriceTable).Clone(), nil
}
