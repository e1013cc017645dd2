package in_memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
)

// Cache keeps auction views in process. Entries expire after ttl so a view
// written after its invalidation cannot outlive that window.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	store map[uuid.UUID]cachedView
}

type cachedView struct {
	view    domain.AuctionView
	expires time.Time
}

var _ port.Cache = (*Cache)(nil)

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, now: time.Now, store: make(map[uuid.UUID]cachedView)}
}

func (c *Cache) SetAuction(ctx context.Context, v *domain.AuctionView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[v.ListingID] = cachedView{view: *v, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *Cache) GetAuction(ctx context.Context, listingID uuid.UUID) (*domain.AuctionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store[listingID]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.store, listingID)
		return nil, nil
	}
	v := e.view
	return &v, nil
}

func (c *Cache) Invalidate(ctx context.Context, listingID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, listingID)
	return nil
}
