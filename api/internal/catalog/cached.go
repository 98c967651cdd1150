package catalog

import (
	"context"
	"sync"
	"time"

	"invoice-bot/api/internal/invoice"
)

// Cached держит список товаров в памяти не дольше ttl.
// Срез после загрузки не изменяется, Create сбрасывает кэш.
type Cached struct {
	Catalog
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	products []invoice.Product
	loadedAt time.Time
}

func NewCached(c Catalog, ttl time.Duration) *Cached {
	return &Cached{Catalog: c, ttl: ttl, now: time.Now}
}

func (c *Cached) Products(ctx context.Context) ([]invoice.Product, error) {
	c.mu.RLock()
	list, at := c.products, c.loadedAt
	c.mu.RUnlock()
	if list != nil && c.now().Sub(at) < c.ttl {
		return list, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// повторная проверка под write-lock
	if c.products != nil && c.now().Sub(c.loadedAt) < c.ttl {
		return c.products, nil
	}
	fresh, err := c.Catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		fresh = []invoice.Product{}
	}
	c.products, c.loadedAt = fresh, c.now()
	return fresh, nil
}

func (c *Cached) Create(ctx context.Context, name, unit string) (int64, error) {
	id, err := c.Catalog.Create(ctx, name, unit)
	if err != nil {
		return 0, err
	}
	c.Invalidate()
	return id, nil
}

func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.products = nil
	c.mu.Unlock()
}
