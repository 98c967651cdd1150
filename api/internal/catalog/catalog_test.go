package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
)

func TestAliasUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Upsert(ctx, "Молоко  Простоквашино", 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := m.Upsert(ctx, "молоко простоквашино", 2); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n := m.AliasCount(); n != 1 {
		t.Fatalf("expected exactly one alias row, got %d", n)
	}
	id, err := m.Lookup(ctx, "МОЛОКО простоквашино")
	if err != nil || id == nil || *id != 2 {
		t.Fatalf("lookup = %v, %v; want 2", id, err)
	}
}

func TestAliasRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Upsert(ctx, "kecap", 3)

	removed, err := m.Remove(ctx, "Kecap")
	if err != nil || !removed {
		t.Fatalf("remove existing = %v, %v", removed, err)
	}
	removed, err = m.Remove(ctx, "kecap")
	if err != nil || removed {
		t.Fatalf("remove missing = %v, %v", removed, err)
	}
	if id, _ := m.Lookup(ctx, "kecap"); id != nil {
		t.Fatalf("alias still resolves to %d", *id)
	}
}

func TestMemoryProducts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(invoice.Product{ID: 5, Name: "Сахар", Unit: "kg"})

	id, err := m.Create(ctx, "Соль", "kg")
	if err != nil || id != 6 {
		t.Fatalf("create = %d, %v", id, err)
	}
	if _, err := m.Create(ctx, "соль", "kg"); err == nil {
		t.Fatalf("duplicate name must fail")
	} else {
		var ie *errs.IntegrityError
		if !errors.As(err, &ie) {
			t.Fatalf("expected IntegrityError, got %T", err)
		}
	}
	p, err := m.Product(ctx, 6)
	if err != nil || p.Name != "Соль" {
		t.Fatalf("product 6 = %+v, %v", p, err)
	}
	if _, err := m.Product(ctx, 42); err == nil {
		t.Fatalf("expected not found")
	}
}

type countingCatalog struct {
	*Memory
	loads int
}

func (c *countingCatalog) Products(ctx context.Context) ([]invoice.Product, error) {
	c.loads++
	return c.Memory.Products(ctx)
}

func TestCachedReloadsAfterTTLAndCreate(t *testing.T) {
	ctx := context.Background()
	src := &countingCatalog{Memory: NewMemory(invoice.Product{ID: 1, Name: "Мука", Unit: "kg"})}
	c := NewCached(src, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := c.Products(ctx); err != nil {
			t.Fatalf("products: %v", err)
		}
	}
	if src.loads != 1 {
		t.Fatalf("expected 1 load, got %d", src.loads)
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.Products(ctx)
	if src.loads != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", src.loads)
	}

	if _, err := c.Create(ctx, "Дрожжи", "g"); err != nil {
		t.Fatalf("create: %v", err)
	}
	list, _ := c.Products(ctx)
	if src.loads != 3 || len(list) != 2 {
		t.Fatalf("create must invalidate cache: loads=%d len=%d", src.loads, len(list))
	}
}
