package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
)

// Memory: справочник и алиасы в памяти. Используется в тестах и при запуске без БД.
type Memory struct {
	mu       sync.RWMutex
	products []invoice.Product
	nextID   int64
	aliases  map[string]aliasRow
}

type aliasRow struct {
	productID int64
	createdAt time.Time
}

func NewMemory(products ...invoice.Product) *Memory {
	m := &Memory{aliases: map[string]aliasRow{}}
	for _, p := range products {
		m.products = append(m.products, p)
		if p.ID > m.nextID {
			m.nextID = p.ID
		}
	}
	return m
}

func (m *Memory) Products(_ context.Context) ([]invoice.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]invoice.Product, len(m.products))
	copy(out, m.products)
	return out, nil
}

func (m *Memory) Product(_ context.Context, id int64) (*invoice.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, errs.NotFound("product", id)
}

func (m *Memory) Create(_ context.Context, name, unit string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errs.Validation("name", "empty product name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if strings.EqualFold(p.Name, name) {
			return 0, &errs.IntegrityError{Op: "create product", Err: errs.Validation("name", "%q already exists", name)}
		}
	}
	m.nextID++
	m.products = append(m.products, invoice.Product{ID: m.nextID, Name: name, Unit: unit})
	return m.nextID, nil
}

func (m *Memory) Lookup(_ context.Context, raw string) (*int64, error) {
	key := AliasKey(raw)
	if key == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.aliases[key]
	if !ok {
		return nil, nil
	}
	id := row.productID
	return &id, nil
}

func (m *Memory) Upsert(_ context.Context, raw string, productID int64) error {
	key := AliasKey(raw)
	if key == "" {
		return errs.Validation("alias", "empty alias")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.aliases[key]
	if !ok {
		row.createdAt = time.Now()
	}
	row.productID = productID
	m.aliases[key] = row
	return nil
}

func (m *Memory) Remove(_ context.Context, raw string) (bool, error) {
	key := AliasKey(raw)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.aliases[key]; !ok {
		return false, nil
	}
	delete(m.aliases, key)
	return true, nil
}

// AliasCount: число строк в таблице алиасов.
func (m *Memory) AliasCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.aliases)
}
