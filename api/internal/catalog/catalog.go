package catalog

import (
	"context"
	"strings"

	"invoice-bot/api/internal/invoice"
)

// Catalog: справочник товаров.
type Catalog interface {
	Products(ctx context.Context) ([]invoice.Product, error)
	Product(ctx context.Context, id int64) (*invoice.Product, error)
	Create(ctx context.Context, name, unit string) (int64, error)
}

// Aliases: выученные соответствия "сырое имя -> товар".
type Aliases interface {
	Lookup(ctx context.Context, raw string) (*int64, error)
	Upsert(ctx context.Context, raw string, productID int64) error
	Remove(ctx context.Context, raw string) (bool, error)
}

// AliasKey приводит имя к ключу алиаса: нижний регистр, схлопнутые пробелы.
func AliasKey(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
