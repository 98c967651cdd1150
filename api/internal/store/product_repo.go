package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/invoice"
)

type ProductRepo struct{ DB *sql.DB }

func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{DB: db} }

func (r *ProductRepo) Products(ctx context.Context) ([]invoice.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `select id, name, unit from products order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []invoice.Product
	for rows.Next() {
		var p invoice.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProductRepo) Product(ctx context.Context, id int64) (*invoice.Product, error) {
	var p invoice.Product
	err := r.DB.QueryRowContext(ctx, `select id, name, unit from products where id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Unit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("product", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create заводит товар. Дубликат по имени (без учёта регистра), IntegrityError.
func (r *ProductRepo) Create(ctx context.Context, name, unit string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errs.Validation("name", "product name is empty")
	}
	var id int64
	err := r.DB.QueryRowContext(ctx,
		`insert into products (name, unit) values ($1, $2) returning id`,
		name, strings.TrimSpace(unit),
	).Scan(&id)
	if pgCode(err) == codeUniqueViolation {
		return 0, &errs.IntegrityError{Op: "create product " + name, Err: err}
	}
	return id, err
}

// Upsert для импорта справочника: обновляет единицу существующего товара.
// Второе значение, товар был создан.
func (r *ProductRepo) Upsert(ctx context.Context, name, unit string) (int64, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, errs.Validation("name", "product name is empty")
	}
	const q = `
insert into products (name, unit) values ($1, $2)
on conflict ((lower(name))) do update
set unit = case when excluded.unit = '' then products.unit else excluded.unit end
returning id, (xmax = 0) as inserted`
	var (
		id       int64
		inserted bool
	)
	if err := r.DB.QueryRowContext(ctx, q, name, strings.TrimSpace(unit)).Scan(&id, &inserted); err != nil {
		return 0, false, err
	}
	return id, inserted, nil
}

func (r *ProductRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `select count(*) from products`).Scan(&n)
	return n, err
}
