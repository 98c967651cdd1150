package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/errs"
)

// AliasRepo: выученные соответствия "строка из накладной → товар".
type AliasRepo struct{ DB *sql.DB }

func NewAliasRepo(db *sql.DB) *AliasRepo { return &AliasRepo{DB: db} }

func (r *AliasRepo) Lookup(ctx context.Context, raw string) (*int64, error) {
	key := catalog.AliasKey(raw)
	if key == "" {
		return nil, nil
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, `select product_id from product_aliases where alias = $1`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Upsert идемпотентен: повтор с тем же товаром ничего не меняет, с другим, перепривязывает алиас.
func (r *AliasRepo) Upsert(ctx context.Context, raw string, productID int64) error {
	key := catalog.AliasKey(raw)
	if key == "" {
		return errs.Validation("alias", "alias is empty")
	}
	const q = `
insert into product_aliases (alias, product_id) values ($1, $2)
on conflict (alias) do update
set product_id = excluded.product_id,
    updated_at = now()
where product_aliases.product_id <> excluded.product_id`
	_, err := r.DB.ExecContext(ctx, q, key, productID)
	if pgCode(err) == codeForeignKeyViolation {
		return errs.NotFound("product", productID)
	}
	return err
}

func (r *AliasRepo) Remove(ctx context.Context, raw string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `delete from product_aliases where alias = $1`, catalog.AliasKey(raw))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type AliasStats struct {
	Total       int
	Products    int
	LastLearned *time.Time
}

func (r *AliasRepo) Stats(ctx context.Context) (AliasStats, error) {
	const q = `select count(*), count(distinct product_id), max(updated_at) from product_aliases`
	var (
		st   AliasStats
		last sql.NullTime
	)
	if err := r.DB.QueryRowContext(ctx, q).Scan(&st.Total, &st.Products, &last); err != nil {
		return AliasStats{}, err
	}
	if last.Valid {
		t := last.Time
		st.LastLearned = &t
	}
	return st, nil
}
