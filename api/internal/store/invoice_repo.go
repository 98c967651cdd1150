package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"invoice-bot/api/internal/export"
	"invoice-bot/api/internal/reconcile"
)

// InvoiceRepo: журнал выгруженных накладных.
type InvoiceRepo struct{ DB *sql.DB }

func NewInvoiceRepo(db *sql.DB) *InvoiceRepo { return &InvoiceRepo{DB: db} }

// RecordExport сохраняет накладную с позициями одной транзакцией. Повтор для той же сессии ничего не пишет.
func (r *InvoiceRepo) RecordExport(ctx context.Context, s *reconcile.Session, inv *export.Invoice) error {
	date, err := time.Parse("2006-01-02", inv.Date)
	if err != nil {
		return fmt.Errorf("invoice date %q: %w", inv.Date, err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const qInvoice = `
insert into invoices (session_id, chat_id, supplier, buyer, number, date, total_sum, image_hash)
values ($1,$2,$3,nullif($4,''),nullif($5,''),$6,$7,nullif($8,''))
on conflict (session_id) do nothing
returning id`
	var id int64
	err = tx.QueryRowContext(ctx, qInvoice,
		s.ID, s.ChatID, inv.Supplier, inv.Buyer, inv.Number, date, inv.Total, s.Draft.ImageHash,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	const qItem = `
insert into invoice_items (invoice_id, position, product_id, name, quantity, unit, price, sum, is_new)
values ($1,$2,nullif($3,0),$4,$5,$6,$7,$8,$9)`
	for _, it := range inv.Items {
		if _, err := tx.ExecContext(ctx, qItem,
			id, it.Position, it.ProductID, it.Name, it.Quantity, it.Unit, it.Price, it.Sum, it.New,
		); err != nil {
			return fmt.Errorf("insert item %d: %w", it.Position, err)
		}
	}
	return tx.Commit()
}

type InvoiceStats struct {
	Exported int
	Items    int
	Last     *time.Time
}

// Stats: выгрузки чата начиная с since.
func (r *InvoiceRepo) Stats(ctx context.Context, chatID int64, since time.Time) (InvoiceStats, error) {
	const q = `
select count(distinct i.id), count(it.id), max(i.exported_at)
from invoices i
left join invoice_items it on it.invoice_id = i.id
where i.chat_id = $1 and i.exported_at >= $2`
	var (
		st   InvoiceStats
		last sql.NullTime
	)
	if err := r.DB.QueryRowContext(ctx, q, chatID, since).Scan(&st.Exported, &st.Items, &last); err != nil {
		return InvoiceStats{}, err
	}
	if last.Valid {
		t := last.Time
		st.Last = &t
	}
	return st, nil
}
