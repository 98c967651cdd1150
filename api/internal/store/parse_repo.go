package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"invoice-bot/api/internal/ocr"
)

// ParseRepo: кэш распознавания по (image_hash, engine, model).
type ParseRepo struct {
	DB     *sql.DB
	MaxAge time.Duration
}

func NewParseRepo(db *sql.DB) *ParseRepo { return &ParseRepo{DB: db, MaxAge: 30 * 24 * time.Hour} }

// ParsedRow: то, что чаще всего нужно наверх.
type ParsedRow struct {
	ID           int64
	CreatedAt    time.Time
	ChatID       int64
	MediaGroupID string
	ImageHash    string
	Engine       string
	Model        string
	Parse        ocr.ParseResult
}

// FindByHash достаёт запись по ключу (image_hash + engine + model).
// Если maxAge > 0, проверяет "свежесть", иначе игнорирует возраст.
func (r *ParseRepo) FindByHash(ctx context.Context, imageHash, engine, model string, maxAge time.Duration) (*ParsedRow, error) {
	const q = `
select id, created_at,
       coalesce(chat_id,0) as chat_id,
       coalesce(media_group_id,'') as media_group_id,
       image_hash, engine, model,
       result_json
from parsed_invoices
where image_hash = $1 and engine = $2 and model = $3`
	var (
		row ParsedRow
		js  []byte
	)
	err := r.DB.QueryRowContext(ctx, q, imageHash, engine, model).Scan(
		&row.ID, &row.CreatedAt, &row.ChatID, &row.MediaGroupID,
		&row.ImageHash, &row.Engine, &row.Model, &js,
	)
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(js, &row.Parse); err != nil {
		// если JSON поломан, считаем, что не найдено
		return nil, ErrNotFound
	}
	return &row, nil
}

// Upsert сохраняет результат. Если запись по (image_hash, engine, model) существует, обновит все поля.
func (r *ParseRepo) Upsert(ctx context.Context, chatID int64, mediaGroupID, imageHash, engine, model string, pr ocr.ParseResult) error {
	js, err := json.Marshal(pr)
	if err != nil {
		return err
	}
	const q = `
insert into parsed_invoices (
  chat_id, media_group_id, image_hash, engine, model, raw_text, result_json, positions
) values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (image_hash, engine, model) do update
set chat_id = excluded.chat_id,
    media_group_id = excluded.media_group_id,
    raw_text = excluded.raw_text,
    result_json = excluded.result_json,
    positions = excluded.positions,
    created_at = now()`
	_, err = r.DB.ExecContext(ctx, q,
		chatID, mediaGroupID, imageHash, engine, model, pr.RawText, js, len(pr.Positions),
	)
	return err
}

// Lookup: ocr.Cache: промах даёт nil без ошибки.
func (r *ParseRepo) Lookup(ctx context.Context, imageHash, engine, model string) (*ocr.ParseResult, error) {
	row, err := r.FindByHash(ctx, imageHash, engine, model, r.MaxAge)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row.Parse, nil
}

func (r *ParseRepo) Save(ctx context.Context, meta ocr.Meta, imageHash, engine, model string, pr ocr.ParseResult) error {
	return r.Upsert(ctx, meta.ChatID, meta.MediaGroupID, imageHash, engine, model, pr)
}

// PurgeOlderThan удаляет очень старые записи-кэши, чтобы не раздувать БД.
func (r *ParseRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from parsed_invoices where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
