package ocr

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/util"
)

// Meta: откуда пришло изображение, для кэша и аудита.
type Meta struct {
	ChatID       int64
	MediaGroupID string
}

// Cache хранит результаты распознавания по (image_hash, engine, model).
type Cache interface {
	Lookup(ctx context.Context, imageHash, engine, model string) (*ParseResult, error)
	Save(ctx context.Context, meta Meta, imageHash, engine, model string, pr ParseResult) error
}

// Cached: движок с кэшем по хэшу изображения. Повторная отправка того же фото не тратит запрос к модели.
type Cached struct {
	Engine  Engine
	Cache   Cache
	Log     logrus.FieldLogger
	Timeout time.Duration
}

// Recognize распознаёт изображение. Возвращает также хэш изображения и признак попадания в кэш.
func (c *Cached) Recognize(ctx context.Context, meta Meta, img []byte, mime string) (ParseResult, string, bool, error) {
	hash := util.SHA256Hex(img)
	name, model := c.Engine.Name(), c.Engine.GetModel()
	log := c.logger().WithFields(logrus.Fields{"chat_id": meta.ChatID, "image_hash": hash, "engine": name, "model": model})

	if c.Cache != nil {
		pr, err := c.Cache.Lookup(ctx, hash, name, model)
		switch {
		case err != nil:
			log.WithError(err).Warn("ocr cache lookup failed")
		case pr != nil:
			log.Info("ocr cache hit")
			Assess(pr)
			return *pr, hash, true, nil
		}
	}

	pctx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	start := time.Now()
	pr, err := c.Engine.Parse(pctx, img, util.PickMIME(mime, img))
	if err != nil {
		return ParseResult{}, hash, false, err
	}
	Assess(&pr)
	log.WithFields(logrus.Fields{
		"positions": len(pr.Positions),
		"took_ms":   time.Since(start).Milliseconds(),
		"rescan":    pr.NeedsRescan,
	}).Info("ocr parsed")

	if c.Cache != nil && !pr.NeedsRescan {
		if err := c.Cache.Save(ctx, meta, hash, name, model, pr); err != nil {
			log.WithError(err).Warn("ocr cache save failed")
		}
	}
	return pr, hash, false, nil
}

func (c *Cached) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}
