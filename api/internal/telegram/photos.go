package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/config"
	"invoice-bot/api/internal/errs"
	"invoice-bot/api/internal/imgprep"
	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/ocr"
	"invoice-bot/api/internal/sessions"
)

// acceptPhoto скачивает страницу и копит её в пачке. Пачка уходит в распознавание,
// когда новых страниц нет дольше Debounce.
func (r *Router) acceptPhoto(chatID int64, fileID string, size int, mediaGroupID string) {
	if size > maxPhotoBytes {
		r.send(chatID, "Файл слишком большой. Пришлите фото до 20 МБ.")
		return
	}
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		r.photoFailed(chatID, "get file url", err)
		return
	}
	img, err := r.download(url)
	if err != nil {
		r.photoFailed(chatID, "download photo", err)
		return
	}

	key := batchKey(chatID, mediaGroupID)
	bi, _ := r.batches.LoadOrStore(key, &photoBatch{
		ChatID: chatID, Key: key, MediaGroupID: mediaGroupID, images: make([][]byte, 0, 4),
	})
	b := bi.(*photoBatch)

	b.mu.Lock()
	if len(b.images) >= maxAlbumPages {
		b.mu.Unlock()
		r.send(chatID, fmt.Sprintf("Не больше %d страниц в одной накладной, лишние пропущены.", maxAlbumPages))
		return
	}
	b.images = append(b.images, img)
	first := len(b.images) == 1
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(r.debounce(), func() {
		r.queue.Do(chatID, func() { r.processBatch(key) })
	})
	b.mu.Unlock()

	if first {
		r.send(chatID, "📥 Фото принято. Если страниц несколько, пришлите остальные подряд: я склею их перед распознаванием.")
	}
}

func (r *Router) processBatch(key string) {
	bi, ok := r.batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)
	b.mu.Lock()
	images := append([][]byte(nil), b.images...)
	chatID, mediaGroupID := b.ChatID, b.MediaGroupID
	b.mu.Unlock()
	if len(images) == 0 {
		return
	}

	log := r.logger().WithFields(logrus.Fields{"chat_id": chatID, "pages": len(images)})
	merged, err := imgprep.Combine(images, r.Prep)
	if err != nil {
		log.WithError(err).Warn("combine pages failed")
		r.send(chatID, "📷 Не удалось открыть изображение. Пришлите фото в JPEG или PNG.")
		return
	}

	r.send(chatID, "🔎 Распознаю накладную…")
	ctx, cancel := context.WithTimeout(context.Background(), r.ocrTimeout())
	defer cancel()
	pr, hash, cached, err := r.OCR.Recognize(ctx, ocr.Meta{ChatID: chatID, MediaGroupID: mediaGroupID}, merged, "image/jpeg")
	if err != nil {
		config.LogError(r.logger(), "telegram", "processBatch", "ocr recognize", logrus.Fields{"chat_id": chatID, "pages": len(images)}, err)
		r.send(chatID, "❌ Сервис распознавания сейчас недоступен. Попробуйте прислать фото позже.")
		return
	}
	log.WithFields(logrus.Fields{"image_hash": hash, "cached": cached, "positions": len(pr.Positions)}).Info("invoice recognized")
	if pr.NeedsRescan {
		r.send(chatID, rescanText(pr.RescanReason))
		return
	}
	r.startSession(chatID, pr.ToDraft(hash))
}

// startSession открывает сверку. Незавершённая накладная чата при этом закрывается.
func (r *Router) startSession(chatID int64, draft invoice.Draft) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unlock, err := r.Sessions.Lock(ctx, chatID)
	if err != nil {
		r.storageFailed(chatID, "lock session", err)
		return
	}
	defer unlock()

	prev, err := r.Sessions.Get(ctx, chatID)
	if err != nil && !errors.Is(err, sessions.ErrNotFound) {
		r.storageFailed(chatID, "get session", err)
		return
	}

	s, view, err := r.Engine.Start(ctx, chatID, draft)
	if err != nil {
		var ve *errs.ValidationError
		if errors.As(err, &ve) {
			r.send(chatID, "⚠️ "+ve.Message)
			return
		}
		config.LogError(r.logger(), "telegram", "startSession", "reconcile start", logrus.Fields{"chat_id": chatID}, err)
		r.send(chatID, "❌ Не удалось сверить накладную со справочником. Попробуйте ещё раз.")
		return
	}
	if prev != nil {
		r.dropKeyboard(chatID, prev.MessageID)
		view.Text = "ℹ️ Предыдущая незавершённая накладная закрыта.\n\n" + view.Text
	}
	r.commit(ctx, s, view, true)
}

func (r *Router) photoFailed(chatID int64, op string, err error) {
	r.logger().WithError(err).WithFields(logrus.Fields{"chat_id": chatID, "op": op}).Warn("photo download failed")
	r.send(chatID, "Не удалось получить фото из Telegram, пришлите его ещё раз.")
}

func (r *Router) debounce() time.Duration {
	if r.Debounce <= 0 {
		return defaultDebounce
	}
	return r.Debounce
}

func (r *Router) ocrTimeout() time.Duration {
	if r.OCRTimeout <= 0 {
		return 90 * time.Second
	}
	return r.OCRTimeout
}

func download(url string) ([]byte, error) {
	resp, err := httpClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
