package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/imgprep"
	"invoice-bot/api/internal/ocr"
	"invoice-bot/api/internal/reconcile"
	"invoice-bot/api/internal/sessions"
	"invoice-bot/api/internal/store"
	"invoice-bot/api/internal/util"
)

type AliasStats interface {
	Stats(ctx context.Context) (store.AliasStats, error)
}

type InvoiceStats interface {
	Stats(ctx context.Context, chatID int64, since time.Time) (store.InvoiceStats, error)
}

type Router struct {
	Bot      Bot
	Engine   *reconcile.Engine
	Sessions sessions.Store
	OCR      *ocr.Cached
	Log      logrus.FieldLogger

	// для /stats, необязательны
	Aliases  AliasStats
	Invoices InvoiceStats

	Prep       imgprep.Options
	Debounce   time.Duration
	OCRTimeout time.Duration

	queue    *chatQueue
	batches  sync.Map // key -> *photoBatch
	download func(url string) ([]byte, error)
}

func NewRouter(bot Bot, engine *reconcile.Engine, st sessions.Store, recognizer *ocr.Cached, log logrus.FieldLogger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		Bot:        bot,
		Engine:     engine,
		Sessions:   st,
		OCR:        recognizer,
		Log:        log,
		Prep:       imgprep.DefaultOptions,
		Debounce:   defaultDebounce,
		OCRTimeout: 90 * time.Second,
		queue:      newChatQueue(log),
		download:   download,
	}
}

// HandleUpdate ставит апдейт в очередь его чата и сразу возвращается.
func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	chatID := chatOf(upd)
	if chatID == 0 {
		return
	}
	r.queue.Do(chatID, func() { r.handle(chatID, upd) })
}

// Wait дожидается обработки всех поставленных апдейтов.
func (r *Router) Wait() { r.queue.Wait() }

func chatOf(upd tgbotapi.Update) int64 {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		return upd.CallbackQuery.Message.Chat.ID
	case upd.Message != nil:
		return upd.Message.Chat.ID
	}
	return 0
}

// handle: граница ошибок одного апдейта: паника не роняет бота и не теряет сессию.
func (r *Router) handle(chatID int64, upd tgbotapi.Update) {
	defer func() {
		if p := recover(); p != nil {
			r.logger().WithFields(logrus.Fields{"chat_id": chatID, "update_id": upd.UpdateID, "panic": p}).Error("update handler panic")
			r.recoverSession(chatID)
		}
	}()

	ctx := context.Background()
	if cb := upd.CallbackQuery; cb != nil {
		r.onCallback(ctx, cb)
		return
	}
	msg := upd.Message
	switch {
	case msg.IsCommand():
		r.onCommand(ctx, msg)
	case len(msg.Photo) > 0:
		ph := msg.Photo[len(msg.Photo)-1]
		r.acceptPhoto(chatID, ph.FileID, ph.FileSize, msg.MediaGroupID)
	case msg.Document != nil && util.IsImageMIME(msg.Document.MimeType):
		r.acceptPhoto(chatID, msg.Document.FileID, msg.Document.FileSize, msg.MediaGroupID)
	case strings.TrimSpace(msg.Text) != "":
		r.onText(ctx, msg)
	}
}

// recoverSession возвращает сессию к списку проблем после сбоя.
func (r *Router) recoverSession(chatID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := r.Sessions.Get(ctx, chatID)
	if err != nil {
		r.send(chatID, "😔 Что-то пошло не так. Попробуйте ещё раз.")
		return
	}
	s.State = reconcile.IssueList{}
	s.Notice = "😔 Что-то пошло не так. Вернул вас к списку проблем."
	v := r.Engine.Render(s)
	s.Notice = ""
	r.commit(ctx, s, v, true)
}

func (r *Router) onCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(chatID, helpText)
	case "cancel":
		r.act(ctx, chatID, 0, reconcile.Action{Kind: reconcile.ActCancel}, true)
	case "current":
		r.showCurrent(ctx, chatID)
	case "stats":
		r.send(chatID, r.statsText(ctx, chatID))
	default:
		r.send(chatID, "Неизвестная команда. /help — справка.")
	}
}

func (r *Router) onText(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if r.awaitingText(ctx, chatID) {
		r.act(ctx, chatID, 0, reconcile.Text(msg.Text), true)
	}
}

// awaitingText сообщает, ждёт ли сессия ввода. Если нет, заново показывает экран с подсказкой.
func (r *Router) awaitingText(ctx context.Context, chatID int64) bool {
	unlock, err := r.Sessions.Lock(ctx, chatID)
	if err != nil {
		r.storageFailed(chatID, "lock session", err)
		return false
	}
	defer unlock()

	s, err := r.Sessions.Get(ctx, chatID)
	if errors.Is(err, sessions.ErrNotFound) {
		r.send(chatID, "Пришлите фото накладной. /help — справка.")
		return false
	}
	if err != nil {
		r.storageFailed(chatID, "get session", err)
		return false
	}
	if s.State.Kind() == reconcile.KindFieldInput {
		return true
	}
	s.Notice = "ℹ️ Сейчас я жду нажатия кнопки."
	v := r.Engine.Render(s)
	s.Notice = ""
	r.commit(ctx, s, v, true)
	return false
}

func (r *Router) showCurrent(ctx context.Context, chatID int64) {
	unlock, err := r.Sessions.Lock(ctx, chatID)
	if err != nil {
		r.storageFailed(chatID, "lock session", err)
		return
	}
	defer unlock()

	s, err := r.Sessions.Get(ctx, chatID)
	if errors.Is(err, sessions.ErrNotFound) {
		r.send(chatID, "Нет активной накладной. Пришлите фото.")
		return
	}
	if err != nil {
		r.storageFailed(chatID, "get session", err)
		return
	}
	r.commit(ctx, s, r.Engine.Render(s), true)
}

func (r *Router) statsText(ctx context.Context, chatID int64) string {
	var b strings.Builder
	b.WriteString("📊 Статистика\n")
	if n, err := r.Sessions.Count(ctx); err == nil {
		fmt.Fprintf(&b, "Открытых накладных: %d\n", n)
	} else {
		r.logger().WithError(err).Warn("session count failed")
	}
	if r.Aliases != nil {
		if st, err := r.Aliases.Stats(ctx); err == nil {
			fmt.Fprintf(&b, "Выучено названий: %d (товаров: %d)\n", st.Total, st.Products)
			if st.LastLearned != nil {
				fmt.Fprintf(&b, "Последнее: %s\n", st.LastLearned.Format("2006-01-02 15:04"))
			}
		} else {
			r.logger().WithError(err).Warn("alias stats failed")
		}
	}
	if r.Invoices != nil {
		since := time.Now().AddDate(0, 0, -30)
		if st, err := r.Invoices.Stats(ctx, chatID, since); err == nil {
			fmt.Fprintf(&b, "Выгружено за 30 дней: %d накладных, %d позиций\n", st.Exported, st.Items)
		} else {
			r.logger().WithError(err).Warn("invoice stats failed")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) storageFailed(chatID int64, op string, err error) {
	r.logger().WithError(err).WithFields(logrus.Fields{"chat_id": chatID, "op": op}).Error("session storage failed")
	r.send(chatID, "❌ Хранилище временно недоступно, попробуйте ещё раз.")
}

func (r *Router) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}
