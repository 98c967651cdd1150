package telegram

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"invoice-bot/api/internal/reconcile"
	"invoice-bot/api/internal/sessions"
)

func (r *Router) onCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	a, ok := decodeAction(cb.Data)
	if !ok {
		r.answer(cb, "Кнопка устарела")
		r.dropKeyboard(chatID, cb.Message.MessageID)
		return
	}
	r.answer(cb, "")
	r.act(ctx, chatID, cb.Message.MessageID, a, false)
}

// act применяет действие к сессии чата под блокировкой. fromMsg, сообщение с нажатой кнопкой.
func (r *Router) act(ctx context.Context, chatID int64, fromMsg int, a reconcile.Action, fresh bool) {
	unlock, err := r.Sessions.Lock(ctx, chatID)
	if err != nil {
		r.storageFailed(chatID, "lock session", err)
		return
	}
	defer unlock()

	s, err := r.Sessions.Get(ctx, chatID)
	if errors.Is(err, sessions.ErrNotFound) {
		if fromMsg != 0 {
			r.dropKeyboard(chatID, fromMsg)
		}
		r.send(chatID, "Нет активной накладной. Пришлите фото.")
		return
	}
	if err != nil {
		r.storageFailed(chatID, "get session", err)
		return
	}
	if fromMsg != 0 && s.MessageID != 0 && fromMsg != s.MessageID {
		// кнопка со старого экрана
		r.dropKeyboard(chatID, fromMsg)
		return
	}

	log := r.logger().WithFields(logrus.Fields{"chat_id": chatID, "session": s.ID, "action": a.Kind})
	before := s.State.Kind()
	next, view := r.Engine.Handle(ctx, s, a)
	log.WithFields(logrus.Fields{"from": before, "final": view.Final}).Debug("action handled")
	r.commit(ctx, next, view, fresh)
}

// commit показывает экран и сохраняет сессию. Завершённая сессия удаляется.
func (r *Router) commit(ctx context.Context, s *reconcile.Session, v reconcile.View, fresh bool) {
	msgID := s.MessageID
	if fresh {
		r.dropKeyboard(s.ChatID, msgID)
		msgID = 0
	}
	id, err := r.showView(s.ChatID, msgID, v)
	if err != nil {
		r.logger().WithError(err).WithField("chat_id", s.ChatID).Error("show view failed")
	}

	if v.Final {
		if err := r.Sessions.Delete(ctx, s.ChatID); err != nil {
			r.logger().WithError(err).WithField("chat_id", s.ChatID).Error("delete session failed")
		}
		return
	}
	if id != 0 {
		s.MessageID = id
	}
	if err := r.Sessions.Save(ctx, s); err != nil {
		r.storageFailed(s.ChatID, "save session", err)
	}
}
