package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"invoice-bot/api/internal/reconcile"
	"invoice-bot/api/internal/util"
)

// Telegram режет сообщения длиннее 4096 символов.
const maxMessageRunes = 4000

// Bot: часть tgbotapi.BotAPI, которой пользуется роутер.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

func keyboard(rows [][]reconcile.Button) (tgbotapi.InlineKeyboardMarkup, error) {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		line := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			data, err := encodeAction(b.Action)
			if err != nil {
				return tgbotapi.InlineKeyboardMarkup{}, err
			}
			line = append(line, tgbotapi.NewInlineKeyboardButtonData(b.Label, data))
		}
		out = append(out, line)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: out}, nil
}

// showView показывает экран: правит сообщение msgID, если оно есть, иначе шлёт новое.
// Возвращает id сообщения с экраном.
func (r *Router) showView(chatID int64, msgID int, v reconcile.View) (int, error) {
	text := util.Truncate(v.Text, maxMessageRunes)
	kb, err := keyboard(v.Rows)
	if err != nil {
		return msgID, err
	}
	withKeyboard := !v.Final && len(kb.InlineKeyboard) > 0

	if msgID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
		if withKeyboard {
			edit.ReplyMarkup = &kb
		}
		_, err := r.Bot.Send(edit)
		if err == nil || notModified(err) {
			return msgID, nil
		}
		r.logger().WithError(err).WithField("chat_id", chatID).Warn("edit failed, sending new message")
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if withKeyboard {
		msg.ReplyMarkup = kb
	}
	sent, err := r.Bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// dropKeyboard убирает кнопки со старого экрана.
func (r *Router) dropKeyboard(chatID int64, msgID int) {
	if msgID == 0 {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := r.Bot.Request(edit); err != nil && !notModified(err) {
		r.logger().WithError(err).WithField("chat_id", chatID).Debug("drop keyboard failed")
	}
}

func notModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, util.Truncate(text, maxMessageRunes))
	if _, err := r.Bot.Send(msg); err != nil {
		r.logger().WithError(err).WithField("chat_id", chatID).Warn("send failed")
	}
}

func (r *Router) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := r.Bot.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		r.logger().WithError(err).Debug("callback ack failed")
	}
}

const helpText = `Пришлите фото накладной. Если накладная на нескольких листах, отправьте их одним альбомом или подряд: я склею страницы.

Дальше я сверю позиции со справочником и покажу, что требует внимания. Проблемы решаются кнопками, числа и названия вводятся текстом.

Команды:
/current — показать текущую накладную
/cancel — отменить работу с накладной
/stats — статистика
/help — эта справка`

func rescanText(reason string) string {
	switch reason {
	case "no_positions":
		return "📷 Не нашёл в документе ни одной позиции. Сфотографируйте накладную целиком, ровно и при хорошем освещении."
	case "low_quality":
		return "📷 Большая часть строк не читается. Переснимите накладную крупнее и без бликов."
	}
	return "📷 Не удалось прочитать накладную, пришлите фото ещё раз."
}
