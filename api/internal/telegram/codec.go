package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"invoice-bot/api/internal/reconcile"
)

// Telegram ограничивает callback_data 64 байтами.
const maxCallbackData = 64

const callbackPrefix = "a:"

var callbackKinds = map[reconcile.ActionKind]bool{
	reconcile.ActIssue:   true,
	reconcile.ActPage:    true,
	reconcile.ActProduct: true,
	reconcile.ActField:   true,
	reconcile.ActUnit:    true,
	reconcile.ActConvert: true,
	reconcile.ActConfirm: true,
	reconcile.ActDone:    true,
	reconcile.ActBack:    true,
	reconcile.ActAddAll:  true,
	reconcile.ActCancel:  true,
}

// encodeAction: "a:<kind>:<arg>". Текстовый ввод кнопкой не кодируется.
func encodeAction(a reconcile.Action) (string, error) {
	if !callbackKinds[a.Kind] {
		return "", fmt.Errorf("action %q cannot be a button", a.Kind)
	}
	data := callbackPrefix + string(a.Kind) + ":" + a.Arg
	if len(data) > maxCallbackData {
		return "", fmt.Errorf("callback data too long (%d bytes): %q", len(data), data)
	}
	return data, nil
}

func decodeAction(data string) (reconcile.Action, bool) {
	rest, ok := strings.CutPrefix(data, callbackPrefix)
	if !ok {
		return reconcile.Action{}, false
	}
	kind, arg, _ := strings.Cut(rest, ":")
	a := reconcile.Action{Kind: reconcile.ActionKind(kind), Arg: arg}
	if !callbackKinds[a.Kind] {
		return reconcile.Action{}, false
	}
	return a, true
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
