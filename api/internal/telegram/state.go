package telegram

import (
	"sync"
	"time"
)

const (
	defaultDebounce = 1200 * time.Millisecond
	maxAlbumPages   = 10
	maxPhotoBytes   = 20 << 20
)

// photoBatch: страницы одного альбома (или подряд присланные фото чата) до склейки.
type photoBatch struct {
	ChatID       int64
	Key          string // "grp:<mediaGroupID>" | "chat:<chatID>"
	MediaGroupID string

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}

func batchKey(chatID int64, mediaGroupID string) string {
	if mediaGroupID != "" {
		return "grp:" + mediaGroupID
	}
	return "chat:" + itoa(chatID)
}
