package ocr

import (
	"context"
)

// Engine распознаёт фото накладной в структурированный черновик.
type Engine interface {
	Name() string
	GetModel() string
	Parse(ctx context.Context, img []byte, mime string) (ParseResult, error)
}
