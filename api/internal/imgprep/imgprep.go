package imgprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png" // декодер png

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // декодер webp
)

type Options struct {
	// MaxDimension: предельная ширина страницы после склейки.
	MaxDimension int
	Quality      int
	// Enhance: резкость и контраст для мелкого текста.
	Enhance bool
}

var DefaultOptions = Options{MaxDimension: 2048, Quality: 90}

// Combine склеивает страницы альбома сверху вниз в один JPEG.
// Страницы шире MaxDimension уменьшаются, узкие центрируются на белом фоне.
func Combine(images [][]byte, opt Options) ([]byte, error) {
	if len(images) == 0 {
		return nil, errors.New("no images")
	}
	if opt.MaxDimension <= 0 {
		opt.MaxDimension = DefaultOptions.MaxDimension
	}
	if opt.Quality <= 0 || opt.Quality > 100 {
		opt.Quality = DefaultOptions.Quality
	}

	pages := make([]image.Image, 0, len(images))
	maxW, sumH := 0, 0
	for i, b := range images {
		img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", i+1, err)
		}
		if img.Bounds().Dx() > opt.MaxDimension {
			img = imaging.Resize(img, opt.MaxDimension, 0, imaging.Lanczos)
		}
		bounds := img.Bounds()
		if bounds.Dx() > maxW {
			maxW = bounds.Dx()
		}
		sumH += bounds.Dy()
		pages = append(pages, img)
	}
	if maxW == 0 || sumH == 0 {
		return nil, errors.New("empty images")
	}

	var out image.Image
	if len(pages) == 1 {
		out = pages[0]
	} else {
		dst := imaging.New(maxW, sumH, color.White)
		y := 0
		for _, p := range pages {
			x := (maxW - p.Bounds().Dx()) / 2
			dst = imaging.Paste(dst, p, image.Pt(x, y))
			y += p.Bounds().Dy()
		}
		out = dst
	}

	if opt.Enhance {
		out = imaging.Sharpen(out, 1.5)
		out = imaging.AdjustContrast(out, 20)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(opt.Quality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}
