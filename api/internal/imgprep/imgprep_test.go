package imgprep

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func encode(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decode(t *testing.T, b []byte) image.Image {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return img
}

func TestCombineStacksPages(t *testing.T) {
	out, err := Combine([][]byte{
		encode(t, 400, 300, imaging.JPEG),
		encode(t, 200, 100, imaging.PNG),
	}, Options{MaxDimension: 1000})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	b := decode(t, out).Bounds()
	if b.Dx() != 400 || b.Dy() != 400 {
		t.Fatalf("size = %dx%d, want 400x400", b.Dx(), b.Dy())
	}
}

func TestCombineDownscalesWidePages(t *testing.T) {
	out, err := Combine([][]byte{encode(t, 1600, 800, imaging.JPEG)}, Options{MaxDimension: 800, Enhance: true})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	b := decode(t, out).Bounds()
	if b.Dx() != 800 || b.Dy() != 400 {
		t.Fatalf("size = %dx%d, want 800x400", b.Dx(), b.Dy())
	}
}

func TestCombineErrors(t *testing.T) {
	if _, err := Combine(nil, DefaultOptions); err == nil {
		t.Fatalf("expected error for empty album")
	}
	if _, err := Combine([][]byte{[]byte("not an image")}, DefaultOptions); err == nil {
		t.Fatalf("expected decode error")
	}
}
