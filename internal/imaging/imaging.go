// Package imaging shrinks generated images before they are stored.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxWidth and MaxHeight bound every stored image.
const (
	MaxWidth  = 500
	MaxHeight = 500
)

// maxSourcePixels caps the pixel count Downsize will decode. A full
// RGBA decode needs four bytes per pixel.
const maxSourcePixels = 40_000_000

// ErrTooLarge is returned for images whose header claims more pixels
// than Downsize will decode.
var ErrTooLarge = errors.New("image dimensions too large")

// Downsize decodes data and scales it to fit within maxW x maxH,
// preserving aspect ratio, and returns it PNG-encoded. Images already
// within bounds are re-encoded at their original size.
func Downsize(data []byte, maxW, maxH int) ([]byte, error) {
	if maxW <= 0 || maxH <= 0 {
		return nil, fmt.Errorf("invalid bounds %dx%d", maxW, maxH)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image header: %w", err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxSourcePixels {
		return nil, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrTooLarge)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), maxW, maxH)

	var out image.Image = src

	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}

	return buf.Bytes(), nil
}

// Shrink bounds data to MaxWidth x MaxHeight. When the bytes cannot be
// decoded, are too large to decode, or cannot be re-encoded, the
// original bytes are returned unchanged.
func Shrink(data []byte) []byte {
	if len(data) == 0 {
		return data
	}

	small, err := Downsize(data, MaxWidth, MaxHeight)
	if err != nil {
		return data
	}

	return small
}

// Fit returns the largest size no bigger than maxW x maxH with the
// aspect ratio of w x h. Sizes already within bounds are returned as is.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}

	// Compare w/maxW against h/maxH without floats.
	if w*maxH >= h*maxW {
		nh := h * maxW / w
		if nh < 1 {
			nh = 1
		}

		return maxW, nh
	}

	nw := w * maxH / h
	if nw < 1 {
		nw = 1
	}

	return nw, maxH
}
