// Package imaging decodes and encodes the raster artifacts Tracemark
// watermarks. Output is always PNG so the encoded bytes reproduce the
// in-memory pixel grid exactly.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"  // accepted as source input
	_ "image/jpeg" // accepted as source input
	"image/png"

	"github.com/starford/tracemark/internal/apperr"
)

// DefaultMaxPixels caps the pixel count Decode accepts, 40 megapixels.
const DefaultMaxPixels = 40_000_000

// Decode parses encoded image bytes into an owned NRGBA grid whose bounds
// start at the origin. Images over DefaultMaxPixels are rejected.
func Decode(data []byte) (*image.NRGBA, string, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel cap. The header is checked
// before any pixel buffer is allocated, so a small file declaring huge
// dimensions fails cheaply. A non-positive maxPixels selects DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (*image.NRGBA, string, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: decode header: %w: %w", apperr.ErrInvalidInput, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, "", fmt.Errorf("imaging: %dx%d exceeds %d pixels: %w",
			cfg.Width, cfg.Height, maxPixels, apperr.ErrInvalidInput)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("imaging: decode: %w: %w", apperr.ErrInvalidInput, err)
	}
	return ToNRGBA(src), format, nil
}

// ToNRGBA copies src into a new NRGBA image anchored at (0,0).
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// Encode writes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}
