// Package embed perturbs a handful of pixels in an image and records the
// changes, producing a per-recipient artifact.
package embed

import (
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/models"
)

// Defaults for the embedding parameters.
const (
	DefaultSites    = 10
	DefaultMaxDelta = 5
)

// Engine selects embedding sites and perturbs them. An Engine owns its
// random source and is not safe for concurrent use.
type Engine struct {
	sites     int
	maxDelta  int
	maxPixels int
	rnd       *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithSites sets the number of pixels perturbed per embedding.
func WithSites(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sites = n
		}
	}
}

// WithMaxDelta sets the bound of the symmetric per-channel perturbation.
func WithMaxDelta(d int) Option {
	return func(e *Engine) {
		if d > 0 {
			e.maxDelta = d
		}
	}
}

// WithMaxPixels caps the size of source images EmbedBytes will decode.
func WithMaxPixels(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxPixels = n
		}
	}
}

// NewEngine returns an Engine drawing from rnd.
func NewEngine(rnd *rand.Rand, opts ...Option) *Engine {
	e := &Engine{sites: DefaultSites, maxDelta: DefaultMaxDelta, maxPixels: imaging.DefaultMaxPixels, rnd: rnd}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxPixels returns the decode cap applied to source images.
func (e *Engine) MaxPixels() int { return e.maxPixels }

// Artifact is an encoded watermarked image and the record of how it was made.
type Artifact struct {
	Bytes  []byte
	Token  models.MarkerToken
	Record models.PerturbationRecord
	Width  int
	Height int
}

// Embed returns a perturbed copy of src. src itself is never modified.
//
// Sites are drawn uniformly with replacement, so a coordinate may be
// perturbed more than once; the record keeps every draw in order. Channel
// values wrap modulo 256 rather than clamping, which can flip a channel
// between 0 and 255 at the extremes.
func (e *Engine) Embed(src image.Image) (*image.NRGBA, models.PerturbationRecord, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, nil, fmt.Errorf("embed: image is %dx%d: %w", b.Dx(), b.Dy(), apperr.ErrInvalidInput)
	}
	img := imaging.ToNRGBA(src)
	w, h := b.Dx(), b.Dy()

	record := make(models.PerturbationRecord, 0, e.sites)
	for range e.sites {
		x := e.rnd.IntN(w)
		y := e.rnd.IntN(h)

		c := img.NRGBAAt(x, y)
		nc := color.NRGBA{
			R: e.shift(c.R),
			G: e.shift(c.G),
			B: e.shift(c.B),
			A: c.A,
		}
		img.SetNRGBA(x, y, nc)
		record = append(record, models.Site{X: x, Y: y, Color: models.RGB{nc.R, nc.G, nc.B}})
	}
	return img, record, nil
}

// EmbedBytes decodes src, embeds, and re-encodes the result as PNG.
func (e *Engine) EmbedBytes(src []byte, token models.MarkerToken) (*Artifact, error) {
	img, _, err := imaging.DecodeLimit(src, e.maxPixels)
	if err != nil {
		return nil, err
	}
	out, record, err := e.Embed(img)
	if err != nil {
		return nil, err
	}
	data, err := imaging.Encode(out)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Bytes:  data,
		Token:  token,
		Record: record,
		Width:  out.Bounds().Dx(),
		Height: out.Bounds().Dy(),
	}, nil
}

// shift adds a uniform delta in [-maxDelta, maxDelta] to v, modulo 256.
func (e *Engine) shift(v uint8) uint8 {
	delta := e.rnd.IntN(2*e.maxDelta+1) - e.maxDelta
	return uint8(((int(v)+delta)%256 + 256) % 256)
}
