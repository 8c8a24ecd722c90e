package embed

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/models"
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestEmbed_RecordShape(t *testing.T) {
	e := NewEngine(seeded(1))
	src := imaging.Solid(40, 30, color.NRGBA{R: 128, G: 128, B: 128, A: 255})

	out, rec, err := e.Embed(src)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(rec) != DefaultSites {
		t.Fatalf("record len = %d, want %d", len(rec), DefaultSites)
	}
	if !InBounds(rec, 40, 30) {
		t.Errorf("record has out-of-bounds site: %+v", rec)
	}
	if out.Bounds() != src.Bounds() {
		t.Errorf("bounds = %v, want %v", out.Bounds(), src.Bounds())
	}
}

func TestEmbed_DeltaWithinRange(t *testing.T) {
	e := NewEngine(seeded(2))
	base := color.NRGBA{R: 100, G: 150, B: 200, A: 255}
	src := imaging.Solid(50, 50, base)

	for i := 0; i < 20; i++ {
		out, rec, err := e.Embed(src)
		if err != nil {
			t.Fatal(err)
		}
		seen := map[image.Point]bool{}
		for _, s := range rec {
			p := image.Pt(s.X, s.Y)
			if seen[p] {
				// Repeated coordinate: cumulative drift may reach 2*MaxDelta.
				continue
			}
			seen[p] = true
			for ch, want := range []uint8{base.R, base.G, base.B} {
				d := int(s.Color[ch]) - int(want)
				if d < -DefaultMaxDelta || d > DefaultMaxDelta {
					t.Fatalf("channel %d delta %d out of range at %+v", ch, d, s)
				}
			}
		}
		if mm := Verify(out, rec); len(mm) != 0 {
			t.Fatalf("output does not match record: %+v", mm)
		}
	}
}

func TestEmbed_SourceUntouched(t *testing.T) {
	src := imaging.Solid(5, 5, color.NRGBA{R: 9, G: 9, B: 9, A: 255})
	before := append([]uint8(nil), src.Pix...)
	if _, _, err := NewEngine(seeded(3), WithMaxDelta(50)).Embed(src); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, src.Pix) {
		t.Error("Embed modified its input")
	}
}

func TestEmbed_WrapsModulo256(t *testing.T) {
	// 1x1 black image: every negative delta must wrap to the top of the range.
	src := imaging.Solid(1, 1, color.NRGBA{A: 255})
	e := NewEngine(seeded(4), WithSites(1))
	wrapped := false
	for i := 0; i < 200 && !wrapped; i++ {
		_, rec, err := e.Embed(src)
		if err != nil {
			t.Fatal(err)
		}
		for _, v := range rec[0].Color {
			if v > 255-DefaultMaxDelta {
				wrapped = true
			} else if v > DefaultMaxDelta {
				t.Fatalf("channel %d is neither a small positive nor a wrapped value", v)
			}
		}
	}
	if !wrapped {
		t.Error("expected at least one wrapped channel in 200 draws")
	}
}

func TestEmbed_PreservesAlpha(t *testing.T) {
	src := imaging.Solid(4, 4, color.NRGBA{R: 50, G: 60, B: 70, A: 99})
	out, rec, err := NewEngine(seeded(5)).Embed(src)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range rec {
		if a := out.NRGBAAt(s.X, s.Y).A; a != 99 {
			t.Errorf("alpha at (%d,%d) = %d, want 99", s.X, s.Y, a)
		}
	}
}

func TestEmbed_ZeroDimension(t *testing.T) {
	for _, r := range []image.Rectangle{image.Rect(0, 0, 0, 10), image.Rect(0, 0, 10, 0)} {
		rnd, fresh := seeded(6), seeded(6)
		_, _, err := NewEngine(rnd).Embed(image.NewNRGBA(r))
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("rect %v: err = %v, want ErrInvalidInput", r, err)
		}
		if rnd.Uint64() != fresh.Uint64() {
			t.Error("random source consumed before the dimension check")
		}
	}
}

func TestEmbed_SeedReproducible(t *testing.T) {
	src := imaging.Solid(30, 30, color.NRGBA{G: 128, A: 255})
	_, a, _ := NewEngine(seeded(7)).Embed(src)
	_, b, _ := NewEngine(seeded(7)).Embed(src)
	if len(a) != len(b) {
		t.Fatal("length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("site %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestEmbedBytes_RoundTrip(t *testing.T) {
	srcBytes, err := imaging.Encode(imaging.Solid(30, 30, color.NRGBA{G: 128, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	art, err := NewEngine(seeded(8)).EmbedBytes(srcBytes, models.MarkerToken("tok"))
	if err != nil {
		t.Fatalf("EmbedBytes: %v", err)
	}
	if art.Width != 30 || art.Height != 30 || art.Token != "tok" {
		t.Errorf("artifact = %dx%d token %q", art.Width, art.Height, art.Token)
	}
	decoded, _, err := imaging.Decode(art.Bytes)
	if err != nil {
		t.Fatalf("Decode artifact: %v", err)
	}
	if mm := Verify(decoded, art.Record); len(mm) != 0 {
		t.Errorf("delivered artifact does not match record: %+v", mm)
	}
}

func TestEmbedBytes_DifferentEachCall(t *testing.T) {
	srcBytes, _ := imaging.Encode(imaging.Solid(30, 30, color.NRGBA{B: 128, A: 255}))
	e := NewEngine(seeded(9))
	a, _ := e.EmbedBytes(srcBytes, "t")
	b, _ := e.EmbedBytes(srcBytes, "t")
	if bytes.Equal(a.Bytes, b.Bytes) {
		t.Error("two embeddings produced identical artifacts")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	src := imaging.Solid(10, 10, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	out, rec, _ := NewEngine(seeded(10), WithSites(1)).Embed(src)
	s := rec[0]
	out.SetNRGBA(s.X, s.Y, color.NRGBA{R: s.Color[0] + 1, G: s.Color[1], B: s.Color[2], A: 255})
	if mm := Verify(out, rec); len(mm) != 1 {
		t.Fatalf("mismatches = %d, want 1", len(mm))
	}

	outside := models.PerturbationRecord{{X: 99, Y: 0}}
	if mm := Verify(out, outside); len(mm) != 1 {
		t.Errorf("out-of-bounds site not reported")
	}
}

func TestEmbedBytes_PixelCap(t *testing.T) {
	src, err := imaging.Encode(imaging.Solid(10, 10, color.White))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(seeded(10), WithMaxPixels(50))
	if e.MaxPixels() != 50 {
		t.Fatalf("MaxPixels = %d", e.MaxPixels())
	}
	if _, err := e.EmbedBytes(src, "tok"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if NewEngine(seeded(10), WithMaxPixels(0)).MaxPixels() != imaging.DefaultMaxPixels {
		t.Error("non-positive cap should keep the default")
	}
}
