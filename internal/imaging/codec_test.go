package imaging

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"runtime"
	"testing"

	"github.com/starford/tracemark/internal/apperr"
)

func TestEncodeDecode_Lossless(t *testing.T) {
	img := Solid(8, 6, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	img.SetNRGBA(3, 4, color.NRGBA{R: 255, G: 0, B: 1, A: 255})

	data, err := Encode(img)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, format, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if got.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v, want %v", got.Bounds(), img.Bounds())
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			if got.NRGBAAt(x, y) != img.NRGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got.NRGBAAt(x, y), img.NRGBAAt(x, y))
			}
		}
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode([]byte("not an image"))
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestToNRGBA_RebasesBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 9, 7))
	src.Set(5, 5, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	got := ToNRGBA(src)
	if got.Bounds() != image.Rect(0, 0, 4, 2) {
		t.Fatalf("bounds = %v", got.Bounds())
	}
	if c := got.NRGBAAt(0, 0); c.R != 1 || c.G != 2 || c.B != 3 {
		t.Errorf("origin pixel = %v", c)
	}
}

func TestSolid_DifferentColorsDifferentBytes(t *testing.T) {
	white, _ := Encode(Solid(10, 10, color.White))
	black, _ := Encode(Solid(10, 10, color.Black))
	if string(white) == string(black) {
		t.Fatal("solid white and black encoded identically")
	}
}

// withDeclaredSize rewrites the IHDR dimensions of a PNG and fixes the chunk
// CRC, leaving the pixel data untouched.
func withDeclaredSize(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data, err := Encode(Solid(1, 1, color.White))
	if err != nil {
		t.Fatal(err)
	}
	// 8-byte signature, 4-byte length, "IHDR", then width and height.
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecode_OversizedHeaderRejectedBeforeAllocation(t *testing.T) {
	data := withDeclaredSize(t, 12000, 12000)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, _, err := Decode(data)
	runtime.ReadMemStats(&after)

	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
		t.Errorf("decode allocated %d bytes for a rejected header", grew)
	}
}

func TestDecodeLimit(t *testing.T) {
	data, _ := Encode(Solid(10, 10, color.Black))

	if _, _, err := DecodeLimit(data, 99); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("cap 99: err = %v, want ErrInvalidInput", err)
	}
	img, _, err := DecodeLimit(data, 100)
	if err != nil {
		t.Fatalf("cap 100: %v", err)
	}
	if img.Bounds().Dx() != 10 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	if _, _, err := DecodeLimit(data, 0); err != nil {
		t.Errorf("zero cap should fall back to the default: %v", err)
	}
}
