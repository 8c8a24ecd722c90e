package embed

import (
	"image"

	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/models"
)

// Verify reports the record sites whose colour is not present in img. When
// a coordinate repeats, only its last entry is expected to survive.
// Sites outside img's bounds are always reported.
func Verify(img image.Image, record models.PerturbationRecord) []models.Site {
	final := make(map[image.Point]int, len(record))
	for i, s := range record {
		final[image.Pt(s.X, s.Y)] = i
	}

	nimg, ok := img.(*image.NRGBA)
	if !ok {
		nimg = imaging.ToNRGBA(img)
	}
	b := nimg.Bounds()

	var mismatched []models.Site
	for i, s := range record {
		if final[image.Pt(s.X, s.Y)] != i {
			continue
		}
		p := image.Pt(b.Min.X+s.X, b.Min.Y+s.Y)
		if !p.In(b) {
			mismatched = append(mismatched, s)
			continue
		}
		c := nimg.NRGBAAt(p.X, p.Y)
		if c.R != s.Color[0] || c.G != s.Color[1] || c.B != s.Color[2] {
			mismatched = append(mismatched, s)
		}
	}
	return mismatched
}

// InBounds reports whether every site lies within a w×h grid.
func InBounds(record models.PerturbationRecord, w, h int) bool {
	for _, s := range record {
		if s.X < 0 || s.Y < 0 || s.X >= w || s.Y >= h {
			return false
		}
	}
	return true
}
