// Package marker generates human-traceable watermark tokens.
package marker

import (
	"math/rand/v2"

	"github.com/starford/tracemark/internal/models"
)

// Alphabet is the suffix character set.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultSuffixLen is the random suffix width.
const DefaultSuffixLen = 6

// Generator produces marker tokens from an injected random source.
// A Generator is not safe for concurrent use.
type Generator struct {
	rnd       *rand.Rand
	suffixLen int
}

// NewGenerator returns a Generator drawing from rnd. A non-positive
// suffixLen selects DefaultSuffixLen.
func NewGenerator(rnd *rand.Rand, suffixLen int) *Generator {
	if suffixLen <= 0 {
		suffixLen = DefaultSuffixLen
	}
	return &Generator{rnd: rnd, suffixLen: suffixLen}
}

// Generate returns "{name}_{email}_{suffix}". Collisions with earlier
// tokens are not checked.
func (g *Generator) Generate(displayName, email string) models.MarkerToken {
	return models.MarkerToken(displayName + "_" + email + "_" + g.Suffix())
}

// Suffix returns a fresh random string over Alphabet.
func (g *Generator) Suffix() string {
	buf := make([]byte, g.suffixLen)
	for i := range buf {
		buf[i] = Alphabet[g.rnd.IntN(len(Alphabet))]
	}
	return string(buf)
}
