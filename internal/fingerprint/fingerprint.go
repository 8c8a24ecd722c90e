// Package fingerprint computes content digests of encoded artifacts.
//
// A fingerprint is taken over the encoded byte stream, not the decoded pixel
// grid, so any re-encoding of an image yields a different fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/starford/tracemark/internal/apperr"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Fingerprint is the hex-encoded SHA-256 digest of an artifact's bytes.
type Fingerprint string

// String implements fmt.Stringer.
func (f Fingerprint) String() string { return string(f) }

// Of returns the fingerprint of data.
func Of(data []byte) Fingerprint {
	h := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(h[:]))
}

// OfReader hashes everything read from r.
func OfReader(r io.Reader) (Fingerprint, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("fingerprint: read: %w: %w", apperr.ErrIO, err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// OfFile hashes the file at path.
func OfFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint: open %s: %w: %w", path, apperr.ErrIO, err)
	}
	defer f.Close()
	return OfReader(f)
}

// Parse validates s as a fingerprint. Upper-case hex is rejected so that
// stored keys have a single canonical form.
func Parse(s string) (Fingerprint, error) {
	if len(s) != Size {
		return "", fmt.Errorf("fingerprint: want %d hex chars, got %d: %w", Size, len(s), apperr.ErrInvalidInput)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("fingerprint: invalid character %q: %w", c, apperr.ErrInvalidInput)
		}
	}
	return Fingerprint(s), nil
}
