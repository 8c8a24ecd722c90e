// Package testutil provides shared test helpers for ledgers, artifact
// stores and fixture images.
package testutil

import (
	"image/color"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/ledger"
	"github.com/starford/tracemark/internal/storage"
)

// TestDB creates a temporary SQLite ledger that is automatically cleaned up.
func TestDB(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "tracemark-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary artifact directory with a storage.Provider.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// SolidPNG returns the PNG encoding of a w×h image filled with c.
func SolidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	data, err := imaging.Encode(imaging.Solid(w, h, c))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// Rand returns a deterministic random source.
func Rand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, ^seed))
}
