// Package attribution resolves a suspect artifact to the recipient it was
// issued to, by fingerprint lookup in the issuance ledger.
package attribution

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/fingerprint"
	"github.com/starford/tracemark/internal/models"
)

// Lookuper is the slice of the ledger the scanner needs.
type Lookuper interface {
	Lookup(ctx context.Context, fingerprint string) (*models.LedgerEntry, bool, error)
}

// Result is the outcome of a scan. Found is false for artifacts that were
// never issued; that is a normal result, not an error.
type Result struct {
	Found         bool      `json:"found"`
	Fingerprint   string    `json:"fingerprint"`
	ConnectedName string    `json:"connected_name,omitempty"`
	IdentityID    int64     `json:"identity_id,omitempty"`
	ArtifactRef   string    `json:"artifact_ref,omitempty"`
	IssuedAt      time.Time `json:"issued_at,omitzero"`
}

// Scanner performs attribution lookups.
type Scanner struct {
	ledger Lookuper
}

// NewScanner returns a Scanner backed by ledger.
func NewScanner(ledger Lookuper) *Scanner {
	return &Scanner{ledger: ledger}
}

// Scan fingerprints data and looks it up.
func (s *Scanner) Scan(ctx context.Context, data []byte) (Result, error) {
	fp := fingerprint.Of(data)
	entry, ok, err := s.ledger.Lookup(ctx, fp.String())
	if err != nil {
		return Result{}, fmt.Errorf("attribution: lookup %s: %w", fp, err)
	}
	if !ok {
		return Result{Fingerprint: fp.String()}, nil
	}
	return Result{
		Found:         true,
		Fingerprint:   fp.String(),
		ConnectedName: entry.ConnectedName,
		IdentityID:    entry.IdentityID,
		ArtifactRef:   entry.ArtifactRef,
		IssuedAt:      entry.IssuedAt,
	}, nil
}

// ScanFile reads the file at path and scans it. A file that cannot be read
// fails with apperr.ErrIO, distinct from a not-found result.
func (s *Scanner) ScanFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("attribution: read %s: %w: %w", path, apperr.ErrIO, err)
	}
	return s.Scan(ctx, data)
}
