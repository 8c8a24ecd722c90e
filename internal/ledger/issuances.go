package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/fingerprint"
	"github.com/starford/tracemark/internal/models"
)

// Record appends a ledger entry and returns its row id. Entries are never
// updated. Inserting a second entry for an existing fingerprint is allowed;
// Lookup then resolves to the earliest one.
func (db *DB) Record(ctx context.Context, e models.LedgerEntry) (int64, error) {
	if _, err := fingerprint.Parse(e.Fingerprint); err != nil {
		return 0, fmt.Errorf("ledger: record: %w", err)
	}
	if e.ArtifactRef == "" || e.Token == "" {
		return 0, fmt.Errorf("ledger: record: artifact ref and token are required: %w", apperr.ErrInvalidInput)
	}
	perturbation, err := EncodeRecord(e.Perturbation)
	if err != nil {
		return 0, err
	}
	issuedAt := e.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO issuances (identity_id, artifact_ref, marker_token, fingerprint, perturbation, connected_name, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.IdentityID, e.ArtifactRef, string(e.Token), e.Fingerprint, perturbation, e.ConnectedName, issuedAt)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return 0, fmt.Errorf("ledger: record: identity %d: %w", e.IdentityID, apperr.ErrNotFound)
		}
		return 0, fmt.Errorf("ledger: insert issuance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}
	return id, nil
}

const issuanceColumns = `id, identity_id, artifact_ref, marker_token, fingerprint, perturbation, connected_name, issued_at`

// Lookup returns the entry recorded for fingerprint. A miss is reported as
// found == false with a nil error.
func (db *DB) Lookup(ctx context.Context, fp string) (*models.LedgerEntry, bool, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+issuanceColumns+` FROM issuances WHERE fingerprint = ? ORDER BY id LIMIT 1`, fp)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// ListByIdentity returns every entry issued to identityID, oldest first.
func (db *DB) ListByIdentity(ctx context.Context, identityID int64) ([]models.LedgerEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+issuanceColumns+` FROM issuances WHERE identity_id = ? ORDER BY id`, identityID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list issuances: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded issuances.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM issuances`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*models.LedgerEntry, error) {
	var (
		e            models.LedgerEntry
		token        string
		perturbation string
	)
	err := r.Scan(&e.ID, &e.IdentityID, &e.ArtifactRef, &token, &e.Fingerprint, &perturbation, &e.ConnectedName, &e.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ledger: scan issuance: %w", err)
	}
	e.Token = models.MarkerToken(token)
	rec, err := DecodeRecord(perturbation)
	if err != nil {
		return nil, fmt.Errorf("ledger: issuance %d: %w", e.ID, err)
	}
	e.Perturbation = rec
	return &e, nil
}
