package ledger

import (
	"context"

	"github.com/starford/tracemark/internal/models"
)

// IdentityStore is the recipient directory.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, name, email, phone string) (int64, error)
	FindByEmail(ctx context.Context, email string) (int64, bool, error)
	GetIdentity(ctx context.Context, id int64) (*models.Identity, error)
}

// Ledger records issued artifacts and resolves fingerprints back to them.
// Consumers should depend on this interface rather than *DB.
type Ledger interface {
	Record(ctx context.Context, e models.LedgerEntry) (int64, error)
	Lookup(ctx context.Context, fingerprint string) (*models.LedgerEntry, bool, error)
	ListByIdentity(ctx context.Context, identityID int64) ([]models.LedgerEntry, error)
	Count(ctx context.Context) (int, error)
}

var (
	_ IdentityStore = (*DB)(nil)
	_ Ledger        = (*DB)(nil)
)
