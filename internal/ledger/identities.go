package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/models"
)

type identityInput struct {
	Name  string
	Email string
	Phone string
}

func (in identityInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Phone, validation.Length(0, 40)),
	)
}

// CreateIdentity registers a recipient and returns its id. Emails are
// unique; a second registration with the same email fails with
// apperr.ErrAlreadyExists.
func (db *DB) CreateIdentity(ctx context.Context, name, email, phone string) (int64, error) {
	in := identityInput{
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
		Phone: strings.TrimSpace(phone),
	}
	if err := in.Validate(); err != nil {
		return 0, fmt.Errorf("ledger: identity: %w: %w", apperr.ErrInvalidInput, err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO identities (name, email, phone) VALUES (?, ?, ?)`,
		in.Name, in.Email, in.Phone)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("ledger: identity %s: %w", in.Email, apperr.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("ledger: insert identity: %w", err)
	}
	return res.LastInsertId()
}

// FindByEmail returns the id registered for email, if any.
func (db *DB) FindByEmail(ctx context.Context, email string) (int64, bool, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM identities WHERE email = ?`, strings.TrimSpace(email)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ledger: find identity: %w", err)
	}
	return id, true, nil
}

// GetIdentity loads an identity by id.
func (db *DB) GetIdentity(ctx context.Context, id int64) (*models.Identity, error) {
	var ident models.Identity
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email, phone, created_at FROM identities WHERE id = ?`, id).
		Scan(&ident.ID, &ident.Name, &ident.Email, &ident.Phone, &ident.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: identity %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get identity: %w", err)
	}
	return &ident, nil
}
