// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fusionai/accountd/internal/auth"
)

// AccountRepository implements auth.CredentialStore using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account. The unique constraint on email resolves
// concurrent duplicates.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, email, password_hash, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.ID.String(),
		account.Email,
		account.PasswordHash,
		account.Verified,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_EXISTS").
			With("email", account.Email).
			Wrap(auth.ErrAlreadyExists)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("email", account.Email).
			Wrap(err)
	}
	return nil
}

// Find retrieves an account by email.
func (r *AccountRepository) Find(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, password_hash, verified, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_FIND_FAILED").
			With("operation", "select account").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

// SetVerified marks the account as verified.
func (r *AccountRepository) SetVerified(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE accounts SET verified = TRUE, updated_at = $2
		WHERE email = $1
		RETURNING id, email, password_hash, verified, created_at, updated_at
	`, email, time.Now().UTC())
	return r.updated(row, email, "ACCOUNT_SET_VERIFIED_FAILED")
}

// SetPassword replaces the account's password hash.
func (r *AccountRepository) SetPassword(ctx context.Context, email, passwordHash string) (*auth.Account, error) {
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	row := r.db.QueryRow(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE email = $1
		RETURNING id, email, password_hash, verified, created_at, updated_at
	`, email, passwordHash, time.Now().UTC())
	return r.updated(row, email, "ACCOUNT_SET_PASSWORD_FAILED")
}

func (r *AccountRepository) updated(row pgx.Row, email, code string) (*auth.Account, error) {
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("email", email).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code(code).
			With("operation", "update account").
			With("email", email).
			Wrap(err)
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account auth.Account
		id      string
	)
	if err := row.Scan(&id, &account.Email, &account.PasswordHash, &account.Verified,
		&account.CreatedAt, &account.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", id).Wrap(err)
	}
	account.ID = parsed
	return &account, nil
}

var _ auth.CredentialStore = (*AccountRepository)(nil)
