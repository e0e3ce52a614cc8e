// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is a registered identity. Email is the unique key and is compared
// exactly as received; no case folding or other normalization is applied.
type Account struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount creates a validated Account with a fresh ID.
func NewAccount(email, passwordHash string, verified bool) (*Account, error) {
	if email == "" {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now()
	return &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		Verified:     verified,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// CredentialStore persists accounts keyed by email.
//
// Create must be an atomic check-and-insert: when two registrations race on
// the same email exactly one succeeds and the other gets ErrAlreadyExists.
type CredentialStore interface {
	// Create stores a new account. Returns ErrAlreadyExists if the email is taken.
	Create(ctx context.Context, account *Account) error

	// Find retrieves an account by email. Returns ErrNotFound if absent.
	Find(ctx context.Context, email string) (*Account, error)

	// SetVerified marks the account as verified and returns the updated record.
	SetVerified(ctx context.Context, email string) (*Account, error)

	// SetPassword replaces the stored password hash and returns the updated record.
	SetPassword(ctx context.Context, email, passwordHash string) (*Account, error)
}
