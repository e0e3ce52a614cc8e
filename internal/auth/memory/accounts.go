// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

// Package memory provides in-process implementations of the auth stores.
// State is lost on restart; use them for tests and single-node development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/fusionai/accountd/internal/auth"
)

// AccountStore is an in-memory auth.CredentialStore.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]auth.Account
	now      func() time.Time
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]auth.Account),
		now:      time.Now,
	}
}

// Create stores a copy of account. The existence check and insert happen
// under one lock, so concurrent duplicates get exactly one winner.
func (s *AccountStore) Create(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Email]; ok {
		return oops.Code("ACCOUNT_EXISTS").With("email", account.Email).Wrap(auth.ErrAlreadyExists)
	}
	s.accounts[account.Email] = *account
	return nil
}

// Find returns a copy of the account for email.
func (s *AccountStore) Find(_ context.Context, email string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	return &a, nil
}

// SetVerified marks the account verified.
func (s *AccountStore) SetVerified(_ context.Context, email string) (*auth.Account, error) {
	return s.update(email, func(a *auth.Account) { a.Verified = true })
}

// SetPassword replaces the password hash.
func (s *AccountStore) SetPassword(_ context.Context, email, passwordHash string) (*auth.Account, error) {
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return s.update(email, func(a *auth.Account) { a.PasswordHash = passwordHash })
}

func (s *AccountStore) update(email string, mutate func(*auth.Account)) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	mutate(&a)
	a.UpdatedAt = s.now()
	s.accounts[email] = a
	return &a, nil
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

var _ auth.CredentialStore = (*AccountStore)(nil)
