// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/fusionai/accountd/internal/auth"
)

type codeKey struct {
	email   string
	purpose auth.Purpose
}

// CodeStore is an in-memory auth.CodeRepository.
type CodeStore struct {
	mu    sync.Mutex
	codes map[codeKey]auth.OneTimeCode
}

// NewCodeStore creates an empty CodeStore.
func NewCodeStore() *CodeStore {
	return &CodeStore{codes: make(map[codeKey]auth.OneTimeCode)}
}

// Put stores code, replacing any record for the same email and purpose.
func (s *CodeStore) Put(_ context.Context, code *auth.OneTimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[codeKey{code.Email, code.Purpose}] = *code
	return nil
}

// Create stores code unless a record live at now exists.
func (s *CodeStore) Create(_ context.Context, code *auth.OneTimeCode, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey{code.Email, code.Purpose}
	if existing, ok := s.codes[key]; ok && !existing.IsExpiredAt(now) {
		return oops.Code("CODE_EXISTS").With("purpose", code.Purpose).Wrap(auth.ErrAlreadyExists)
	}
	s.codes[key] = *code
	return nil
}

// Get returns a copy of the record for email and purpose.
func (s *CodeStore) Get(_ context.Context, email string, purpose auth.Purpose) (*auth.OneTimeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[codeKey{email, purpose}]
	if !ok {
		return nil, oops.Code("CODE_RECORD_NOT_FOUND").With("purpose", purpose).Wrap(auth.ErrNotFound)
	}
	return &c, nil
}

// DeleteIfMatch removes the record only when its ID is id.
func (s *CodeStore) DeleteIfMatch(_ context.Context, email string, purpose auth.Purpose, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey{email, purpose}
	c, ok := s.codes[key]
	if !ok || c.ID != id {
		return oops.Code("CODE_RECORD_NOT_FOUND").With("purpose", purpose).Wrap(auth.ErrNotFound)
	}
	delete(s.codes, key)
	return nil
}

// DeleteExpired removes every record expired at now.
func (s *CodeStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, c := range s.codes {
		if c.IsExpiredAt(now) {
			delete(s.codes, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, live or expired.
func (s *CodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

var _ auth.CodeRepository = (*CodeStore)(nil)
