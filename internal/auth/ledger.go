// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// IssuedCode is the result of issuing a code. Code is the plaintext that is
// delivered to the user and is never stored.
type IssuedCode struct {
	Record *OneTimeCode
	Code   string
}

// CodeLedger issues and consumes one-time codes, keeping at most one live
// code per (email, purpose). Writes for the same key are serialized in
// process; cross-process atomicity comes from the CodeRepository.
type CodeLedger struct {
	repo     CodeRepository
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
	locks    KeyedMutex
}

// LedgerOption configures a CodeLedger.
type LedgerOption func(*CodeLedger)

// WithLedgerClock overrides the ledger's time source.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *CodeLedger) { l.now = now }
}

// WithCodeGenerator overrides how plaintext codes are produced.
func WithCodeGenerator(generate func() (string, error)) LedgerOption {
	return func(l *CodeLedger) { l.generate = generate }
}

// NewCodeLedger creates a CodeLedger. ttl must be positive.
func NewCodeLedger(repo CodeRepository, ttl time.Duration, opts ...LedgerOption) (*CodeLedger, error) {
	if repo == nil {
		return nil, oops.Code("LEDGER_INVALID_CONFIG").Errorf("code repository is required")
	}
	if ttl <= 0 {
		return nil, oops.Code("LEDGER_INVALID_CONFIG").With("ttl", ttl).Errorf("code ttl must be positive")
	}
	l := &CodeLedger{
		repo:     repo,
		ttl:      ttl,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TTL returns the lifetime given to issued codes.
func (l *CodeLedger) TTL() time.Duration {
	return l.ttl
}

func ledgerKey(email string, purpose Purpose) string {
	return email + "|" + string(purpose)
}

func (l *CodeLedger) newCode(email string, purpose Purpose, payload string) (*IssuedCode, error) {
	if email == "" {
		return nil, oops.Code("CODE_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if !purpose.Valid() {
		return nil, oops.Code("CODE_INVALID_PURPOSE").With("purpose", purpose).Errorf("unknown code purpose")
	}
	plain, err := l.generate()
	if err != nil {
		return nil, err
	}
	issuedAt := l.now()
	return &IssuedCode{
		Code: plain,
		Record: &OneTimeCode{
			ID:        ulid.Make(),
			Email:     email,
			Purpose:   purpose,
			CodeHash:  HashCode(plain),
			Payload:   payload,
			IssuedAt:  issuedAt,
			ExpiresAt: issuedAt.Add(l.ttl),
		},
	}, nil
}

// Issue creates a fresh code for email and purpose, replacing any live one.
func (l *CodeLedger) Issue(ctx context.Context, email string, purpose Purpose, payload string) (*IssuedCode, error) {
	issued, err := l.newCode(email, purpose, payload)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(ledgerKey(email, purpose))
	defer unlock()

	if err := l.repo.Put(ctx, issued.Record); err != nil {
		return nil, oops.Code("CODE_ISSUE_FAILED").
			With("purpose", purpose).
			Wrap(err)
	}
	return issued, nil
}

// IssueExclusive creates a code only when no live code exists for email and
// purpose. Returns ErrCodeOutstanding otherwise. An expired record is replaced.
func (l *CodeLedger) IssueExclusive(ctx context.Context, email string, purpose Purpose, payload string) (*IssuedCode, error) {
	issued, err := l.newCode(email, purpose, payload)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(ledgerKey(email, purpose))
	defer unlock()

	if err := l.repo.Create(ctx, issued.Record, issued.Record.IssuedAt); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, oops.Code("CODE_OUTSTANDING").
				With("purpose", purpose).
				Wrap(ErrCodeOutstanding)
		}
		return nil, oops.Code("CODE_ISSUE_FAILED").
			With("purpose", purpose).
			Wrap(err)
	}
	return issued, nil
}

// Validate consumes the live code for email and purpose if submitted matches.
//
// An expired code is deleted and reported as ErrCodeExpired. A wrong code
// leaves the record live and reports ErrCodeMismatch. On success the record
// is deleted by ID, so of two concurrent validators only one succeeds; the
// other gets ErrCodeNotFound.
func (l *CodeLedger) Validate(ctx context.Context, email string, purpose Purpose, submitted string) (*OneTimeCode, error) {
	unlock := l.locks.Lock(ledgerKey(email, purpose))
	defer unlock()

	rec, err := l.repo.Get(ctx, email, purpose)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code("CODE_NOT_FOUND").With("purpose", purpose).Wrap(ErrCodeNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_LOOKUP_FAILED").With("purpose", purpose).Wrap(err)
	}

	if rec.IsExpiredAt(l.now()) {
		if delErr := l.repo.DeleteIfMatch(ctx, email, purpose, rec.ID); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			return nil, oops.Code("CODE_DELETE_FAILED").With("purpose", purpose).Wrap(delErr)
		}
		return nil, oops.Code("CODE_EXPIRED").
			With("purpose", purpose).
			With("expired_at", rec.ExpiresAt).
			Wrap(ErrCodeExpired)
	}

	if !MatchCode(submitted, rec.CodeHash) {
		return nil, oops.Code("CODE_MISMATCH").With("purpose", purpose).Wrap(ErrCodeMismatch)
	}

	if err := l.repo.DeleteIfMatch(ctx, email, purpose, rec.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("CODE_NOT_FOUND").
				With("purpose", purpose).
				With("reason", "consumed concurrently").
				Wrap(ErrCodeNotFound)
		}
		return nil, oops.Code("CODE_DELETE_FAILED").With("purpose", purpose).Wrap(err)
	}
	return rec, nil
}

// Revoke removes the code with the given id. A newer code for the same key
// is left in place, and a missing code is not an error.
func (l *CodeLedger) Revoke(ctx context.Context, email string, purpose Purpose, id ulid.ULID) error {
	unlock := l.locks.Lock(ledgerKey(email, purpose))
	defer unlock()

	err := l.repo.DeleteIfMatch(ctx, email, purpose, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("CODE_REVOKE_FAILED").
			With("purpose", purpose).
			With("code_id", id.String()).
			Wrap(err)
	}
	return nil
}

// Restore puts back a consumed code whose follow-up work failed. If another
// live code was issued in the meantime the newer one wins.
func (l *CodeLedger) Restore(ctx context.Context, code *OneTimeCode) error {
	if code == nil {
		return nil
	}
	unlock := l.locks.Lock(ledgerKey(code.Email, code.Purpose))
	defer unlock()

	err := l.repo.Create(ctx, code, l.now())
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return oops.Code("CODE_RESTORE_FAILED").
			With("purpose", code.Purpose).
			With("code_id", code.ID.String()).
			Wrap(err)
	}
	return nil
}

// Current returns the live code record for email and purpose.
// Returns ErrCodeNotFound when there is none or it has expired.
func (l *CodeLedger) Current(ctx context.Context, email string, purpose Purpose) (*OneTimeCode, error) {
	rec, err := l.repo.Get(ctx, email, purpose)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code("CODE_NOT_FOUND").With("purpose", purpose).Wrap(ErrCodeNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_LOOKUP_FAILED").With("purpose", purpose).Wrap(err)
	}
	if rec.IsExpiredAt(l.now()) {
		return nil, oops.Code("CODE_NOT_FOUND").With("purpose", purpose).Wrap(ErrCodeNotFound)
	}
	return rec, nil
}

// PurgeExpired deletes every expired record and returns how many were removed.
func (l *CodeLedger) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, oops.Code("CODE_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}
