// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultCodeTTL is how long an issued one-time code stays valid.
const DefaultCodeTTL = 10 * time.Minute

// codeSpace is the number of distinct six-digit codes.
const codeSpace = 1_000_000

// Purpose scopes a one-time code. A code issued for one purpose never
// validates for another.
type Purpose string

// Code purposes.
const (
	PurposeVerification  Purpose = "verification"
	PurposePasswordReset Purpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeVerification || p == PurposePasswordReset
}

func (p Purpose) String() string { return string(p) }

// Code ledger failures. Each wraps ErrCode.
var (
	ErrCodeNotFound = fmt.Errorf("%w: no live code", ErrCode)
	ErrCodeExpired  = fmt.Errorf("%w: code expired", ErrCode)
	ErrCodeMismatch = fmt.Errorf("%w: code mismatch", ErrCode)
)

// ErrCodeOutstanding is returned by IssueExclusive while a live code exists.
var ErrCodeOutstanding = errors.New("a live code is already outstanding")

// OneTimeCode is a stored code record. Only the sha256 digest of the code is kept.
type OneTimeCode struct {
	ID       ulid.ULID
	Email    string
	Purpose  Purpose
	CodeHash string
	// Payload is opaque to the ledger. Verified registration stores the
	// pending password hash here.
	Payload   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsExpiredAt reports whether the code has expired at t.
// A code is still valid at exactly ExpiresAt.
func (c *OneTimeCode) IsExpiredAt(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// Clone returns a copy of the record.
func (c *OneTimeCode) Clone() *OneTimeCode {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// GenerateCode returns a uniformly random six-digit decimal code.
// Leading zeros are kept, so every value in 000000..999999 is possible.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", oops.Code("CODE_GENERATE_FAILED").Wrap(err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashCode computes the hex sha256 digest of a code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// MatchCode checks a submitted code against a stored digest in constant time.
func MatchCode(submitted, hash string) bool {
	if submitted == "" || hash == "" {
		return false
	}
	computed := HashCode(submitted)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// CodeRepository persists one-time codes, at most one per (email, purpose).
type CodeRepository interface {
	// Put stores the code, replacing any existing record for the same email and purpose.
	Put(ctx context.Context, code *OneTimeCode) error

	// Create stores the code unless a record that is still live at now exists.
	// Returns ErrAlreadyExists in that case. An expired record is replaced.
	Create(ctx context.Context, code *OneTimeCode, now time.Time) error

	// Get returns the record for email and purpose, expired or not.
	// Returns ErrNotFound if absent.
	Get(ctx context.Context, email string, purpose Purpose) (*OneTimeCode, error)

	// DeleteIfMatch removes the record only if its ID equals id.
	// Returns ErrNotFound when nothing was removed.
	DeleteIfMatch(ctx context.Context, email string, purpose Purpose, id ulid.ULID) error

	// DeleteExpired removes every record that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
