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

// CodeRepository implements auth.CodeRepository using PostgreSQL.
// The (email, purpose) unique constraint keeps one record per key.
type CodeRepository struct {
	db DB
}

// NewCodeRepository creates a new CodeRepository.
func NewCodeRepository(db DB) *CodeRepository {
	return &CodeRepository{db: db}
}

const upsertCode = `
	INSERT INTO one_time_codes (id, email, purpose, code_hash, payload, issued_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (email, purpose) DO UPDATE SET
		id = EXCLUDED.id,
		code_hash = EXCLUDED.code_hash,
		payload = EXCLUDED.payload,
		issued_at = EXCLUDED.issued_at,
		expires_at = EXCLUDED.expires_at`

func codeArgs(code *auth.OneTimeCode) []any {
	return []any{
		code.ID.String(),
		code.Email,
		string(code.Purpose),
		code.CodeHash,
		code.Payload,
		code.IssuedAt,
		code.ExpiresAt,
	}
}

// Put stores code, replacing any record for the same email and purpose.
func (r *CodeRepository) Put(ctx context.Context, code *auth.OneTimeCode) error {
	if _, err := r.db.Exec(ctx, upsertCode, codeArgs(code)...); err != nil {
		return oops.Code("CODE_PUT_FAILED").
			With("operation", "upsert code").
			With("purpose", code.Purpose).
			Wrap(err)
	}
	return nil
}

// Create stores code unless a record still live at now exists. The
// conditional upsert makes the check and write one statement.
func (r *CodeRepository) Create(ctx context.Context, code *auth.OneTimeCode, now time.Time) error {
	tag, err := r.db.Exec(ctx, upsertCode+`
	WHERE one_time_codes.expires_at < $8`, append(codeArgs(code), now)...)
	if err != nil {
		return oops.Code("CODE_CREATE_FAILED").
			With("operation", "insert code").
			With("purpose", code.Purpose).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CODE_EXISTS").
			With("purpose", code.Purpose).
			Wrap(auth.ErrAlreadyExists)
	}
	return nil
}

// Get returns the record for email and purpose.
func (r *CodeRepository) Get(ctx context.Context, email string, purpose auth.Purpose) (*auth.OneTimeCode, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, email, purpose, code_hash, payload, issued_at, expires_at
		FROM one_time_codes
		WHERE email = $1 AND purpose = $2
	`, email, string(purpose))

	var (
		code          auth.OneTimeCode
		id, purposeDB string
	)
	err := row.Scan(&id, &code.Email, &purposeDB, &code.CodeHash, &code.Payload, &code.IssuedAt, &code.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CODE_RECORD_NOT_FOUND").
			With("purpose", purpose).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").
			With("operation", "select code").
			With("purpose", purpose).
			Wrap(err)
	}

	code.ID, err = ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("CODE_INVALID_ID").With("id", id).Wrap(err)
	}
	code.Purpose = auth.Purpose(purposeDB)
	return &code, nil
}

// DeleteIfMatch removes the record only if its ID is id. Concurrent
// consumers race on this statement and exactly one sees a deleted row.
func (r *CodeRepository) DeleteIfMatch(ctx context.Context, email string, purpose auth.Purpose, id ulid.ULID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM one_time_codes
		WHERE email = $1 AND purpose = $2 AND id = $3
	`, email, string(purpose), id.String())
	if err != nil {
		return oops.Code("CODE_DELETE_FAILED").
			With("operation", "delete code").
			With("purpose", purpose).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("CODE_RECORD_NOT_FOUND").
			With("purpose", purpose).
			With("code_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes every record that expired before now.
func (r *CodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, oops.Code("CODE_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired codes").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.CodeRepository = (*CodeRepository)(nil)
