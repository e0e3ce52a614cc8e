// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

// Package redisstore implements auth.CodeRepository on Redis.
//
// Each (email, purpose) pair is one key holding a JSON record. Keys outlive
// the code's expiry by a retention window so an expired code can still be
// reported as expired rather than missing; Redis evicts it afterwards.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/fusionai/accountd/internal/auth"
)

// Defaults.
const (
	DefaultPrefix    = "accountd:code"
	DefaultRetention = time.Hour
)

// maxRetries bounds optimistic transaction retries under contention.
const maxRetries = 4

// errRetriesExhausted is returned when a watched key keeps changing.
var errRetriesExhausted = errors.New("redis transaction retries exhausted")

type record struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Purpose   string    `json:"purpose"`
	CodeHash  string    `json:"code_hash"`
	Payload   string    `json:"payload,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeRepository implements auth.CodeRepository on Redis.
type CodeRepository struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// Option configures a CodeRepository.
type Option func(*CodeRepository)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *CodeRepository) { r.prefix = prefix }
}

// WithRetention sets how long a record is kept past its expiry.
func WithRetention(d time.Duration) Option {
	return func(r *CodeRepository) { r.retention = d }
}

// NewCodeRepository creates a CodeRepository.
func NewCodeRepository(client redis.UniversalClient, opts ...Option) *CodeRepository {
	r := &CodeRepository{
		client:    client,
		prefix:    DefaultPrefix,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *CodeRepository) key(email string, purpose auth.Purpose) string {
	return r.prefix + ":" + string(purpose) + ":" + email
}

func encode(code *auth.OneTimeCode) ([]byte, error) {
	return json.Marshal(record{
		ID:        code.ID.String(),
		Email:     code.Email,
		Purpose:   string(code.Purpose),
		CodeHash:  code.CodeHash,
		Payload:   code.Payload,
		IssuedAt:  code.IssuedAt,
		ExpiresAt: code.ExpiresAt,
	})
}

func decode(data []byte) (*auth.OneTimeCode, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.Code("CODE_DECODE_FAILED").Wrap(err)
	}
	id, err := ulid.Parse(rec.ID)
	if err != nil {
		return nil, oops.Code("CODE_INVALID_ID").With("id", rec.ID).Wrap(err)
	}
	return &auth.OneTimeCode{
		ID:        id,
		Email:     rec.Email,
		Purpose:   auth.Purpose(rec.Purpose),
		CodeHash:  rec.CodeHash,
		Payload:   rec.Payload,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// ttl keeps the key for the rest of the code's life plus the retention window.
func (r *CodeRepository) ttl(code *auth.OneTimeCode, from time.Time) time.Duration {
	remaining := code.ExpiresAt.Sub(from)
	if remaining < 0 {
		remaining = 0
	}
	return remaining + r.retention
}

// Put stores code, replacing any record for the same email and purpose.
func (r *CodeRepository) Put(ctx context.Context, code *auth.OneTimeCode) error {
	data, err := encode(code)
	if err != nil {
		return oops.Code("CODE_ENCODE_FAILED").Wrap(err)
	}
	if err := r.client.Set(ctx, r.key(code.Email, code.Purpose), data, r.ttl(code, code.IssuedAt)).Err(); err != nil {
		return oops.Code("CODE_PUT_FAILED").
			With("operation", "set code").
			With("purpose", code.Purpose).
			Wrap(err)
	}
	return nil
}

// Create stores code unless a record live at now exists. The check and the
// write run in one WATCH/MULTI transaction.
func (r *CodeRepository) Create(ctx context.Context, code *auth.OneTimeCode, now time.Time) error {
	data, err := encode(code)
	if err != nil {
		return oops.Code("CODE_ENCODE_FAILED").Wrap(err)
	}
	key := r.key(code.Email, code.Purpose)

	err = r.withRetries(ctx, key, func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			current, decErr := decode(existing)
			if decErr == nil && !current.IsExpiredAt(now) {
				return auth.ErrAlreadyExists
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl(code, now))
			return nil
		})
		return err
	})
	if errors.Is(err, auth.ErrAlreadyExists) {
		return oops.Code("CODE_EXISTS").With("purpose", code.Purpose).Wrap(err)
	}
	if err != nil {
		return oops.Code("CODE_CREATE_FAILED").
			With("operation", "create code").
			With("purpose", code.Purpose).
			Wrap(err)
	}
	return nil
}

// Get returns the record for email and purpose.
func (r *CodeRepository) Get(ctx context.Context, email string, purpose auth.Purpose) (*auth.OneTimeCode, error) {
	data, err := r.client.Get(ctx, r.key(email, purpose)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("CODE_RECORD_NOT_FOUND").With("purpose", purpose).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CODE_GET_FAILED").
			With("operation", "get code").
			With("purpose", purpose).
			Wrap(err)
	}
	return decode(data)
}

// DeleteIfMatch removes the record only if its ID is id. Concurrent
// consumers race on the watched key and exactly one delete commits.
func (r *CodeRepository) DeleteIfMatch(ctx context.Context, email string, purpose auth.Purpose, id ulid.ULID) error {
	key := r.key(email, purpose)

	err := r.withRetries(ctx, key, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return auth.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(data)
		if err != nil {
			return err
		}
		if current.ID != id {
			return auth.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
	if errors.Is(err, auth.ErrNotFound) {
		return oops.Code("CODE_RECORD_NOT_FOUND").
			With("purpose", purpose).
			With("code_id", id.String()).
			Wrap(err)
	}
	if err != nil {
		return oops.Code("CODE_DELETE_FAILED").
			With("operation", "delete code").
			With("purpose", purpose).
			Wrap(err)
	}
	return nil
}

// DeleteExpired scans the prefix and removes records that expired before now.
// Redis evicts keys on its own after the retention window; this only
// shortens that window.
func (r *CodeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, oops.Code("CODE_DELETE_EXPIRED_FAILED").Wrap(err)
		}
		code, err := decode(data)
		if err != nil || !code.IsExpiredAt(now) {
			continue
		}
		err = r.DeleteIfMatch(ctx, code.Email, code.Purpose, code.ID)
		if errors.Is(err, auth.ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("CODE_DELETE_EXPIRED_FAILED").With("operation", "scan codes").Wrap(err)
	}
	return removed, nil
}

func (r *CodeRepository) withRetries(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for range maxRetries {
		err := r.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errRetriesExhausted
}

var _ auth.CodeRepository = (*CodeRepository)(nil)
