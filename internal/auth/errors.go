// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an entity with the same key is already stored.
var ErrAlreadyExists = errors.New("already exists")

// Failure kinds. Every error returned by Lifecycle wraps exactly one of these,
// so the transport layer can pick a status with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrAuth       = errors.New("authentication failed")
	ErrCode       = errors.New("one-time code rejected")
	ErrDependency = errors.New("dependency failed")
	ErrToken      = errors.New("session token rejected")
)

// Kind is the caller-facing failure class of an error.
type Kind int

// Failure classes, in the order KindOf checks them.
const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindCode
	KindToken
	KindDependency
)

// String returns the lower-case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindCode:
		return "code"
	case KindToken:
		return "token"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Errors outside the taxonomy report KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrCode):
		return KindCode
	case errors.Is(err, ErrToken):
		return KindToken
	case errors.Is(err, ErrDependency):
		return KindDependency
	default:
		return KindUnknown
	}
}

// Generic caller-facing messages, used when an error carries no public message.
const (
	msgInternal     = "Internal server error"
	msgInvalidCode  = "Invalid or expired code"
	msgTokenMissing = "Authorization token required"
	msgTokenInvalid = "Invalid or expired token"
)

// PublicMessage returns the message that may be shown to the caller for err.
// It prefers the oops public message and otherwise falls back to a generic
// message for the error's kind, so internal details never leak.
func PublicMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if msg := oopsErr.Public(); msg != "" {
			return msg
		}
	}
	switch KindOf(err) {
	case KindValidation:
		return "Invalid request"
	case KindConflict:
		return "Conflict"
	case KindAuth:
		return msgInvalidCredentials
	case KindCode:
		return msgInvalidCode
	case KindToken:
		if errors.Is(err, ErrTokenMissing) {
			return msgTokenMissing
		}
		return msgTokenInvalid
	default:
		return msgInternal
	}
}

// tagged joins a kind sentinel with the underlying cause so that both match errors.Is.
func tagged(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
