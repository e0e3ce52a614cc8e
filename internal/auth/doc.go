// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

// Package auth implements the account credential lifecycle.
//
// # Components
//
//   - CredentialStore - persists accounts keyed by email
//   - CodeLedger - issues and consumes six-digit one-time codes over a CodeRepository
//   - PasswordHasher - BcryptHasher (default) and Argon2idHasher
//   - SessionIssuer - signs and validates HS256 session tokens
//   - Lifecycle - register, verify, login, forgot and reset password
//
// Only Lifecycle is meant to be called by transports. It holds a per-email
// lock around every read-modify-write of account state and sends email only
// after that lock is released.
//
// # Errors
//
// Every error returned by Lifecycle wraps one of ErrValidation, ErrConflict,
// ErrAuth, ErrCode, ErrToken or ErrDependency. Use KindOf to classify an
// error and PublicMessage for the text that may be shown to a caller.
package auth
