// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/fusionai/accountd/pkg/errutil"
)

// DefaultMailTimeout bounds a single email delivery.
const DefaultMailTimeout = 10 * time.Second

// Caller-facing messages.
const (
	msgMissingCredentials     = "Email and password required"
	msgUserExists             = "User already exists"
	msgAccountCreated         = "Account created successfully"
	msgVerificationSent       = "Verification code sent to your email"
	msgVerificationSendFailed = "Failed to send verification email"
	msgMissingVerifyFields    = "Email and code required"
	msgEmailVerified          = "Email verified successfully"
	msgVerificationDisabled   = "Email verification is not enabled"
	msgAlreadyVerified        = "Email already verified"
	msgNoPendingVerification  = "No pending verification for that email"
	msgResendGeneric          = "If a pending verification exists for that email, a new code has been sent"
	msgInvalidCredentials     = "Invalid email or password"
	msgNotVerified            = "Please verify your email first"
	msgMissingEmail           = "Email required"
	msgUserNotFound           = "User not found"
	msgResetSent              = "Reset code sent to your email"
	msgResetSentGeneric       = "If an account exists for that email, a reset code has been sent"
	msgResetSendFailed        = "Failed to send reset email"
	msgMissingResetFields     = "Email, code, and new password required"
	msgPasswordReset          = "Password reset successfully"
	msgPasswordTooLong        = "Password is too long"
)

// Operation names used in logs and metrics.
const (
	OpRegister           = "register"
	OpVerify             = "verify"
	OpResendVerification = "resend_verification"
	OpLogin              = "login"
	OpForgotPassword     = "forgot_password"
	OpResetPassword      = "reset_password"
	OpAuthenticate       = "authenticate"
)

// Recorder receives lifecycle events for metrics.
type Recorder interface {
	RecordOperation(operation, outcome string)
	RecordCodeIssued(purpose Purpose)
	RecordEmailFailure(purpose Purpose)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, string) {}
func (nopRecorder) RecordCodeIssued(Purpose)       {}
func (nopRecorder) RecordEmailFailure(Purpose)     {}

// Result is the outcome of an operation that only reports a message.
type Result struct {
	Message string `json:"message"`
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Email     string    `json:"-"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LifecycleConfig holds the dependencies of a Lifecycle.
type LifecycleConfig struct {
	Accounts CredentialStore
	Codes    *CodeLedger
	Hasher   PasswordHasher
	Sessions *SessionIssuer
	Mailer   Mailer
	Policy   RegistrationPolicy

	// Optional.
	Logger   *slog.Logger
	Recorder Recorder

	// DiscloseUnknownEmail makes ForgotPassword and ResendVerification
	// report unknown emails instead of answering generically.
	DiscloseUnknownEmail bool
	MailTimeout          time.Duration
}

// Lifecycle drives accounts through registration, verification, login and
// password reset. It is the only entry point the transport layers use.
type Lifecycle struct {
	accounts CredentialStore
	codes    *CodeLedger
	hasher   PasswordHasher
	sessions *SessionIssuer
	mailer   Mailer
	policy   RegistrationPolicy
	logger   *slog.Logger
	recorder Recorder

	disclose    bool
	mailTimeout time.Duration
	locks       KeyedMutex

	// dummyHash is verified for unknown emails so both login failure paths
	// cost the same.
	dummyHash string
}

// NewLifecycle creates a Lifecycle, validating its dependencies.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	switch {
	case cfg.Accounts == nil:
		return nil, oops.Code("LIFECYCLE_INVALID_CONFIG").Errorf("credential store is required")
	case cfg.Codes == nil:
		return nil, oops.Code("LIFECYCLE_INVALID_CONFIG").Errorf("code ledger is required")
	case cfg.Hasher == nil:
		return nil, oops.Code("LIFECYCLE_INVALID_CONFIG").Errorf("password hasher is required")
	case cfg.Sessions == nil:
		return nil, oops.Code("LIFECYCLE_INVALID_CONFIG").Errorf("session issuer is required")
	case cfg.Mailer == nil:
		return nil, oops.Code("LIFECYCLE_INVALID_CONFIG").Errorf("mailer is required")
	case cfg.Policy == nil:
		return nil, oops.Code("LIFECYCLE_INVALID_CONFIG").Errorf("registration policy is required")
	}

	dummy, err := cfg.Hasher.Hash("accountd-timing-equalizer")
	if err != nil {
		return nil, oops.Code("LIFECYCLE_INIT_FAILED").With("operation", "hash dummy password").Wrap(err)
	}

	l := &Lifecycle{
		accounts:    cfg.Accounts,
		codes:       cfg.Codes,
		hasher:      cfg.Hasher,
		sessions:    cfg.Sessions,
		mailer:      cfg.Mailer,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
		recorder:    cfg.Recorder,
		disclose:    cfg.DiscloseUnknownEmail,
		mailTimeout: cfg.MailTimeout,
		dummyHash:   dummy,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.recorder == nil {
		l.recorder = nopRecorder{}
	}
	if l.mailTimeout <= 0 {
		l.mailTimeout = DefaultMailTimeout
	}
	return l, nil
}

// Policy returns the active registration policy.
func (l *Lifecycle) Policy() RegistrationPolicy {
	return l.policy
}

// observe records the outcome of op. Call it deferred with the named error result.
func (l *Lifecycle) observe(op string, errp *error) {
	err := *errp
	if err == nil {
		l.recorder.RecordOperation(op, "success")
		return
	}
	kind := KindOf(err)
	l.recorder.RecordOperation(op, kind.String())

	switch kind {
	case KindDependency, KindUnknown:
		errutil.LogError(l.logger, op+" failed", err)
	default:
		errutil.LogAt(l.logger, slog.LevelInfo, op+" rejected", err, "kind", kind.String())
	}
}

// dependencyError wraps an infrastructure failure with a generic public message.
func dependencyError(code, public string, cause error) error {
	if public == "" {
		public = msgInternal
	}
	return oops.Code(code).Public(public).Wrap(tagged(ErrDependency, cause))
}

// hashPassword maps hasher failures onto the taxonomy.
func (l *Lifecycle) hashPassword(code, password string) (string, error) {
	hash, err := l.hasher.Hash(password)
	if errors.Is(err, ErrPasswordTooLong) {
		return "", oops.Code(code).Public(msgPasswordTooLong).Wrap(tagged(ErrValidation, err))
	}
	if err != nil {
		return "", dependencyError(code, "", err)
	}
	return hash, nil
}

// deliver sends a code by email under the mail timeout. On failure the code
// is revoked, leaving any newer code in place.
func (l *Lifecycle) deliver(ctx context.Context, issued *IssuedCode) error {
	rec := issued.Record
	l.recorder.RecordCodeIssued(rec.Purpose)

	sendCtx, cancel := context.WithTimeout(ctx, l.mailTimeout)
	defer cancel()

	err := l.mailer.Send(sendCtx, codeMessage(rec.Purpose, rec.Email, issued.Code, l.codes.TTL()))
	if err == nil {
		return nil
	}
	l.recorder.RecordEmailFailure(rec.Purpose)

	if revokeErr := l.codes.Revoke(context.WithoutCancel(ctx), rec.Email, rec.Purpose, rec.ID); revokeErr != nil {
		errutil.LogError(l.logger, "revoke undelivered code failed", revokeErr)
	}
	return err
}

// Register creates an account according to the registration policy.
func (l *Lifecycle) Register(ctx context.Context, email, password string) (res *Result, err error) {
	defer l.observe(OpRegister, &err)

	if email == "" || password == "" {
		return nil, oops.Code("REGISTER_INVALID_INPUT").Public(msgMissingCredentials).Wrap(ErrValidation)
	}

	hash, err := l.hashPassword("REGISTER_HASH_FAILED", password)
	if err != nil {
		return nil, err
	}

	admission, err := l.admit(ctx, email, hash)
	if err != nil {
		return nil, err
	}

	if admission.Pending != nil {
		if sendErr := l.deliver(ctx, admission.Pending); sendErr != nil {
			return nil, dependencyError("REGISTER_SEND_FAILED", msgVerificationSendFailed, sendErr)
		}
	}
	return &Result{Message: admission.Message}, nil
}

func (l *Lifecycle) admit(ctx context.Context, email, hash string) (*Admission, error) {
	unlock := l.locks.Lock(email)
	defer unlock()

	_, err := l.accounts.Find(ctx, email)
	switch {
	case err == nil:
		return nil, oops.Code("REGISTER_DUPLICATE").Public(msgUserExists).Wrap(ErrConflict)
	case !errors.Is(err, ErrNotFound):
		return nil, dependencyError("REGISTER_LOOKUP_FAILED", "", err)
	}

	admission, err := l.policy.Admit(ctx, email, hash)
	if errors.Is(err, ErrAlreadyExists) {
		return nil, oops.Code("REGISTER_DUPLICATE").
			With("policy", l.policy.Name()).
			Public(msgUserExists).
			Wrap(tagged(ErrConflict, err))
	}
	if err != nil {
		return nil, dependencyError("REGISTER_FAILED", "", err)
	}
	return admission, nil
}

// Verify confirms an email with a verification code. A pending registration
// becomes an account; an existing unverified account is marked verified.
func (l *Lifecycle) Verify(ctx context.Context, email, code string) (res *Result, err error) {
	defer l.observe(OpVerify, &err)

	if !l.policy.RequiresVerification() {
		return nil, oops.Code("VERIFY_DISABLED").Public(msgVerificationDisabled).Wrap(ErrValidation)
	}
	if email == "" || code == "" {
		return nil, oops.Code("VERIFY_INVALID_INPUT").Public(msgMissingVerifyFields).Wrap(ErrValidation)
	}

	unlock := l.locks.Lock(email)
	defer unlock()

	rec, err := l.codes.Validate(ctx, email, PurposeVerification, code)
	if err != nil {
		return nil, l.codeFailure("VERIFY", err)
	}

	if rec.Payload != "" {
		account, newErr := NewAccount(email, rec.Payload, true)
		if newErr != nil {
			return nil, dependencyError("VERIFY_CREATE_FAILED", "", newErr)
		}
		if createErr := l.accounts.Create(ctx, account); createErr != nil {
			if errors.Is(createErr, ErrAlreadyExists) {
				return nil, oops.Code("VERIFY_DUPLICATE").Public(msgUserExists).Wrap(tagged(ErrConflict, createErr))
			}
			l.restore(ctx, rec)
			return nil, dependencyError("VERIFY_CREATE_FAILED", "", createErr)
		}
		return &Result{Message: msgEmailVerified}, nil
	}

	if _, setErr := l.accounts.SetVerified(ctx, email); setErr != nil {
		if errors.Is(setErr, ErrNotFound) {
			return nil, oops.Code("VERIFY_NO_ACCOUNT").Public(msgInvalidCode).Wrap(tagged(ErrCodeNotFound, setErr))
		}
		l.restore(ctx, rec)
		return nil, dependencyError("VERIFY_UPDATE_FAILED", "", setErr)
	}
	return &Result{Message: msgEmailVerified}, nil
}

// codeFailure maps a ledger failure to a caller-facing error. Every code
// rejection looks the same to the caller; the specific reason is in the
// wrapped error for logs.
func (l *Lifecycle) codeFailure(prefix string, err error) error {
	if errors.Is(err, ErrCode) {
		return oops.Code(prefix+"_INVALID_CODE").Public(msgInvalidCode).Wrap(err)
	}
	return dependencyError(prefix+"_CODE_FAILED", "", err)
}

func (l *Lifecycle) restore(ctx context.Context, rec *OneTimeCode) {
	if err := l.codes.Restore(context.WithoutCancel(ctx), rec); err != nil {
		errutil.LogError(l.logger, "restore consumed code failed", err)
	}
}

// ResendVerification issues and sends a fresh verification code for a
// pending registration or an unverified account.
func (l *Lifecycle) ResendVerification(ctx context.Context, email string) (res *Result, err error) {
	defer l.observe(OpResendVerification, &err)

	if !l.policy.RequiresVerification() {
		return nil, oops.Code("RESEND_DISABLED").Public(msgVerificationDisabled).Wrap(ErrValidation)
	}
	if email == "" {
		return nil, oops.Code("RESEND_INVALID_INPUT").Public(msgMissingEmail).Wrap(ErrValidation)
	}

	issued, previous, err := l.reissueVerification(ctx, email)
	if err != nil {
		return nil, err
	}
	if issued == nil {
		return &Result{Message: msgResendGeneric}, nil
	}

	if sendErr := l.deliver(ctx, issued); sendErr != nil {
		// The replaced code was delivered earlier, so the pending
		// registration survives an undeliverable resend.
		l.restore(ctx, previous)
		return nil, dependencyError("RESEND_SEND_FAILED", msgVerificationSendFailed, sendErr)
	}
	if l.disclose {
		return &Result{Message: msgVerificationSent}, nil
	}
	return &Result{Message: msgResendGeneric}, nil
}

// reissueVerification returns a nil code when there is nothing to resend and
// unknown emails are not disclosed. For a pending registration it also
// returns the record the new code replaced.
func (l *Lifecycle) reissueVerification(ctx context.Context, email string) (*IssuedCode, *OneTimeCode, error) {
	unlock := l.locks.Lock(email)
	defer unlock()

	account, err := l.accounts.Find(ctx, email)
	switch {
	case err == nil && account.Verified:
		if l.disclose {
			return nil, nil, oops.Code("RESEND_ALREADY_VERIFIED").Public(msgAlreadyVerified).Wrap(ErrValidation)
		}
		return nil, nil, nil
	case err == nil:
		issued, issueErr := l.codes.Issue(ctx, email, PurposeVerification, "")
		if issueErr != nil {
			return nil, nil, dependencyError("RESEND_ISSUE_FAILED", "", issueErr)
		}
		return issued, nil, nil
	case !errors.Is(err, ErrNotFound):
		return nil, nil, dependencyError("RESEND_LOOKUP_FAILED", "", err)
	}

	pending, err := l.codes.Current(ctx, email, PurposeVerification)
	if errors.Is(err, ErrCodeNotFound) {
		if l.disclose {
			return nil, nil, oops.Code("RESEND_NOT_PENDING").Public(msgNoPendingVerification).Wrap(ErrValidation)
		}
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, dependencyError("RESEND_LOOKUP_FAILED", "", err)
	}

	issued, err := l.codes.Issue(ctx, email, PurposeVerification, pending.Payload)
	if err != nil {
		return nil, nil, dependencyError("RESEND_ISSUE_FAILED", "", err)
	}
	return issued, pending, nil
}

// Login checks credentials and issues a session token.
func (l *Lifecycle) Login(ctx context.Context, email, password string) (res *LoginResult, err error) {
	defer l.observe(OpLogin, &err)

	if email == "" || password == "" {
		return nil, oops.Code("LOGIN_INVALID_INPUT").Public(msgMissingCredentials).Wrap(ErrValidation)
	}

	account, lookupErr := l.accounts.Find(ctx, email)
	exists := lookupErr == nil
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, dependencyError("LOGIN_LOOKUP_FAILED", "", lookupErr)
	}

	targetHash := l.dummyHash
	if exists {
		targetHash = account.PasswordHash
	}

	// Always verify so unknown emails and wrong passwords take the same time.
	valid, verifyErr := l.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return nil, oops.Code("LOGIN_INVALID_CREDENTIALS").Public(msgInvalidCredentials).Wrap(ErrAuth)
		}
		return nil, dependencyError("LOGIN_VERIFY_FAILED", "", verifyErr)
	}
	if !exists || !valid {
		return nil, oops.Code("LOGIN_INVALID_CREDENTIALS").Public(msgInvalidCredentials).Wrap(ErrAuth)
	}

	if l.policy.RequiresVerification() && !account.Verified {
		return nil, oops.Code("LOGIN_NOT_VERIFIED").Public(msgNotVerified).Wrap(ErrAuth)
	}

	if l.hasher.NeedsUpgrade(account.PasswordHash) {
		l.upgradeHash(ctx, account, password)
	}

	token, expiresAt, err := l.sessions.Issue(email)
	if err != nil {
		return nil, dependencyError("LOGIN_TOKEN_FAILED", "", err)
	}
	return &LoginResult{Email: email, Token: token, ExpiresAt: expiresAt}, nil
}

// upgradeHash rehashes the password with current parameters. It is best
// effort and skipped when the hash changed since it was read.
func (l *Lifecycle) upgradeHash(ctx context.Context, account *Account, password string) {
	newHash, err := l.hasher.Hash(password)
	if err != nil {
		errutil.LogError(l.logger, "password rehash failed", err)
		return
	}

	unlock := l.locks.Lock(account.Email)
	defer unlock()

	current, err := l.accounts.Find(ctx, account.Email)
	if err != nil || current.PasswordHash != account.PasswordHash {
		return
	}
	if _, err := l.accounts.SetPassword(ctx, account.Email, newHash); err != nil {
		errutil.LogError(l.logger, "store upgraded password hash failed", err)
	}
}

// ForgotPassword issues and sends a password reset code.
func (l *Lifecycle) ForgotPassword(ctx context.Context, email string) (res *Result, err error) {
	defer l.observe(OpForgotPassword, &err)

	if email == "" {
		return nil, oops.Code("FORGOT_INVALID_INPUT").Public(msgMissingEmail).Wrap(ErrValidation)
	}

	issued, err := l.issueReset(ctx, email)
	if err != nil {
		return nil, err
	}
	if issued != nil {
		if sendErr := l.deliver(ctx, issued); sendErr != nil {
			return nil, dependencyError("FORGOT_SEND_FAILED", msgResetSendFailed, sendErr)
		}
	}

	if l.disclose {
		return &Result{Message: msgResetSent}, nil
	}
	return &Result{Message: msgResetSentGeneric}, nil
}

func (l *Lifecycle) issueReset(ctx context.Context, email string) (*IssuedCode, error) {
	unlock := l.locks.Lock(email)
	defer unlock()

	_, err := l.accounts.Find(ctx, email)
	if errors.Is(err, ErrNotFound) {
		if l.disclose {
			return nil, oops.Code("FORGOT_UNKNOWN_EMAIL").Public(msgUserNotFound).Wrap(tagged(ErrValidation, err))
		}
		return nil, nil
	}
	if err != nil {
		return nil, dependencyError("FORGOT_LOOKUP_FAILED", "", err)
	}

	issued, err := l.codes.Issue(ctx, email, PurposePasswordReset, "")
	if err != nil {
		return nil, dependencyError("FORGOT_ISSUE_FAILED", "", err)
	}
	return issued, nil
}

// ResetPassword consumes a reset code and replaces the account's password.
func (l *Lifecycle) ResetPassword(ctx context.Context, email, code, newPassword string) (res *Result, err error) {
	defer l.observe(OpResetPassword, &err)

	if email == "" || code == "" || newPassword == "" {
		return nil, oops.Code("RESET_INVALID_INPUT").Public(msgMissingResetFields).Wrap(ErrValidation)
	}

	// Hash before taking the lock; bcrypt is slow.
	hash, err := l.hashPassword("RESET_HASH_FAILED", newPassword)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(email)
	defer unlock()

	rec, err := l.codes.Validate(ctx, email, PurposePasswordReset, code)
	if err != nil {
		return nil, l.codeFailure("RESET", err)
	}

	if _, err := l.accounts.SetPassword(ctx, email, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("RESET_NO_ACCOUNT").Public(msgInvalidCode).Wrap(tagged(ErrCodeNotFound, err))
		}
		l.restore(ctx, rec)
		return nil, dependencyError("RESET_UPDATE_FAILED", "", err)
	}
	return &Result{Message: msgPasswordReset}, nil
}

// Authenticate validates a bearer session token.
func (l *Lifecycle) Authenticate(ctx context.Context, token string) (claims *SessionClaims, err error) {
	defer l.observe(OpAuthenticate, &err)

	if err := ctx.Err(); err != nil {
		return nil, dependencyError("AUTHENTICATE_CANCELED", "", err)
	}

	claims, err = l.sessions.Validate(token)
	switch {
	case errors.Is(err, ErrTokenMissing):
		return nil, oops.Code("AUTHENTICATE_MISSING_TOKEN").Public(msgTokenMissing).Wrap(err)
	case err != nil:
		return nil, oops.Code("AUTHENTICATE_INVALID_TOKEN").Public(msgTokenInvalid).Wrap(err)
	}
	return claims, nil
}
