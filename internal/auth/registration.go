// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FusionAI Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Registration policy names accepted by NewRegistrationPolicy.
const (
	PolicyDirect   = "direct"
	PolicyVerified = "verified"
)

// Admission is the outcome of a successful registration attempt.
type Admission struct {
	// Message is shown to the caller.
	Message string
	// Pending is set when a verification code must be delivered before the
	// account exists.
	Pending *IssuedCode
}

// RegistrationPolicy decides what registering an account does.
type RegistrationPolicy interface {
	// Name identifies the policy in config and logs.
	Name() string

	// RequiresVerification reports whether accounts must be verified to log in.
	RequiresVerification() bool

	// Admit registers email with an already hashed password. It returns
	// ErrAlreadyExists when the email is taken or a registration is pending.
	Admit(ctx context.Context, email, passwordHash string) (*Admission, error)
}

// NewRegistrationPolicy returns the named policy.
func NewRegistrationPolicy(name string, accounts CredentialStore, codes *CodeLedger) (RegistrationPolicy, error) {
	switch name {
	case PolicyVerified, "":
		if codes == nil {
			return nil, oops.Code("REGISTRATION_INVALID_CONFIG").Errorf("code ledger is required for %s registration", PolicyVerified)
		}
		return &VerifiedRegistration{codes: codes}, nil
	case PolicyDirect:
		if accounts == nil {
			return nil, oops.Code("REGISTRATION_INVALID_CONFIG").Errorf("credential store is required for %s registration", PolicyDirect)
		}
		return &DirectRegistration{accounts: accounts}, nil
	default:
		return nil, oops.Code("REGISTRATION_UNKNOWN_POLICY").
			With("policy", name).
			Errorf("unknown registration policy %q", name)
	}
}

// DirectRegistration creates a verified account immediately.
type DirectRegistration struct {
	accounts CredentialStore
}

// NewDirectRegistration creates a DirectRegistration.
func NewDirectRegistration(accounts CredentialStore) *DirectRegistration {
	return &DirectRegistration{accounts: accounts}
}

// Name implements RegistrationPolicy.
func (p *DirectRegistration) Name() string { return PolicyDirect }

// RequiresVerification implements RegistrationPolicy.
func (p *DirectRegistration) RequiresVerification() bool { return false }

// Admit implements RegistrationPolicy.
func (p *DirectRegistration) Admit(ctx context.Context, email, passwordHash string) (*Admission, error) {
	account, err := NewAccount(email, passwordHash, true)
	if err != nil {
		return nil, err
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		return nil, oops.Code("REGISTER_CREATE_FAILED").With("policy", PolicyDirect).Wrap(err)
	}
	return &Admission{Message: msgAccountCreated}, nil
}

// VerifiedRegistration holds the password hash in a verification code and
// creates the account only once the code is confirmed.
type VerifiedRegistration struct {
	codes *CodeLedger
}

// NewVerifiedRegistration creates a VerifiedRegistration.
func NewVerifiedRegistration(codes *CodeLedger) *VerifiedRegistration {
	return &VerifiedRegistration{codes: codes}
}

// Name implements RegistrationPolicy.
func (p *VerifiedRegistration) Name() string { return PolicyVerified }

// RequiresVerification implements RegistrationPolicy.
func (p *VerifiedRegistration) RequiresVerification() bool { return true }

// Admit implements RegistrationPolicy. A registration that is still pending
// is reported as ErrAlreadyExists.
func (p *VerifiedRegistration) Admit(ctx context.Context, email, passwordHash string) (*Admission, error) {
	issued, err := p.codes.IssueExclusive(ctx, email, PurposeVerification, passwordHash)
	if errors.Is(err, ErrCodeOutstanding) {
		return nil, oops.Code("REGISTER_PENDING").
			With("policy", PolicyVerified).
			Wrap(tagged(ErrAlreadyExists, err))
	}
	if err != nil {
		return nil, err
	}
	return &Admission{Message: msgVerificationSent, Pending: issued}, nil
}

var (
	_ RegistrationPolicy = (*DirectRegistration)(nil)
	_ RegistrationPolicy = (*VerifiedRegistration)(nil)
)
