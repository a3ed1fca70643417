// Package verifier wraps the WebAuthn attestation/assertion primitive. It
// owns no protocol state: challenge, origins and relying-party id arrive
// with every call and the result is normalized into plain values.
package verifier

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrVerificationFailed covers every rejection by the primitive
	// (bad signature, wrong challenge, origin or rp id, missing UV).
	ErrVerificationFailed = errors.New("verification_failed")

	// ErrCounterRegression means the authenticator reported a signature
	// counter that did not advance past the stored one.
	ErrCounterRegression = errors.New("counter_regression")

	// ErrMalformedResponse means the client payload could not be parsed.
	ErrMalformedResponse = errors.New("malformed_response")
)

// Error carries the primitive's explanation for a rejection. Err is one
// of the sentinels above.
type Error struct {
	Err    error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

func fail(sentinel error, detail string) *Error {
	return &Error{Err: sentinel, Detail: detail}
}

type RegistrationRequest struct {
	SubjectID         uuid.UUID
	SubjectName       string
	Response          json.RawMessage
	ExpectedChallenge string
	ExpectedOrigins   []string
	ExpectedRPID      string
	UserVerification  string
}

type RegistrationResult struct {
	CredentialID   string
	PublicKey      string
	AAGUID         *string
	Counter        int64
	BackupEligible bool
	BackupState    bool
	UserVerified   bool
}

type AuthenticationRequest struct {
	SubjectID         uuid.UUID
	Response          json.RawMessage
	ExpectedChallenge string
	ExpectedOrigins   []string
	ExpectedRPID      string
	UserVerification  string

	// Stored credential material.
	CredentialID   string
	PublicKey      string
	Counter        int64
	BackupEligible bool
	BackupState    bool
}

type AuthenticationResult struct {
	NewCounter   int64
	BackupState  bool
	UserVerified bool
}

// Verifier is the contract the passkey service verifies ceremonies through.
type Verifier interface {
	VerifyRegistration(ctx context.Context, req RegistrationRequest) (*RegistrationResult, error)
	VerifyAuthentication(ctx context.Context, req AuthenticationRequest) (*AuthenticationResult, error)

	// CredentialID extracts the base64url credential id from an assertion
	// payload without verifying it.
	CredentialID(response []byte) (string, error)
}
