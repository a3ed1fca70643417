package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable code carried by every error the
// passkey service returns.
type ErrorKind string

const (
	KindSubjectNotFound    ErrorKind = "subject_not_found"
	KindUserNotFound       ErrorKind = "user_not_found"
	KindCredentialExists   ErrorKind = "credential_exists"
	KindInvalidCredential  ErrorKind = "invalid_credential"
	KindCredentialNotFound ErrorKind = "credential_not_found"
	KindInvalidChallenge   ErrorKind = "invalid_challenge"
	KindExpiredChallenge   ErrorKind = "expired_challenge"
	KindVerificationFailed ErrorKind = "verification_failed"

	// Catch-alls for unexpected failures, one per operation.
	KindChallengeFailed      ErrorKind = "challenge_failed"
	KindRegistrationFailed   ErrorKind = "registration_failed"
	KindAuthenticationFailed ErrorKind = "authentication_failed"
	KindRevocationFailed     ErrorKind = "revocation_failed"
	KindListFailed           ErrorKind = "list_failed"
)

// PasskeyError is the single error shape crossing the service boundary.
// Message is safe to show to the client; Err stays internal.
type PasskeyError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PasskeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PasskeyError) Unwrap() error { return e.Err }

// Is matches any *PasskeyError of the same kind, so callers can compare
// against the Err* values below with errors.Is.
func (e *PasskeyError) Is(target error) bool {
	t, ok := target.(*PasskeyError)
	return ok && t.Kind == e.Kind
}

// IsCatchAll reports whether the kind wraps an unexpected internal failure.
func (k ErrorKind) IsCatchAll() bool {
	switch k {
	case KindChallengeFailed, KindRegistrationFailed, KindAuthenticationFailed,
		KindRevocationFailed, KindListFailed:
		return true
	}
	return false
}

var (
	ErrSubjectNotFound    = &PasskeyError{Kind: KindSubjectNotFound, Message: "subject not found"}
	ErrUserNotFound       = &PasskeyError{Kind: KindUserNotFound, Message: "user not found"}
	ErrCredentialExists   = &PasskeyError{Kind: KindCredentialExists, Message: "credential already registered"}
	ErrInvalidCredential  = &PasskeyError{Kind: KindInvalidCredential, Message: "invalid credential"}
	ErrCredentialNotFound = &PasskeyError{Kind: KindCredentialNotFound, Message: "credential not found"}
	ErrInvalidChallenge   = &PasskeyError{Kind: KindInvalidChallenge, Message: "no valid challenge found"}
	ErrExpiredChallenge   = &PasskeyError{Kind: KindExpiredChallenge, Message: "challenge has expired"}
	ErrVerificationFailed = &PasskeyError{Kind: KindVerificationFailed, Message: "passkey verification failed"}
)

var catchAllMessages = map[ErrorKind]string{
	KindChallengeFailed:      "failed to issue challenge",
	KindRegistrationFailed:   "failed to register passkey",
	KindAuthenticationFailed: "failed to authenticate with passkey",
	KindRevocationFailed:     "failed to revoke passkey",
	KindListFailed:           "failed to list passkeys",
}

func newError(base *PasskeyError, cause error) *PasskeyError {
	return &PasskeyError{Kind: base.Kind, Message: base.Message, Err: cause}
}

// wrapError returns typed errors unchanged and folds anything else into the
// operation's catch-all kind with a generic message.
func wrapError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var pe *PasskeyError
	if errors.As(err, &pe) {
		return pe
	}
	return &PasskeyError{Kind: kind, Message: catchAllMessages[kind], Err: err}
}
