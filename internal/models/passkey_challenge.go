package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ChallengeType string

const (
	ChallengeTypeRegistration   ChallengeType = "registration"
	ChallengeTypeAuthentication ChallengeType = "authentication"
)

func ParseChallengeType(s string) (ChallengeType, error) {
	switch ChallengeType(s) {
	case ChallengeTypeRegistration, ChallengeTypeAuthentication:
		return ChallengeType(s), nil
	default:
		return "", fmt.Errorf("invalid challenge type: %q", s)
	}
}

// DiscoverableSubjectID marks a challenge that is not bound to any subject
// (discoverable-credential flow).
var DiscoverableSubjectID = uuid.Nil

// User-verification requirements understood by the verifier.
const (
	UserVerificationRequired    = "required"
	UserVerificationPreferred   = "preferred"
	UserVerificationDiscouraged = "discouraged"
)

// RegistrationOptions are the preferences presented to the client at
// issuance and enforced again at verification.
type RegistrationOptions struct {
	UserVerification        string `json:"userVerification,omitempty"`
	Attestation             string `json:"attestation,omitempty"`
	ResidentKey             string `json:"residentKey,omitempty"`
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
}

// EffectiveUserVerification defaults to "preferred".
func (o *RegistrationOptions) EffectiveUserVerification() string {
	if o == nil || o.UserVerification == "" {
		return UserVerificationPreferred
	}
	return o.UserVerification
}

// PasskeyChallenge is a single-use nonce. Consumed challenges are deleted;
// expired ones are never accepted.
type PasskeyChallenge struct {
	ID                  uuid.UUID            `json:"id"`
	UserID              uuid.UUID            `json:"user_id"`
	Challenge           string               `json:"challenge"`
	Type                ChallengeType        `json:"type"`
	RegistrationOptions *RegistrationOptions `json:"registration_options,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	ExpiresAt           time.Time            `json:"expires_at"`
}

func (c *PasskeyChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *PasskeyChallenge) IsDiscoverable() bool {
	return c.UserID == DiscoverableSubjectID
}
