package dtos

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/poofware/passkey-service/internal/models"
)

// ----------------------
// Challenge
// ----------------------

type RegistrationOptions struct {
	UserVerification        string `json:"user_verification,omitempty" validate:"omitempty,oneof=required preferred discouraged"`
	Attestation             string `json:"attestation,omitempty" validate:"omitempty,oneof=none indirect direct enterprise"`
	ResidentKey             string `json:"resident_key,omitempty" validate:"omitempty,oneof=required preferred discouraged"`
	AuthenticatorAttachment string `json:"authenticator_attachment,omitempty" validate:"omitempty,oneof=platform cross-platform"`
}

// ToModel returns nil for an absent options object.
func (o *RegistrationOptions) ToModel() *models.RegistrationOptions {
	if o == nil {
		return nil
	}
	return &models.RegistrationOptions{
		UserVerification:        o.UserVerification,
		Attestation:             o.Attestation,
		ResidentKey:             o.ResidentKey,
		AuthenticatorAttachment: o.AuthenticatorAttachment,
	}
}

// ChallengeRequest asks for a fresh nonce. An empty SubjectID on an
// authentication challenge requests a discoverable-credential challenge.
type ChallengeRequest struct {
	SubjectID string               `json:"subject_id" validate:"omitempty,uuid"`
	Type      string               `json:"type" validate:"required,oneof=registration authentication"`
	Options   *RegistrationOptions `json:"options,omitempty"`
}

// ChallengeResponse carries UserID only for registration challenges. It is
// the base64url value the client passes as the WebAuthn user.id; a
// credential registered under any other user.id fails every assertion.
type ChallengeResponse struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
	RPID      string    `json:"rp_id"`
	RPName    string    `json:"rp_name"`
	UserID    string    `json:"user_id,omitempty"`
}

// ----------------------
// Registration
// ----------------------

type RegisterRequest struct {
	SubjectID string          `json:"subject_id" validate:"required,uuid"`
	Response  json.RawMessage `json:"response" validate:"required"`
	Platform  string          `json:"platform,omitempty" validate:"omitempty,max=32"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

type RegisterResponse struct {
	Credential  CredentialSummary `json:"credential"`
	Reactivated bool              `json:"reactivated"`
	RPName      string            `json:"rp_name"`
	RPID        string            `json:"rp_id"`
}

// ----------------------
// Authentication
// ----------------------

type AuthenticateRequest struct {
	Response json.RawMessage `json:"response" validate:"required"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

type SubjectSummary struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
}

type AuthenticateResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Subject      SubjectSummary `json:"subject"`
	CredentialID string         `json:"credential_id"`
}

// ----------------------
// Revocation / listing
// ----------------------

type RevokeRequest struct {
	CredentialID string `json:"credential_id" validate:"required,max=1024"`
	Reason       string `json:"reason,omitempty" validate:"omitempty,max=64"`
}

type RevokeResponse struct {
	Message string `json:"message"`
}

// CredentialSummary is the client view of a credential; the public key
// never leaves the service.
type CredentialSummary struct {
	CredentialID   string         `json:"credential_id"`
	Platform       string         `json:"platform"`
	AAGUID         *string        `json:"aaguid,omitempty"`
	Status         string         `json:"status"`
	BackupEligible bool           `json:"backup_eligible"`
	BackupState    bool           `json:"backup_state"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LastUsed       time.Time      `json:"last_used"`
	CreatedAt      time.Time      `json:"created_at"`
}

func NewCredentialSummary(c *models.PasskeyCredential) CredentialSummary {
	return CredentialSummary{
		CredentialID:   c.CredentialID,
		Platform:       c.Platform,
		AAGUID:         c.AAGUID,
		Status:         string(c.Status),
		BackupEligible: c.BackupEligible,
		BackupState:    c.BackupState,
		Metadata:       c.Metadata,
		LastUsed:       c.LastUsed,
		CreatedAt:      c.CreatedAt,
	}
}

type ListCredentialsResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}
