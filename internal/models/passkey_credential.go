package models

import (
	"time"

	"github.com/google/uuid"
)

type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "active"
	CredentialStatusRevoked CredentialStatus = "revoked"
)

const (
	RevokedReasonUserInitiated     = "user_initiated"
	RevokedReasonAutomaticInactive = "automatic_inactive"
)

// PasskeyCredential is a registered authenticator bound to a subject.
// There is at most one row per CredentialID; revocation and reactivation
// mutate that row in place.
type PasskeyCredential struct {
	ID             uuid.UUID        `json:"id"`
	CredentialID   string           `json:"credential_id"`
	UserID         uuid.UUID        `json:"user_id"`
	PublicKey      string           `json:"-"`
	Counter        int64            `json:"counter"`
	Platform       string           `json:"platform"`
	AAGUID         *string          `json:"aaguid,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	BackupEligible bool             `json:"backup_eligible"`
	BackupState    bool             `json:"backup_state"`
	Status         CredentialStatus `json:"status"`
	RevokedAt      *time.Time       `json:"revoked_at,omitempty"`
	RevokedReason  *string          `json:"revoked_reason,omitempty"`
	LastUsed       time.Time        `json:"last_used"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	RowVersion     int64            `json:"row_version"`
}

func (c *PasskeyCredential) GetID() string { return c.ID.String() }
func (c *PasskeyCredential) GetRowVersion() int64 { return c.RowVersion }
func (c *PasskeyCredential) SetRowVersion(v int64) { c.RowVersion = v }
func (c *PasskeyCredential) IsActive() bool { return c.Status == CredentialStatusActive }
func (c *PasskeyCredential) IsRevoked() bool { return c.Status == CredentialStatusRevoked }

// Revoke flips the record to revoked. Both revoked fields are always set
// together.
func (c *PasskeyCredential) Revoke(reason string, now time.Time) {
	c.Status = CredentialStatusRevoked
	c.RevokedAt = &now
	c.RevokedReason = &reason
	c.UpdatedAt = now
}

// Clone returns a copy whose metadata and pointer fields can be mutated
// without touching the original.
func (c *PasskeyCredential) Clone() *PasskeyCredential {
	cp := *c
	cp.Metadata = MergeMetadata(c.Metadata)
	if c.AAGUID != nil {
		v := *c.AAGUID
		cp.AAGUID = &v
	}
	if c.RevokedAt != nil {
		v := *c.RevokedAt
		cp.RevokedAt = &v
	}
	if c.RevokedReason != nil {
		v := *c.RevokedReason
		cp.RevokedReason = &v
	}
	return &cp
}

// MergeMetadata shallow-merges the given layers into a new map; later
// layers win on key collisions. Nil layers are skipped.
func MergeMetadata(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
