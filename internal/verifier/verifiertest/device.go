// Package verifiertest drives real WebAuthn ceremonies against a virtual
// authenticator so tests can exercise the go-webauthn verifier end to end.
package verifiertest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/descope/virtualwebauthn"
	"github.com/google/uuid"
)

const (
	RPID     = "example.com"
	RPName   = "Poof"
	RPOrigin = "https://example.com"
)

// RelyingParty matches the RPID/RPName/RPOrigin constants.
var RelyingParty = virtualwebauthn.RelyingParty{Name: RPName, ID: RPID, Origin: RPOrigin}

// Device is one virtual authenticator holding one EC2 credential.
//
// A Resident device keeps the user.id it was registered with and returns
// it as the userHandle of every assertion, like a platform passkey.
type Device struct {
	RP            virtualwebauthn.RelyingParty
	Authenticator virtualwebauthn.Authenticator
	Credential    virtualwebauthn.Credential
	Resident      bool
}

func NewDevice() *Device {
	return &Device{
		RP:            RelyingParty,
		Authenticator: virtualwebauthn.NewAuthenticator(),
		Credential:    virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
}

// NewPasskeyDevice returns a Resident device.
func NewPasskeyDevice() *Device {
	d := NewDevice()
	d.Resident = true
	return d
}

// CredentialID is the base64url id the service stores.
func (d *Device) CredentialID() string {
	return base64.RawURLEncoding.EncodeToString(d.Credential.ID)
}

// Attest answers a registration challenge for subjectID with the raw UUID
// bytes as user.id and enrolls the credential on the device.
func (d *Device) Attest(challenge string, subjectID uuid.UUID) (json.RawMessage, error) {
	return d.AttestUser(challenge, subjectID, subjectID[:])
}

// AttestUser is Attest with an explicit user.id.
func (d *Device) AttestUser(challenge string, subjectID uuid.UUID, userHandle []byte) (json.RawMessage, error) {
	options := map[string]any{
		"challenge": challenge,
		"rp":        map[string]any{"id": d.RP.ID, "name": d.RP.Name},
		"user": map[string]any{
			"id":          base64.RawURLEncoding.EncodeToString(userHandle),
			"name":        subjectID.String(),
			"displayName": subjectID.String(),
		},
		"pubKeyCredParams": []map[string]any{{"type": "public-key", "alg": -7}},
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse attestation options: %w", err)
	}
	response := virtualwebauthn.CreateAttestationResponse(d.RP, d.Authenticator, d.Credential, *parsed)
	d.Authenticator.AddCredential(d.Credential)
	if d.Resident {
		d.Authenticator.Options.UserHandle = append([]byte(nil), userHandle...)
	}
	return json.RawMessage(response), nil
}

// Assert signs an authentication challenge with the given counter value.
func (d *Device) Assert(challenge string, counter uint32) (json.RawMessage, error) {
	options := map[string]any{
		"challenge":        challenge,
		"rpId":             d.RP.ID,
		"allowCredentials": []any{},
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse assertion options: %w", err)
	}
	d.Credential.Counter = counter
	response := virtualwebauthn.CreateAssertionResponse(d.RP, d.Authenticator, d.Credential, *parsed)
	return json.RawMessage(response), nil
}
