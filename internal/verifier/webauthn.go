package verifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// Algorithms accepted in a new credential's public key.
var supportedCredentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS256},
}

// WebAuthnVerifier implements Verifier on top of go-webauthn. A relying
// party is built per call from the expected rp id and origins.
type WebAuthnVerifier struct {
	rpDisplayName string
}

func NewWebAuthnVerifier(rpDisplayName string) *WebAuthnVerifier {
	return &WebAuthnVerifier{rpDisplayName: rpDisplayName}
}

func (v *WebAuthnVerifier) VerifyRegistration(
	_ context.Context,
	req RegistrationRequest,
) (*RegistrationResult, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBytes(req.Response)
	if err != nil {
		return nil, fail(ErrMalformedResponse, describe(err))
	}

	rp, err := v.relyingParty(req.ExpectedRPID, req.ExpectedOrigins)
	if err != nil {
		return nil, err
	}

	user := &ceremonyUser{id: req.SubjectID, name: req.SubjectName}
	session := webauthn.SessionData{
		Challenge:        req.ExpectedChallenge,
		UserID:           user.WebAuthnID(),
		UserVerification: protocol.UserVerificationRequirement(req.UserVerification),
		CredParams:       supportedCredentialParameters,
	}

	credential, err := rp.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fail(ErrVerificationFailed, describe(err))
	}

	return &RegistrationResult{
		CredentialID:   base64.RawURLEncoding.EncodeToString(credential.ID),
		PublicKey:      base64.RawURLEncoding.EncodeToString(credential.PublicKey),
		AAGUID:         formatAAGUID(credential.Authenticator.AAGUID),
		Counter:        int64(credential.Authenticator.SignCount),
		BackupEligible: credential.Flags.BackupEligible,
		BackupState:    credential.Flags.BackupState,
		UserVerified:   credential.Flags.UserVerified,
	}, nil
}

func (v *WebAuthnVerifier) VerifyAuthentication(
	_ context.Context,
	req AuthenticationRequest,
) (*AuthenticationResult, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(req.Response)
	if err != nil {
		return nil, fail(ErrMalformedResponse, describe(err))
	}

	credentialID, err := base64.RawURLEncoding.DecodeString(req.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("decode stored credential id: %w", err)
	}
	publicKey, err := base64.RawURLEncoding.DecodeString(req.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode stored public key: %w", err)
	}
	if req.Counter < 0 {
		return nil, fmt.Errorf("stored counter is negative: %d", req.Counter)
	}

	rp, err := v.relyingParty(req.ExpectedRPID, req.ExpectedOrigins)
	if err != nil {
		return nil, err
	}

	user := &ceremonyUser{
		id: req.SubjectID,
		credentials: []webauthn.Credential{{
			ID:        credentialID,
			PublicKey: publicKey,
			Flags: webauthn.CredentialFlags{
				BackupEligible: req.BackupEligible,
				BackupState:    req.BackupState,
			},
			Authenticator: webauthn.Authenticator{SignCount: uint32(req.Counter)},
		}},
	}
	session := webauthn.SessionData{
		Challenge:            req.ExpectedChallenge,
		UserID:               user.WebAuthnID(),
		AllowedCredentialIDs: [][]byte{credentialID},
		UserVerification:     protocol.UserVerificationRequirement(req.UserVerification),
	}

	credential, err := rp.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, fail(ErrVerificationFailed, describe(err))
	}
	if credential.Authenticator.CloneWarning {
		return nil, fail(ErrCounterRegression, fmt.Sprintf("stored %d, reported %d",
			req.Counter, parsed.Response.AuthenticatorData.Counter))
	}

	return &AuthenticationResult{
		NewCounter:   int64(credential.Authenticator.SignCount),
		BackupState:  credential.Flags.BackupState,
		UserVerified: credential.Flags.UserVerified,
	}, nil
}

func (v *WebAuthnVerifier) CredentialID(response []byte) (string, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return "", fail(ErrMalformedResponse, describe(err))
	}
	if len(parsed.RawID) == 0 {
		return "", fail(ErrMalformedResponse, "empty credential id")
	}
	return base64.RawURLEncoding.EncodeToString(parsed.RawID), nil
}

func (v *WebAuthnVerifier) relyingParty(rpID string, origins []string) (*webauthn.WebAuthn, error) {
	rp, err := webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: v.rpDisplayName,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure relying party: %w", err)
	}
	return rp, nil
}

// describe flattens protocol errors into the detail surfaced to callers.
func describe(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		if perr.DevInfo != "" {
			return perr.Details + " (" + perr.DevInfo + ")"
		}
		return perr.Details
	}
	return err.Error()
}

// formatAAGUID returns nil for the all-zero AAGUID sent with "none"
// attestation.
func formatAAGUID(raw []byte) *string {
	id, err := uuid.FromBytes(raw)
	if err != nil || id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

type ceremonyUser struct {
	id          uuid.UUID
	name        string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.id[:]
}

// UserHandle is the base64url WebAuthn user.id clients must register with
// for subjectID: the 16 raw UUID bytes, not the UUID string. Authenticators
// echo it back in assertions and it is checked against the credential owner.
func UserHandle(subjectID uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(subjectID[:])
}

func (u *ceremonyUser) WebAuthnName() string {
	if u.name == "" {
		return u.id.String()
	}
	return u.name
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.WebAuthnName()
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
