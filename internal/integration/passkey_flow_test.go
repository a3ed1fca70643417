//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/services"
	"github.com/poofware/passkey-service/internal/utils"
	"github.com/poofware/passkey-service/internal/verifier"
	"github.com/poofware/passkey-service/internal/verifier/verifiertest"
)

// TestPasskeyFlow runs register, authenticate and revoke against Postgres.
func TestPasskeyFlow(t *testing.T) {
	ctx := context.Background()
	flowCfg := *cfg
	flowCfg.RPID = verifiertest.RPID
	flowCfg.RPName = verifiertest.RPName
	flowCfg.RPOrigins = []string{verifiertest.RPOrigin}

	credentials := repositories.NewPasskeyCredentialRepository(db)
	challenges := repositories.NewPasskeyChallengeRepository(db)
	sessions := services.NewSessionService(&flowCfg, repositories.NewSessionTokenRepository(db))
	svc := services.NewPasskeyService(
		&flowCfg, credentials, challenges, repositories.NewSubjectRepository(db),
		verifier.NewWebAuthnVerifier(flowCfg.RPName), sessions,
	)

	subject := createSubject(t, ctx)
	device := verifiertest.NewDevice()

	challenge, err := svc.IssueChallenge(ctx, subject, models.ChallengeTypeRegistration, nil)
	require.NoError(t, err)
	response, err := device.Attest(challenge.Challenge, subject)
	require.NoError(t, err)
	outcome, err := svc.Register(ctx, services.RegistrationInput{
		SubjectID: subject, Response: response, Platform: "ios",
		Metadata: map[string]any{"deviceName": "D1"},
	})
	require.NoError(t, err)
	assert.False(t, outcome.Reactivated)

	challenge, err = svc.IssueChallenge(ctx, subject, models.ChallengeTypeAuthentication, nil)
	require.NoError(t, err)
	assertion, err := device.Assert(challenge.Challenge, 1)
	require.NoError(t, err)
	client := utils.ClientIdentifier{Type: utils.ClientIDTypeIP, Value: "203.0.113.7"}
	auth, err := svc.Authenticate(ctx, services.AuthenticationInput{Response: assertion, Client: client})
	require.NoError(t, err)
	assert.Equal(t, subject, auth.Subject.ID)

	stored, err := credentials.GetByCredentialID(ctx, device.CredentialID())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Counter)
	assert.Equal(t, "D1", stored.Metadata["deviceName"])

	require.NoError(t, svc.Revoke(ctx, subject, device.CredentialID(), "lost_device"))

	challenge, err = svc.IssueChallenge(ctx, subject, models.ChallengeTypeAuthentication, nil)
	require.NoError(t, err)
	assertion, err = device.Assert(challenge.Challenge, 2)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, services.AuthenticationInput{Response: assertion, Client: client})
	assert.ErrorIs(t, err, services.ErrInvalidCredential)
}
