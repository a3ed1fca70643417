package services

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/verifier"
	"github.com/poofware/passkey-service/internal/verifier/verifiertest"
)

// rendezvousVerifier holds every VerifyAuthentication call until `parties`
// calls have verified, so concurrent requests reach the challenge together.
type rendezvousVerifier struct {
	verifier.Verifier
	arrived sync.WaitGroup
}

func newRendezvousVerifier(inner verifier.Verifier, parties int) *rendezvousVerifier {
	v := &rendezvousVerifier{Verifier: inner}
	v.arrived.Add(parties)
	return v
}

func (v *rendezvousVerifier) VerifyAuthentication(
	ctx context.Context,
	req verifier.AuthenticationRequest,
) (*verifier.AuthenticationResult, error) {
	result, err := v.Verifier.VerifyAuthentication(ctx, req)
	v.arrived.Done()
	v.arrived.Wait()
	return result, err
}

// registerPasskey enrolls a resident device under the user id a
// registration challenge publishes for subjectID.
func (h *harness) registerPasskey(subjectID uuid.UUID, device *verifiertest.Device) {
	h.t.Helper()
	challenge := h.issue(subjectID, models.ChallengeTypeRegistration)
	userHandle, err := base64.RawURLEncoding.DecodeString(verifier.UserHandle(subjectID))
	require.NoError(h.t, err)

	response, err := device.AttestUser(challenge, subjectID, userHandle)
	require.NoError(h.t, err)
	_, err = h.svc.Register(h.ctx, RegistrationInput{SubjectID: subjectID, Response: response, Platform: "ios"})
	require.NoError(h.t, err)
}

func TestAuthenticate_PasskeyReturnsUserHandle(t *testing.T) {
	h := newHarness(t)
	subject := h.addSubject()
	device := verifiertest.NewPasskeyDevice()
	h.registerPasskey(subject, device)

	challenge := h.issue(models.DiscoverableSubjectID, models.ChallengeTypeAuthentication)
	outcome, err := h.assert(device, challenge, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, subject, outcome.Subject.ID)
	assert.Equal(t, int64(0), outcome.Credential.Counter)
}

func TestAuthenticate_ConcurrentReplayGetsOneSession(t *testing.T) {
	h := newHarness(t)
	subject := h.addSubject()
	device := verifiertest.NewPasskeyDevice()
	h.registerPasskey(subject, device)
	h.svc.verifier = newRendezvousVerifier(h.svc.verifier, 2)

	// Platform passkeys report counter 0, so the counter cannot catch this.
	challenge := h.issue(subject, models.ChallengeTypeAuthentication)
	response, err := device.Assert(challenge, 0)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Authenticate(h.ctx, AuthenticationInput{Response: response, Client: testClient})
		}(i)
	}
	wg.Wait()

	var succeeded, replayed int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case kindOf(err) == KindInvalidChallenge:
			replayed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 1, h.store.RefreshTokenCount())
	assert.Equal(t, 0, h.store.ChallengeCount())
}

func TestAuthenticate_ClaimsChallengeBeforeUpdating(t *testing.T) {
	h := newHarness(t)
	subject := h.addSubject()
	device := verifiertest.NewDevice()
	h.mustRegister(subject, device)

	challenge := h.issue(subject, models.ChallengeTypeAuthentication)
	found, err := h.store.Challenges().FindLatest(
		h.ctx, models.ChallengeTypeAuthentication, subject, models.DiscoverableSubjectID, h.clock.Now(),
	)
	require.NoError(t, err)
	require.NotNil(t, found)

	// Consumed by someone else after lookup but before this request claims it.
	h.svc.verifier = &consumingVerifier{Verifier: h.svc.verifier, consume: func() {
		deleted, err := h.store.Challenges().Delete(h.ctx, found.ID)
		require.NoError(t, err)
		require.True(t, deleted)
	}}

	_, err = h.assert(device, challenge, 3, map[string]any{"appVersion": "9.9"})
	require.ErrorIs(t, err, ErrInvalidChallenge)

	stored := h.credential(device.CredentialID())
	assert.Equal(t, int64(0), stored.Counter)
	assert.NotContains(t, stored.Metadata, "appVersion")
	assert.Equal(t, 0, h.store.RefreshTokenCount())
}

type consumingVerifier struct {
	verifier.Verifier
	consume func()
}

func (v *consumingVerifier) VerifyAuthentication(
	ctx context.Context,
	req verifier.AuthenticationRequest,
) (*verifier.AuthenticationResult, error) {
	result, err := v.Verifier.VerifyAuthentication(ctx, req)
	v.consume()
	return result, err
}
