package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
	"github.com/poofware/passkey-service/internal/verifier"
	"github.com/poofware/passkey-service/internal/verifier/verifiertest"
)

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	signingKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		signingKey = key
	})
	return signingKey
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.RPID = verifiertest.RPID
	cfg.RPName = verifiertest.RPName
	cfg.RPOrigins = []string{verifiertest.RPOrigin}
	key := testSigningKey(t)
	cfg.RSAPrivateKey = key
	cfg.RSAPublicKey = &key.PublicKey
	return cfg
}

var testClient = utils.ClientIdentifier{Type: utils.ClientIDTypeIP, Value: "203.0.113.7"}

type harness struct {
	t     *testing.T
	ctx   context.Context
	cfg   *config.Config
	store *repositories.MemoryStore
	clock *fakeClock
	svc   *passkeyService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig(t)
	clock := newFakeClock()

	store := repositories.NewMemoryStore()
	store.SetClock(clock.Now)

	sessions := NewSessionService(cfg, store.Tokens()).(*sessionService)
	sessions.now = clock.Now

	svc := NewPasskeyService(
		cfg,
		store.Credentials(),
		store.Challenges(),
		store.Subjects(),
		verifier.NewWebAuthnVerifier(cfg.RPName),
		sessions,
	).(*passkeyService)
	svc.now = clock.Now

	return &harness{t: t, ctx: context.Background(), cfg: cfg, store: store, clock: clock, svc: svc}
}

func (h *harness) addSubject() uuid.UUID {
	id := uuid.New()
	h.store.PutSubject(&models.Subject{
		ID:          id,
		Email:       id.String()[:8] + "@example.com",
		DisplayName: "Test Subject",
		CreatedAt:   h.clock.Now(),
	})
	return id
}

func (h *harness) issue(subjectID uuid.UUID, kind models.ChallengeType) string {
	h.t.Helper()
	c, err := h.svc.IssueChallenge(h.ctx, subjectID, kind, nil)
	require.NoError(h.t, err)
	return c.Challenge
}

// register runs a full registration ceremony for device.
func (h *harness) register(subjectID uuid.UUID, device *verifiertest.Device, metadata map[string]any) (*RegistrationOutcome, error) {
	h.t.Helper()
	challenge := h.issue(subjectID, models.ChallengeTypeRegistration)
	response, err := device.Attest(challenge, subjectID)
	require.NoError(h.t, err)
	return h.svc.Register(h.ctx, RegistrationInput{
		SubjectID: subjectID,
		Response:  response,
		Platform:  "ios",
		Metadata:  metadata,
	})
}

func (h *harness) mustRegister(subjectID uuid.UUID, device *verifiertest.Device) *RegistrationOutcome {
	h.t.Helper()
	outcome, err := h.register(subjectID, device, map[string]any{"deviceName": "Test iPhone"})
	require.NoError(h.t, err)
	return outcome
}

// assert signs challenge with device and submits it.
func (h *harness) assert(device *verifiertest.Device, challenge string, counter uint32, metadata map[string]any) (*AuthenticationOutcome, error) {
	h.t.Helper()
	response, err := device.Assert(challenge, counter)
	require.NoError(h.t, err)
	return h.svc.Authenticate(h.ctx, AuthenticationInput{
		Response: response,
		Metadata: metadata,
		Client:   testClient,
	})
}

func (h *harness) credential(credentialID string) *models.PasskeyCredential {
	h.t.Helper()
	c, err := h.store.Credentials().GetByCredentialID(h.ctx, credentialID)
	require.NoError(h.t, err)
	require.NotNil(h.t, c)
	return c
}

func (h *harness) activeCount(subjectID uuid.UUID) int {
	h.t.Helper()
	_, total, err := h.store.Credentials().ListActiveByUser(h.ctx, subjectID, MaxListLimit, 0)
	require.NoError(h.t, err)
	return total
}

func kindOf(err error) ErrorKind {
	var pe *PasskeyError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
