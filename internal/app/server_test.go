package app

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/dtos"
	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
	"github.com/poofware/passkey-service/internal/verifier/verifiertest"
)

type testServer struct {
	t       *testing.T
	store   *repositories.MemoryStore
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.RPID = verifiertest.RPID
	cfg.RPName = verifiertest.RPName
	cfg.RPOrigins = []string{verifiertest.RPOrigin}
	cfg.RSAPrivateKey = key
	cfg.RSAPublicKey = &key.PublicKey
	if mutate != nil {
		mutate(cfg)
	}

	store := repositories.NewMemoryStore()
	srv := NewServer(NewMemoryApp(cfg, store))
	return &testServer{t: t, store: store, handler: srv.Router}
}

func (s *testServer) do(method, path, token string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(s.t, json.NewDecoder(rec.Body).Decode(out), rec.Body.String())
	}
	return rec.Code
}

func (s *testServer) addSubject() uuid.UUID {
	id := uuid.New()
	s.store.PutSubject(&models.Subject{ID: id, Email: "u1@example.com", DisplayName: "U1", CreatedAt: time.Now()})
	return id
}

func (s *testServer) challenge(subjectID uuid.UUID, kind models.ChallengeType) string {
	s.t.Helper()
	var resp dtos.ChallengeResponse
	code := s.do(http.MethodPost, "/passkey/challenge", "", dtos.ChallengeRequest{
		SubjectID: subjectID.String(), Type: string(kind),
	}, &resp)
	require.Equal(s.t, http.StatusOK, code)
	assert.Equal(s.t, verifiertest.RPID, resp.RPID)
	return resp.Challenge
}

func (s *testServer) authenticate(device *verifiertest.Device, subjectID uuid.UUID, counter uint32, out any) int {
	s.t.Helper()
	response, err := device.Assert(s.challenge(subjectID, models.ChallengeTypeAuthentication), counter)
	require.NoError(s.t, err)
	return s.do(http.MethodPost, "/passkey/authenticate", "", dtos.AuthenticateRequest{Response: response}, out)
}

func TestPasskeyLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	u1 := s.addSubject()
	d1 := verifiertest.NewDevice()

	response, err := d1.Attest(s.challenge(u1, models.ChallengeTypeRegistration), u1)
	require.NoError(t, err)
	var registered dtos.RegisterResponse
	code := s.do(http.MethodPost, "/passkey/register", "", dtos.RegisterRequest{
		SubjectID: u1.String(),
		Response:  response,
		Platform:  "ios",
		Metadata:  map[string]any{"deviceName": "D1"},
	}, &registered)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, d1.CredentialID(), registered.Credential.CredentialID)
	assert.Equal(t, verifiertest.RPName, registered.RPName)
	assert.False(t, registered.Reactivated)

	var session dtos.AuthenticateResponse
	require.Equal(t, http.StatusOK, s.authenticate(d1, u1, 1, &session))
	require.NotEmpty(t, session.AccessToken)
	assert.Equal(t, u1, session.Subject.ID)

	var page dtos.ListCredentialsResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/passkey/list/"+u1.String(), session.AccessToken, nil, &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Credentials, 1)
	assert.Equal(t, "D1", page.Credentials[0].Metadata["deviceName"])

	var errBody utils.ErrorResponse
	code = s.do(http.MethodGet, "/passkey/list/"+uuid.NewString(), session.AccessToken, nil, &errBody)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/passkey/list/"+u1.String(), "", nil, nil))

	code = s.do(http.MethodPost, "/passkey/revoke", session.AccessToken, dtos.RevokeRequest{
		CredentialID: d1.CredentialID(), Reason: "lost_device",
	}, nil)
	require.Equal(t, http.StatusOK, code)

	page = dtos.ListCredentialsResponse{}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/passkey/list/"+u1.String(), session.AccessToken, nil, &page))
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Credentials)

	errBody = utils.ErrorResponse{}
	assert.Equal(t, http.StatusUnauthorized, s.authenticate(d1, u1, 2, &errBody))
	assert.Equal(t, "invalid_credential", errBody.Code)
}

func TestRegistrationErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	var errBody utils.ErrorResponse
	code := s.do(http.MethodPost, "/passkey/challenge", "", dtos.ChallengeRequest{
		SubjectID: uuid.NewString(), Type: "registration",
	}, &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "subject_not_found", errBody.Code)

	errBody = utils.ErrorResponse{}
	code = s.do(http.MethodPost, "/passkey/challenge", "", map[string]any{"type": "login"}, &errBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, utils.ErrCodeValidation, errBody.Code)

	u1 := s.addSubject()
	d1 := verifiertest.NewDevice()
	response, err := d1.Attest(s.challenge(u1, models.ChallengeTypeRegistration), u1)
	require.NoError(t, err)
	req := dtos.RegisterRequest{SubjectID: u1.String(), Response: response}
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/passkey/register", "", req, nil))

	response, err = d1.Attest(s.challenge(u1, models.ChallengeTypeRegistration), u1)
	require.NoError(t, err)
	req.Response = response
	errBody = utils.ErrorResponse{}
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/passkey/register", "", req, &errBody))
	assert.Equal(t, "credential_exists", errBody.Code)
}

func TestDiscoverableChallengeOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	u1 := s.addSubject()
	d1 := verifiertest.NewPasskeyDevice()

	var registration dtos.ChallengeResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/passkey/challenge", "", dtos.ChallengeRequest{
		SubjectID: u1.String(), Type: "registration",
	}, &registration))
	userHandle, err := base64.RawURLEncoding.DecodeString(registration.UserID)
	require.NoError(t, err)
	response, err := d1.AttestUser(registration.Challenge, u1, userHandle)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/passkey/register", "", dtos.RegisterRequest{
		SubjectID: u1.String(), Response: response,
	}, nil))

	var challenge dtos.ChallengeResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/passkey/challenge", "", dtos.ChallengeRequest{
		Type: "authentication",
	}, &challenge))

	assertion, err := d1.Assert(challenge.Challenge, 1)
	require.NoError(t, err)
	var session dtos.AuthenticateResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/passkey/authenticate", "", dtos.AuthenticateRequest{
		Response: assertion,
	}, &session))
	assert.Equal(t, u1, session.Subject.ID)
}

func TestRateLimitOverHTTP(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimits.Register = config.RatePolicy{Window: time.Minute, MaxAttempts: 1}
	})

	body := map[string]any{"subject_id": uuid.NewString(), "response": map[string]any{}}
	assert.NotEqual(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/passkey/register", "", body, nil))

	var errBody utils.ErrorResponse
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/passkey/register", "", body, &errBody))
	assert.Equal(t, utils.ErrCodeRateLimitExceeded, errBody.Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil, nil), "health is not rate limited")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	var health dtos.HealthCheckResponse
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "OK", health.Status)
	assert.Equal(t, StorageBackendMemory, health.Storage)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "passkey_http_requests_total")
}

func TestNewApp_MemoryFallback(t *testing.T) {
	cfg := config.Defaults()
	a, err := NewApp(cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.DB)
	assert.NotNil(t, a.Memory)
	assert.NoError(t, a.Ping(t.Context()))

	cfg.Env = utils.EnvProd
	_, err = NewApp(cfg)
	assert.Error(t, err)
}
