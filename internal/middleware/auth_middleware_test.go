package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poofware/passkey-service/internal/utils"
)

// httptest requests come from 192.0.2.1.
const testRemoteIP = "192.0.2.1"

func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": TokenIssuer,
		"sub": "subject-1",
		"exp": time.Now().Add(time.Minute).Unix(),
		"ip":  testRemoteIP,
	}
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Code
}

func TestAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var seen string
	handler := AuthMiddleware(&key.PublicKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongIP := validClaims()
	wrongIP["ip"] = "198.51.100.1"
	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		code   string
	}{
		{
			name: "bearer token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, key, validClaims()))
			},
			status: http.StatusNoContent,
		},
		{
			name: "cookie token",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: AccessTokenCookieName, Value: signToken(t, key, validClaims())})
			},
			status: http.StatusNoContent,
		},
		{
			name:   "missing token",
			setup:  func(*http.Request) {},
			status: http.StatusUnauthorized,
			code:   utils.ErrCodeUnauthorized,
		},
		{
			name:   "malformed header",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Token abc") },
			status: http.StatusUnauthorized,
			code:   utils.ErrCodeUnauthorized,
		},
		{
			name: "expired",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, key, expired))
			},
			status: http.StatusUnauthorized,
			code:   utils.ErrCodeTokenExpired,
		},
		{
			name: "other signer",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, otherKey, validClaims()))
			},
			status: http.StatusUnauthorized,
			code:   utils.ErrCodeUnauthorized,
		},
		{
			name: "ip mismatch",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, key, wrongIP))
			},
			status: http.StatusUnauthorized,
			code:   utils.ErrCodeUnauthorized,
		},
		{
			name: "wrong issuer",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, key, wrongIssuer))
			},
			status: http.StatusUnauthorized,
			code:   utils.ErrCodeUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/passkey/list/subject-1", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.code != "" {
				assert.Equal(t, tc.code, decodeCode(t, rec))
				assert.Empty(t, seen)
			} else {
				assert.Equal(t, "subject-1", seen)
			}
		})
	}
}

func TestValidateToken_DeviceBinding(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	claims := validClaims()
	delete(claims, "ip")
	claims["device_id"] = "device-1"
	token := signToken(t, key, claims)

	_, err = ValidateToken(token, utils.ClientIdentifier{Type: utils.ClientIDTypeDeviceID, Value: "device-1"}, &key.PublicKey)
	assert.NoError(t, err)
	_, err = ValidateToken(token, utils.ClientIdentifier{Type: utils.ClientIDTypeDeviceID, Value: "device-2"}, &key.PublicKey)
	assert.Error(t, err)
	_, err = ValidateToken(token, utils.ClientIdentifier{Type: utils.ClientIDTypeIP, Value: testRemoteIP}, &key.PublicKey)
	assert.Error(t, err)
}
