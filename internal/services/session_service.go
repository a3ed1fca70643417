package services

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/middleware"
	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
)

const refreshTokenBytes = 48

// SessionService issues the access/refresh pair handed out after a
// successful passkey authentication.
type SessionService interface {
	CreateSession(ctx context.Context, subjectID uuid.UUID, client utils.ClientIdentifier) (*models.Session, error)
}

type sessionService struct {
	privateKey    *rsa.PrivateKey
	tokenRepo     repositories.SessionTokenRepository
	tokenExpiry   time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

func NewSessionService(cfg *config.Config, tokenRepo repositories.SessionTokenRepository) SessionService {
	return &sessionService{
		privateKey:    cfg.RSAPrivateKey,
		tokenRepo:     tokenRepo,
		tokenExpiry:   cfg.TokenExpiry,
		refreshExpiry: cfg.RefreshTokenExpiry,
		now:           time.Now,
	}
}

func (s *sessionService) CreateSession(
	ctx context.Context,
	subjectID uuid.UUID,
	client utils.ClientIdentifier,
) (*models.Session, error) {
	if s.privateKey == nil {
		return nil, errors.New("session service has no signing key")
	}
	if s.tokenRepo == nil {
		return nil, fmt.Errorf("session service: %w", utils.ErrStorageUnavailable)
	}

	now := s.now()
	expiresAt := now.Add(s.tokenExpiry)

	claims := jwt.MapClaims{
		"iss": middleware.TokenIssuer,
		"sub": subjectID.String(),
		"exp": expiresAt.Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
		"amr": []string{"passkey"},
	}
	switch client.Type {
	case utils.ClientIDTypeIP:
		claims["ip"] = client.Value
	case utils.ClientIDTypeDeviceID:
		claims["device_id"] = client.Value
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	rawRefresh, err := utils.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &models.RefreshToken{
		ID:        uuid.New(),
		UserID:    subjectID,
		Token:     rawRefresh,
		ExpiresAt: now.Add(s.refreshExpiry),
		CreatedAt: now,
	}
	switch client.Type {
	case utils.ClientIDTypeIP:
		rt.IPAddress = client.Value
	case utils.ClientIDTypeDeviceID:
		rt.DeviceID = client.Value
	}
	if err := s.tokenRepo.CreateRefreshToken(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &models.Session{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresAt:    expiresAt,
	}, nil
}
