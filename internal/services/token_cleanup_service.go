package services

import (
	"context"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
)

// TokenCleanupService removes expired session refresh tokens each night.
type TokenCleanupService interface {
	CleanupDaily(ctx context.Context) error
}

type tokenCleanupService struct {
	tokenRepo repositories.SessionTokenRepository
	logCounts bool
}

func NewTokenCleanupService(tokenRepo repositories.SessionTokenRepository, cfg *config.Config) TokenCleanupService {
	return &tokenCleanupService{tokenRepo: tokenRepo, logCounts: !cfg.IsProduction()}
}

func (s *tokenCleanupService) CleanupDaily(ctx context.Context) error {
	if _, err := runSweep(ctx, metrics.SweepRefreshTokens, s.tokenRepo != nil, s.logCounts,
		s.cleanupExpired,
	); err != nil {
		utils.Logger.WithError(err).Error("Failed to cleanup expired passkey_refresh_tokens")
		return err
	}
	utils.Logger.Info("Daily token cleanup (expired only) completed successfully.")
	return nil
}

func (s *tokenCleanupService) cleanupExpired(ctx context.Context) (int64, error) {
	return s.tokenRepo.CleanupExpiredRefreshTokens(ctx)
}
