package services

import (
	"context"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
)

// RateLimitCleanupService removes expired rate limit counter keys.
type RateLimitCleanupService interface {
	CleanupDaily(ctx context.Context) error
}

type rateLimitCleanupService struct {
	repo      repositories.RateLimitRepository
	logCounts bool
}

func NewRateLimitCleanupService(repo repositories.RateLimitRepository, cfg *config.Config) RateLimitCleanupService {
	return &rateLimitCleanupService{repo: repo, logCounts: !cfg.IsProduction()}
}

func (s *rateLimitCleanupService) CleanupDaily(ctx context.Context) error {
	if _, err := runSweep(ctx, metrics.SweepRateLimits, s.repo != nil, s.logCounts,
		func(ctx context.Context) (int64, error) { return s.repo.CleanupExpired(ctx) },
	); err != nil {
		utils.Logger.WithError(err).Error("Failed to cleanup expired rate_limit_attempts")
		return err
	}
	utils.Logger.Info("Daily rate limit counter cleanup completed successfully.")
	return nil
}
