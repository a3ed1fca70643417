package services

import (
	"context"
	"time"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/repositories"
)

// ChallengeCleanupService purges challenges past their expiry.
type ChallengeCleanupService interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type challengeCleanupService struct {
	repo      repositories.PasskeyChallengeRepository
	logCounts bool
	now       func() time.Time
}

func NewChallengeCleanupService(repo repositories.PasskeyChallengeRepository, cfg *config.Config) ChallengeCleanupService {
	return &challengeCleanupService{repo: repo, logCounts: !cfg.IsProduction(), now: time.Now}
}

// PurgeExpired deletes exactly the challenges with expiresAt < now.
func (s *challengeCleanupService) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	return runSweep(ctx, metrics.SweepExpiredChallenges, s.repo != nil, s.logCounts,
		func(ctx context.Context) (int64, error) {
			return s.repo.DeleteExpired(ctx, now)
		})
}
