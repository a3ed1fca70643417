package services

import (
	"context"
	"time"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
)

// CredentialSweepService revokes credentials nobody has used for
// InactiveDays.
type CredentialSweepService interface {
	RevokeInactive(ctx context.Context) (int64, error)
}

type credentialSweepService struct {
	repo         repositories.PasskeyCredentialRepository
	enabled      bool
	inactiveDays int
	logCounts    bool
	now          func() time.Time
}

func NewCredentialSweepService(repo repositories.PasskeyCredentialRepository, cfg *config.Config) CredentialSweepService {
	return &credentialSweepService{
		repo:         repo,
		enabled:      cfg.InactiveSweepActive(),
		inactiveDays: cfg.InactiveDays,
		logCounts:    !cfg.IsProduction(),
		now:          time.Now,
	}
}

// RevokeInactive revokes every active credential whose lastUsed is strictly
// older than now - inactiveDays. Disabled configurations write nothing.
func (s *credentialSweepService) RevokeInactive(ctx context.Context) (int64, error) {
	if !s.enabled {
		utils.Logger.Debug("Inactive passkey sweep disabled")
		return 0, nil
	}
	now := s.now()
	cutoff := now.Add(-time.Duration(s.inactiveDays) * 24 * time.Hour)

	return runSweep(ctx, metrics.SweepInactiveCredentials, s.repo != nil, s.logCounts,
		func(ctx context.Context) (int64, error) {
			return s.repo.RevokeInactive(ctx, cutoff, models.RevokedReasonAutomaticInactive, now)
		})
}
