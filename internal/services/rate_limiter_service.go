package services

import (
	"context"
	"fmt"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/metrics"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
)

// RateLimiterService enforces the rate policy table per client.
type RateLimiterService interface {
	CheckPasskeyRateLimits(ctx context.Context, path string, client utils.ClientIdentifier) error
}

type rateLimiterService struct {
	repo  repositories.RateLimitRepository
	table config.RatePolicyTable
}

func NewRateLimiterService(repo repositories.RateLimitRepository, cfg *config.Config) RateLimiterService {
	return &rateLimiterService{repo: repo, table: cfg.RateLimits}
}

// CheckPasskeyRateLimits counts the request against every rule matching
// path, ceilings first, and stops at the first exhausted one.
func (s *rateLimiterService) CheckPasskeyRateLimits(
	ctx context.Context,
	path string,
	client utils.ClientIdentifier,
) error {
	if s.repo == nil {
		return utils.ErrStorageUnavailable
	}
	for _, rule := range s.table.RulesFor(path) {
		key := fmt.Sprintf("passkey:%s:%s", rule.Name, client.Key())
		if rule.ByPeer {
			if client.Peer == "" {
				continue
			}
			key = fmt.Sprintf("passkey:%s:ip:%s", rule.Name, client.Peer)
		}
		allowed, count, err := s.repo.IncrementAndCheck(ctx, key, rule.Policy.MaxAttempts, rule.Policy.Window)
		if err != nil {
			return err
		}
		if !allowed {
			utils.Logger.Warnf("Passkey rate limit exceeded (key: %s, attempts: %d)", key, count)
			metrics.RecordRateLimitRejection(rule.Name)
			return utils.ErrRateLimitExceeded
		}
	}
	return nil
}
