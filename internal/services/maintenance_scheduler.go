package services

import (
	"context"
	"fmt"
	"sync"

	cron "github.com/robfig/cron/v3"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/utils"
)

// MaintenanceScheduler owns the periodic jobs: the hourly challenge purge,
// the inactive-credential sweep and the nightly housekeeping of rate-limit
// counters and refresh tokens. Start and Stop are explicit; nothing is
// registered globally.
type MaintenanceScheduler struct {
	cfg              *config.Config
	credentialSweep  CredentialSweepService
	challengeCleanup ChallengeCleanupService
	rateLimitCleanup RateLimitCleanupService
	tokenCleanup     TokenCleanupService

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func NewMaintenanceScheduler(
	cfg *config.Config,
	credentialSweep CredentialSweepService,
	challengeCleanup ChallengeCleanupService,
	rateLimitCleanup RateLimitCleanupService,
	tokenCleanup TokenCleanupService,
) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cfg:              cfg,
		credentialSweep:  credentialSweep,
		challengeCleanup: challengeCleanup,
		rateLimitCleanup: rateLimitCleanup,
		tokenCleanup:     tokenCleanup,
	}
}

// Start runs the startup sweeps synchronously, then schedules the periodic
// jobs. Jobs run with a context that Stop cancels.
func (m *MaintenanceScheduler) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("maintenance scheduler already running")
	}

	jobCtx, cancel := context.WithCancel(ctx)

	m.purgeChallenges(jobCtx)
	if m.cfg.InactiveSweepActive() {
		m.revokeInactive(jobCtx)
	}

	cronLogger := cron.PrintfLogger(utils.Logger)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	jobs := []struct {
		name    string
		spec    string
		enabled bool
		run     func()
	}{
		{
			name:    "expired challenge purge",
			spec:    fmt.Sprintf("@every %s", m.cfg.ChallengePurgeInterval),
			enabled: true,
			run:     func() { m.purgeChallenges(jobCtx) },
		},
		{
			name:    "inactive passkey sweep",
			spec:    fmt.Sprintf("@every %s", m.cfg.SweepInterval),
			enabled: m.cfg.InactiveSweepActive() && m.cfg.SweepIntervalEnabled,
			run:     func() { m.revokeInactive(jobCtx) },
		},
		{
			name:    "rate limit counter cleanup",
			spec:    m.cfg.HousekeepingSchedule,
			enabled: m.rateLimitCleanup != nil,
			run: func() {
				if err := m.rateLimitCleanup.CleanupDaily(jobCtx); err != nil {
					utils.Logger.WithError(err).Error("Scheduled rate limit counter cleanup failed")
				}
			},
		},
		{
			name:    "refresh token cleanup",
			spec:    m.cfg.HousekeepingSchedule,
			enabled: m.tokenCleanup != nil,
			run: func() {
				if err := m.tokenCleanup.CleanupDaily(jobCtx); err != nil {
					utils.Logger.WithError(err).Error("Scheduled token cleanup failed")
				}
			},
		},
	}
	for _, job := range jobs {
		if !job.enabled {
			utils.Logger.Infof("Maintenance job %q not scheduled", job.name)
			continue
		}
		if _, err := c.AddFunc(job.spec, job.run); err != nil {
			cancel()
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}

	c.Start()
	m.cron = c
	m.cancel = cancel
	m.running = true
	utils.Logger.Infof("Maintenance scheduler started with %d jobs", len(c.Entries()))
	return nil
}

// Stop halts scheduling, waits for running jobs and cancels their context.
// Safe to call more than once.
func (m *MaintenanceScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.cancel()
	m.running = false
	utils.Logger.Info("Maintenance scheduler stopped")
}

// JobCount reports the number of scheduled jobs, zero when stopped.
func (m *MaintenanceScheduler) JobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return 0
	}
	return len(m.cron.Entries())
}

func (m *MaintenanceScheduler) purgeChallenges(ctx context.Context) {
	if m.challengeCleanup == nil {
		utils.Logger.Warn("Challenge cleanup not configured; skipping purge")
		return
	}
	if _, err := m.challengeCleanup.PurgeExpired(ctx); err != nil {
		utils.Logger.WithError(err).Error("Expired passkey challenge purge failed")
	}
}

func (m *MaintenanceScheduler) revokeInactive(ctx context.Context) {
	if m.credentialSweep == nil {
		utils.Logger.Warn("Credential sweep not configured; skipping inactive revocation")
		return
	}
	if _, err := m.credentialSweep.RevokeInactive(ctx); err != nil {
		utils.Logger.WithError(err).Error("Inactive passkey sweep failed")
	}
}
