package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/poofware/passkey-service/internal/config"
	"github.com/poofware/passkey-service/internal/repositories"
	"github.com/poofware/passkey-service/internal/utils"
)

const (
	maxRetries     = 5
	connectTimeout = 5 * time.Second
	initialBackoff = 500 * time.Millisecond

	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Repositories is the storage surface the services are built on.
type Repositories struct {
	Credentials repositories.PasskeyCredentialRepository
	Challenges  repositories.PasskeyChallengeRepository
	Subjects    repositories.SubjectRepository
	RateLimits  repositories.RateLimitRepository
	Tokens      repositories.SessionTokenRepository
}

type App struct {
	Config *config.Config
	DB     *pgxpool.Pool
	// Memory is set instead of DB when no DB_URL is configured.
	Memory *repositories.MemoryStore
	Repos  Repositories
}

// NewApp connects to Postgres with retry and exponential backoff. Without a
// DB_URL it falls back to the in-memory store, which production refuses.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg.DBUrl == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("DB_URL is required in %s", cfg.Env)
		}
		utils.Logger.Warn("DB_URL not set; using in-memory storage. Data will not survive a restart.")
		return NewMemoryApp(cfg, repositories.NewMemoryStore()), nil
	}

	var (
		dbPool  *pgxpool.Pool
		err     error
		backoff = initialBackoff
	)

	for i := 1; i <= maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		dbPool, err = newDBPool(ctx, cfg.DBUrl)
		cancel()
		if err == nil {
			utils.Logger.Infof("Successfully connected to database on attempt %d", i)
			break
		}

		utils.Logger.WithError(err).Warnf(
			"Failed to connect to database on attempt %d/%d. Retrying in %v...",
			i, maxRetries, backoff,
		)

		if i == maxRetries {
			return nil, fmt.Errorf("unable to connect to database after %d attempts: %w", maxRetries, err)
		}

		time.Sleep(backoff)
		backoff *= 2
	}

	return &App{
		Config: cfg,
		DB:     dbPool,
		Repos: Repositories{
			Credentials: repositories.NewPasskeyCredentialRepository(dbPool),
			Challenges:  repositories.NewPasskeyChallengeRepository(dbPool),
			Subjects:    repositories.NewSubjectRepository(dbPool),
			RateLimits:  repositories.NewRateLimitRepository(dbPool),
			Tokens:      repositories.NewSessionTokenRepository(dbPool),
		},
	}, nil
}

// NewMemoryApp wires every repository to store.
func NewMemoryApp(cfg *config.Config, store *repositories.MemoryStore) *App {
	return &App{
		Config: cfg,
		Memory: store,
		Repos: Repositories{
			Credentials: store.Credentials(),
			Challenges:  store.Challenges(),
			Subjects:    store.Subjects(),
			RateLimits:  store.RateLimits(),
			Tokens:      store.Tokens(),
		},
	}
}

// Ping checks the database; the memory store is always reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Ping(ctx)
}

func (a *App) StorageBackend() string {
	if a.DB == nil {
		return StorageBackendMemory
	}
	return StorageBackendPostgres
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		utils.Logger.Info("Database connection closed.")
	}
}

// newDBPool constructs the pgx pool with production-safe settings.
//
//   - MaxConnIdleTime closes idle sockets before the edge proxy does (~60 s)
//   - HealthCheckPeriod keeps every pooled connection warm
func newDBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConnIdleTime = 2 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	return pgxpool.ConnectConfig(ctx, cfg)
}
