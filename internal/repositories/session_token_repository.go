package repositories

import (
	"context"

	"github.com/poofware/passkey-service/internal/models"
	"github.com/poofware/passkey-service/internal/utils"
)

// SessionTokenRepository stores refresh tokens minted by passkey sign-in.
type SessionTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	CleanupExpiredRefreshTokens(ctx context.Context) (int64, error)
}

type sessionTokenRepository struct {
	db DB
}

func NewSessionTokenRepository(db DB) SessionTokenRepository {
	return &sessionTokenRepository{db: db}
}

func (r *sessionTokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	query := `
        INSERT INTO passkey_refresh_tokens (id, user_id, refresh_token, expires_at, created_at, ip_address, device_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.db.Exec(ctx, query,
		token.ID,
		token.UserID,
		utils.HashToken(token.Token),
		token.ExpiresAt,
		token.CreatedAt,
		token.IPAddress,
		token.DeviceID,
	)
	return err
}

func (r *sessionTokenRepository) CleanupExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM passkey_refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
