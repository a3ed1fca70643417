// passkey-service/internal/repositories/passkey_credential_repository.go
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"github.com/poofware/passkey-service/internal/models"
)

// PasskeyCredentialRepository persists credentials and owns the
// active/revoked transitions at the SQL level.
type PasskeyCredentialRepository interface {
	// Create inserts a new credential. A clash on credential_id returns
	// ErrDuplicateCredentialID.
	Create(ctx context.Context, c *models.PasskeyCredential) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PasskeyCredential, error)
	// GetByCredentialID ignores status.
	GetByCredentialID(ctx context.Context, credentialID string) (*models.PasskeyCredential, error)
	GetActiveByCredentialID(ctx context.Context, credentialID string) (*models.PasskeyCredential, error)
	GetActiveByCredentialIDAndUser(ctx context.Context, credentialID string, userID uuid.UUID) (*models.PasskeyCredential, error)
	// ListActiveByUser returns one page, newest first, plus the total count.
	ListActiveByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.PasskeyCredential, int, error)
	UpdateIfVersion(ctx context.Context, c *models.PasskeyCredential, expected int64) (pgconn.CommandTag, error)
	UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.PasskeyCredential) error) error
	// Revoke only touches an active row and reports whether it did.
	Revoke(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error)
	// RevokeInactive revokes every active credential last used before cutoff.
	RevokeInactive(ctx context.Context, cutoff time.Time, reason string, now time.Time) (int64, error)
}

type passkeyCredentialRepo struct {
	db DB
}

func NewPasskeyCredentialRepository(db DB) PasskeyCredentialRepository {
	return &passkeyCredentialRepo{db: db}
}

const passkeyCredentialColumns = `
    id, credential_id, user_id, public_key, counter, platform, aaguid,
    metadata, backup_eligible, backup_state, status, revoked_at,
    revoked_reason, last_used, created_at, updated_at, row_version
`

func (r *passkeyCredentialRepo) Create(ctx context.Context, c *models.PasskeyCredential) error {
	meta, err := toJSONB(c.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
        INSERT INTO passkey_credentials (
            id, credential_id, user_id, public_key, counter, platform, aaguid,
            metadata, backup_eligible, backup_state, status, revoked_at,
            revoked_reason, last_used, created_at, updated_at, row_version
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,1)
    `,
		c.ID, c.CredentialID, c.UserID, c.PublicKey, c.Counter, c.Platform, c.AAGUID,
		meta, c.BackupEligible, c.BackupState, string(c.Status), c.RevokedAt,
		c.RevokedReason, c.LastUsed, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateCredentialID
	}
	if err != nil {
		return err
	}
	c.RowVersion = 1
	return nil
}

func (r *passkeyCredentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PasskeyCredential, error) {
	row := r.db.QueryRow(ctx, `SELECT `+passkeyCredentialColumns+` FROM passkey_credentials WHERE id = $1`, id)
	return r.scanOne(row)
}

func (r *passkeyCredentialRepo) GetByCredentialID(ctx context.Context, credentialID string) (*models.PasskeyCredential, error) {
	row := r.db.QueryRow(ctx, `SELECT `+passkeyCredentialColumns+` FROM passkey_credentials WHERE credential_id = $1`, credentialID)
	return r.scanOne(row)
}

func (r *passkeyCredentialRepo) GetActiveByCredentialID(ctx context.Context, credentialID string) (*models.PasskeyCredential, error) {
	row := r.db.QueryRow(ctx, `
        SELECT `+passkeyCredentialColumns+`
        FROM passkey_credentials
        WHERE credential_id = $1 AND status = 'active'
    `, credentialID)
	return r.scanOne(row)
}

func (r *passkeyCredentialRepo) GetActiveByCredentialIDAndUser(
	ctx context.Context,
	credentialID string,
	userID uuid.UUID,
) (*models.PasskeyCredential, error) {
	row := r.db.QueryRow(ctx, `
        SELECT `+passkeyCredentialColumns+`
        FROM passkey_credentials
        WHERE credential_id = $1 AND user_id = $2 AND status = 'active'
    `, credentialID, userID)
	return r.scanOne(row)
}

func (r *passkeyCredentialRepo) ListActiveByUser(
	ctx context.Context,
	userID uuid.UUID,
	limit, offset int,
) ([]*models.PasskeyCredential, int, error) {
	var total int
	err := r.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM passkey_credentials
        WHERE user_id = $1 AND status = 'active'
    `, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
        SELECT `+passkeyCredentialColumns+`
        FROM passkey_credentials
        WHERE user_id = $1 AND status = 'active'
        ORDER BY created_at DESC, id
        LIMIT $2 OFFSET $3
    `, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*models.PasskeyCredential
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *passkeyCredentialRepo) UpdateIfVersion(
	ctx context.Context,
	c *models.PasskeyCredential,
	expected int64,
) (pgconn.CommandTag, error) {
	meta, err := toJSONB(c.Metadata)
	if err != nil {
		return nil, err
	}
	return r.db.Exec(ctx, `
        UPDATE passkey_credentials SET
            user_id = $2,
            public_key = $3,
            counter = $4,
            platform = $5,
            aaguid = $6,
            metadata = $7,
            backup_eligible = $8,
            backup_state = $9,
            status = $10,
            revoked_at = $11,
            revoked_reason = $12,
            last_used = $13,
            updated_at = $14,
            row_version = row_version + 1
        WHERE id = $1 AND row_version = $15
    `,
		c.ID, c.UserID, c.PublicKey, c.Counter, c.Platform, c.AAGUID, meta,
		c.BackupEligible, c.BackupState, string(c.Status), c.RevokedAt,
		c.RevokedReason, c.LastUsed, c.UpdatedAt, expected,
	)
}

func (r *passkeyCredentialRepo) UpdateWithRetry(
	ctx context.Context,
	id uuid.UUID,
	mutate func(*models.PasskeyCredential) error,
) error {
	get := func(ctx context.Context) (*models.PasskeyCredential, error) {
		return r.GetByID(ctx, id)
	}
	return WithRetry(ctx, defaultUpdateRetries, get, r.UpdateIfVersion, mutate)
}

func (r *passkeyCredentialRepo) Revoke(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE passkey_credentials SET
            status = 'revoked',
            revoked_at = $2,
            revoked_reason = $3,
            updated_at = $2,
            row_version = row_version + 1
        WHERE id = $1 AND status = 'active'
    `, id, now, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *passkeyCredentialRepo) RevokeInactive(
	ctx context.Context,
	cutoff time.Time,
	reason string,
	now time.Time,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE passkey_credentials SET
            status = 'revoked',
            revoked_at = $2,
            revoked_reason = $3,
            updated_at = $2,
            row_version = row_version + 1
        WHERE status = 'active' AND last_used < $1
    `, cutoff, now, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ----------------------------
// Scanning
// ----------------------------

func (r *passkeyCredentialRepo) scanOne(row pgx.Row) (*models.PasskeyCredential, error) {
	c, err := r.scan(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *passkeyCredentialRepo) scan(row rowScanner) (*models.PasskeyCredential, error) {
	var (
		c      models.PasskeyCredential
		status string
		meta   pgtype.JSONB
	)
	err := row.Scan(
		&c.ID,
		&c.CredentialID,
		&c.UserID,
		&c.PublicKey,
		&c.Counter,
		&c.Platform,
		&c.AAGUID,
		&meta,
		&c.BackupEligible,
		&c.BackupState,
		&status,
		&c.RevokedAt,
		&c.RevokedReason,
		&c.LastUsed,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.RowVersion,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.CredentialStatus(status)
	if err := fromJSONB(meta, &c.Metadata); err != nil {
		return nil, err
	}
	return &c, nil
}
