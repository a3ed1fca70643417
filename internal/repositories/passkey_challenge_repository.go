// passkey-service/internal/repositories/passkey_challenge_repository.go
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"github.com/poofware/passkey-service/internal/models"
)

// PasskeyChallengeRepository manages the lifecycle of single-use passkey
// challenges.
type PasskeyChallengeRepository interface {
	Create(ctx context.Context, c *models.PasskeyChallenge) error
	// FindLatest returns the single best challenge of the given type bound
	// to subjectID or fallbackSubjectID. Precedence: unexpired before
	// expired, subjectID before fallbackSubjectID, newest first. Returns
	// nil, nil when nothing matches.
	FindLatest(
		ctx context.Context,
		kind models.ChallengeType,
		subjectID, fallbackSubjectID uuid.UUID,
		now time.Time,
	) (*models.PasskeyChallenge, error)
	// Delete reports whether this call removed the row. Concurrent callers
	// racing on one challenge see true at most once.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteExpired removes every challenge with expires_at < now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type passkeyChallengeRepo struct {
	db DB
}

func NewPasskeyChallengeRepository(db DB) PasskeyChallengeRepository {
	return &passkeyChallengeRepo{db: db}
}

func (r *passkeyChallengeRepo) Create(ctx context.Context, c *models.PasskeyChallenge) error {
	var opts pgtype.JSONB
	var err error
	if c.RegistrationOptions != nil {
		opts, err = toJSONB(c.RegistrationOptions)
		if err != nil {
			return err
		}
	} else {
		opts = pgtype.JSONB{Status: pgtype.Null}
	}

	q := `
        INSERT INTO passkey_challenges (id, user_id, challenge, type, registration_options, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err = r.db.Exec(ctx, q, c.ID, c.UserID, c.Challenge, string(c.Type), opts, c.CreatedAt, c.ExpiresAt)
	return err
}

func (r *passkeyChallengeRepo) FindLatest(
	ctx context.Context,
	kind models.ChallengeType,
	subjectID, fallbackSubjectID uuid.UUID,
	now time.Time,
) (*models.PasskeyChallenge, error) {
	q := `
        SELECT id, user_id, challenge, type, registration_options, created_at, expires_at
        FROM passkey_challenges
        WHERE type = $1 AND user_id IN ($2, $3)
        ORDER BY (expires_at > $4) DESC, (user_id = $2) DESC, created_at DESC
        LIMIT 1
    `
	row := r.db.QueryRow(ctx, q, string(kind), subjectID, fallbackSubjectID, now)

	var (
		c    models.PasskeyChallenge
		typ  string
		opts pgtype.JSONB
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Challenge, &typ, &opts, &c.CreatedAt, &c.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Type = models.ChallengeType(typ)
	if opts.Status == pgtype.Present {
		c.RegistrationOptions = &models.RegistrationOptions{}
		if err := fromJSONB(opts, c.RegistrationOptions); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *passkeyChallengeRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM passkey_challenges WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *passkeyChallengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM passkey_challenges WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
