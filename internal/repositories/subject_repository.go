package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/poofware/passkey-service/internal/models"
)

// SubjectRepository is the read-only user lookup.
type SubjectRepository interface {
	// GetByID returns nil, nil when the subject does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subject, error)
}

type subjectRepo struct {
	db DB
}

func NewSubjectRepository(db DB) SubjectRepository {
	return &subjectRepo{db: db}
}

func (r *subjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subject, error) {
	row := r.db.QueryRow(ctx, `
        SELECT id, email, display_name, created_at
        FROM users
        WHERE id = $1
    `, id)

	var s models.Subject
	err := row.Scan(&s.ID, &s.Email, &s.DisplayName, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
