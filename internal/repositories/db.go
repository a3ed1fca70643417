package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

// DB is the subset of *pgxpool.Pool (and pgx.Tx) the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	// ErrDuplicateCredentialID is returned by Create when another row
	// already holds the credential_id.
	ErrDuplicateCredentialID = errors.New("duplicate_credential_id")

	// ErrNoRowsUpdated is returned once optimistic retries are exhausted.
	ErrNoRowsUpdated = errors.New("no_rows_updated")
)

const pgUniqueViolation = "23505"

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func toJSONB(v any) (pgtype.JSONB, error) {
	if v == nil {
		return pgtype.JSONB{Status: pgtype.Null}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return pgtype.JSONB{}, err
	}
	return pgtype.JSONB{Bytes: b, Status: pgtype.Present}, nil
}

func fromJSONB(src pgtype.JSONB, dst any) error {
	if src.Status != pgtype.Present || len(src.Bytes) == 0 {
		return nil
	}
	return json.Unmarshal(src.Bytes, dst)
}
