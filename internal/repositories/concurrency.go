package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

const defaultUpdateRetries = 3

// EntityWithVersion is implemented by rows guarded by a row_version column.
type EntityWithVersion interface {
	comparable
	GetID() string
	GetRowVersion() int64
	SetRowVersion(int64)
}

type UpdateIfVersionFunc[T EntityWithVersion] func(
	ctx context.Context,
	entity T,
	expectedVersion int64,
) (pgconn.CommandTag, error)

type GetFunc[T EntityWithVersion] func(ctx context.Context) (T, error)

// WithRetry runs a read-mutate-update loop with optimistic locking. mutate
// always sees a fresh read, so it may re-check invariants and abort by
// returning an error.
func WithRetry[T EntityWithVersion](
	ctx context.Context,
	maxRetries int,
	get GetFunc[T],
	updateIfVersion UpdateIfVersionFunc[T],
	mutate func(T) error,
) error {
	var lastID string
	for attempt := 0; attempt < maxRetries; attempt++ {
		current, err := get(ctx)
		if err != nil {
			return err
		}

		var zero T
		if current == zero {
			return pgx.ErrNoRows
		}
		lastID = current.GetID()

		oldVersion := current.GetRowVersion()
		if err := mutate(current); err != nil {
			return err
		}

		tag, err := updateIfVersion(ctx, current, oldVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			current.SetRowVersion(oldVersion + 1)
			return nil
		}
		// someone else updated first, go again
	}
	return fmt.Errorf("%w: too much contention updating %q", ErrNoRowsUpdated, lastID)
}
