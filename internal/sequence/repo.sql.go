package sequence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository persists sequence counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment bumps the counter row for (prefix, scope) and returns the new value.
// The upsert is a single atomic statement, so concurrent callers each observe
// a distinct value.
func (r *Repository) Increment(ctx context.Context, prefix, scope string) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `INSERT INTO sequence_counters (prefix, scope, value, updated_at)
VALUES ($1, $2, 1, NOW())
ON CONFLICT (prefix, scope) DO UPDATE SET value = sequence_counters.value + 1, updated_at = NOW()
RETURNING value`, prefix, scope).Scan(&value)
	if err != nil {
		if db.IsSerializationFailure(err) {
			return 0, RetryableError{Err: err}
		}
		return 0, err
	}
	return value, nil
}
