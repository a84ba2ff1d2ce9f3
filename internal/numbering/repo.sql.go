package numbering

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists counters in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NextSeq atomically increments and returns the counter for one
// (pharmacy, scope, period) triple. Daily scopes pass the date as period;
// running scopes pass an empty period.
func (r *Repository) NextSeq(ctx context.Context, pharmacyID int64, scope Scope, period string) (int64, error) {
	const q = `
		INSERT INTO counters (pharmacy_id, scope, period, seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (pharmacy_id, scope, period)
		DO UPDATE SET seq = counters.seq + 1
		RETURNING seq`
	var seq int64
	if err := r.pool.QueryRow(ctx, q, pharmacyID, string(scope), period).Scan(&seq); err != nil {
		return 0, fmt.Errorf("numbering next seq: %w", err)
	}
	return seq, nil
}
