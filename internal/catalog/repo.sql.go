package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recyleto/recyleto/internal/platform/db"
	"github.com/recyleto/recyleto/internal/shared"
)

// Repository persists medicine stock in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const medicineColumns = `id, pharmacy_id, name, generic_name, COALESCE(form,''), COALESCE(pack_size,''),
COALESCE(batch_number,''), expiry_date, COALESCE(manufacturer,''), quantity, unit_price, cost_price, updated_at`

func scanMedicine(row pgx.Row) (Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.PharmacyID, &m.Name, &m.GenericName, &m.Form, &m.PackSize,
		&m.BatchNumber, &m.ExpiryDate, &m.Manufacturer, &m.Quantity, &m.UnitPrice, &m.CostPrice, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Medicine{}, shared.ErrNotFound
		}
		return Medicine{}, err
	}
	return m, nil
}

// GetMedicine loads one medicine scoped to a pharmacy.
func (r *Repository) GetMedicine(ctx context.Context, pharmacyID, id int64) (Medicine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE pharmacy_id=$1 AND id=$2`, pharmacyID, id)
	return scanMedicine(row)
}

// AdjustQuantity applies one signed delta as a single atomic statement. The
// guard keeps quantity at or above zero; a non-matching row either does not
// exist or lacks stock, which the follow-up read distinguishes.
func (r *Repository) AdjustQuantity(ctx context.Context, pharmacyID, id, delta int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE medicines SET quantity = quantity + $3, updated_at = NOW()
WHERE pharmacy_id=$1 AND id=$2 AND quantity + $3 >= 0`, pharmacyID, id, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		m, getErr := r.GetMedicine(ctx, pharmacyID, id)
		if getErr != nil {
			return fmt.Errorf("medicine %d: %w", id, shared.ErrNotFound)
		}
		return fmt.Errorf("%s (available %d, delta %d): %w", m.Name, m.Quantity, delta, shared.ErrInsufficientStock)
	}
	return nil
}

// AdjustQuantities applies a batch of deltas all-or-nothing inside one
// transaction. Rows are locked in medicine-id order to avoid deadlocks; the
// first medicine failing the guard aborts the whole batch.
func (r *Repository) AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []QuantityDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	ordered := make([]QuantityDelta, len(deltas))
	copy(ordered, deltas)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].MedicineID < ordered[j-1].MedicineID; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, d := range ordered {
			var name string
			var qty int64
			err := tx.QueryRow(ctx,
				`SELECT name, quantity FROM medicines WHERE pharmacy_id=$1 AND id=$2 FOR UPDATE`,
				pharmacyID, d.MedicineID).Scan(&name, &qty)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("medicine %d: %w", d.MedicineID, shared.ErrNotFound)
				}
				return err
			}
			if qty+d.Delta < 0 {
				return fmt.Errorf("%s (available %d, requested %d): %w", name, qty, -d.Delta, shared.ErrInsufficientStock)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE medicines SET quantity = quantity + $3, updated_at = NOW() WHERE pharmacy_id=$1 AND id=$2`,
				pharmacyID, d.MedicineID, d.Delta); err != nil {
				return err
			}
		}
		return nil
	})
}
