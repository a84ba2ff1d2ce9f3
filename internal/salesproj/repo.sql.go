package salesproj

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recyleto/recyleto/internal/shared"
)

// Repository persists sale projections in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const saleColumns = `id, pharmacy_id, transaction_id, transaction_number, COALESCE(receipt_number,''),
subtotal, discount, tax, delivery_fee, total, cost, profit,
payment_method, status, COALESCE(last_refund_number,''), refunded_amount,
sold_at, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.PharmacyID, &s.TransactionID, &s.TransactionNumber, &s.ReceiptNumber,
		&s.Subtotal, &s.Discount, &s.Tax, &s.DeliveryFee, &s.Total, &s.Cost, &s.Profit,
		&s.PaymentMethod, &s.Status, &s.LastRefundNumber, &s.RefundedAmount,
		&s.SoldAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, shared.ErrNotFound
		}
		return Sale{}, err
	}
	return s, nil
}

// Create inserts a projection with its lines. The unique index on
// transaction_id makes replay a Conflict the service treats as done.
func (r *Repository) Create(ctx context.Context, s Sale) (Sale, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Sale{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `INSERT INTO sales
(pharmacy_id, transaction_id, transaction_number, receipt_number,
 subtotal, discount, tax, delivery_fee, total, cost, profit,
 payment_method, status, refunded_amount, sold_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,0,$14)
RETURNING id, created_at, updated_at`,
		s.PharmacyID, s.TransactionID, s.TransactionNumber, s.ReceiptNumber,
		s.Subtotal, s.Discount, s.Tax, s.DeliveryFee, s.Total, s.Cost, s.Profit,
		s.PaymentMethod, s.Status, s.SoldAt)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Sale{}, fmt.Errorf("projection exists for transaction %d: %w", s.TransactionID, shared.ErrConflict)
		}
		return Sale{}, err
	}
	for i := range s.Items {
		it := &s.Items[i]
		if err := tx.QueryRow(ctx, `INSERT INTO sale_items
(sale_id, medicine_id, name, quantity, unit_price, cost_price, line_total, profit)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			s.ID, it.MedicineID, it.Name, it.Quantity, it.UnitPrice, it.CostPrice, it.LineTotal, it.Profit).Scan(&it.ID); err != nil {
			return Sale{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Sale{}, err
	}
	return s, nil
}

func (r *Repository) loadItems(ctx context.Context, saleID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, medicine_id, name, quantity, unit_price, cost_price, line_total, profit
FROM sale_items WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.MedicineID, &it.Name, &it.Quantity, &it.UnitPrice, &it.CostPrice, &it.LineTotal, &it.Profit); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByTransactionID loads the projection of one transaction.
func (r *Repository) GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+`
FROM sales WHERE pharmacy_id=$1 AND transaction_id=$2`, pharmacyID, transactionID)
	s, err := scanSale(row)
	if err != nil {
		return Sale{}, err
	}
	s.Items, err = r.loadItems(ctx, s.ID)
	return s, err
}

// ApplyRefund folds refund bookkeeping into the projection row.
func (r *Repository) ApplyRefund(ctx context.Context, pharmacyID, transactionID int64, refundNumber string, refundedAmount float64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sales SET
last_refund_number=NULLIF($3,''), refunded_amount=$4, status=$5, updated_at=NOW()
WHERE pharmacy_id=$1 AND transaction_id=$2`, pharmacyID, transactionID, refundNumber, refundedAmount, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("projection for transaction %d: %w", transactionID, shared.ErrNotFound)
	}
	return nil
}

// List returns projections matching a filter, newest first.
func (r *Repository) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Sale, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + saleColumns + ` FROM sales WHERE pharmacy_id=$1`)
	args := []any{pharmacyID}
	if f.Status != "" {
		args = append(args, f.Status)
		fmt.Fprintf(&sb, " AND status=$%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND sold_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND sold_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY sold_at DESC")
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
