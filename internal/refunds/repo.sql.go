package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recyleto/recyleto/internal/shared"
)

// Repository persists refunds in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const refundColumns = `id, pharmacy_id, number, receipt_id, receipt_number, transaction_id,
amount, status, reason, COALESCE(rejection_reason,''), COALESCE(payment_method,''),
requested_by, approved_by, approved_at, completed_at, created_at, updated_at`

func scanRefund(row pgx.Row) (Refund, error) {
	var rf Refund
	err := row.Scan(&rf.ID, &rf.PharmacyID, &rf.Number, &rf.ReceiptID, &rf.ReceiptNumber, &rf.TransactionID,
		&rf.Amount, &rf.Status, &rf.Reason, &rf.RejectionReason, &rf.PaymentMethod,
		&rf.RequestedBy, &rf.ApprovedBy, &rf.ApprovedAt, &rf.CompletedAt, &rf.CreatedAt, &rf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Refund{}, shared.ErrNotFound
		}
		return Refund{}, err
	}
	return rf, nil
}

// Create inserts a pending refund with its lines. The partial unique index
// on receipt_id for outstanding rows backs the one-outstanding-per-receipt
// rule; a collision surfaces as Conflict.
func (r *Repository) Create(ctx context.Context, rf Refund) (Refund, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Refund{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `INSERT INTO refunds
(pharmacy_id, number, receipt_id, receipt_number, transaction_id, amount, status, reason, requested_by)
VALUES ($1,$2,$3,$4,$5,$6,'pending',$7,$8)
RETURNING id, created_at, updated_at`,
		rf.PharmacyID, rf.Number, rf.ReceiptID, rf.ReceiptNumber, rf.TransactionID,
		rf.Amount, rf.Reason, rf.RequestedBy)
	if err := row.Scan(&rf.ID, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Refund{}, fmt.Errorf("outstanding refund already exists for receipt %s: %w", rf.ReceiptNumber, shared.ErrConflict)
		}
		return Refund{}, err
	}
	for i := range rf.Items {
		it := &rf.Items[i]
		if err := tx.QueryRow(ctx, `INSERT INTO refund_items
(refund_id, medicine_id, name, original_quantity, refund_quantity, unit_price, line_amount)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			rf.ID, it.MedicineID, it.Name, it.OriginalQuantity, it.RefundQuantity, it.UnitPrice, it.LineAmount).Scan(&it.ID); err != nil {
			return Refund{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Refund{}, err
	}
	rf.Status = StatusPending
	return rf, nil
}

func (r *Repository) loadItems(ctx context.Context, refundID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, medicine_id, name, original_quantity, refund_quantity, unit_price, line_amount
FROM refund_items WHERE refund_id=$1 ORDER BY id`, refundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.MedicineID, &it.Name, &it.OriginalQuantity, &it.RefundQuantity, &it.UnitPrice, &it.LineAmount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByID loads one refund with its lines.
func (r *Repository) GetByID(ctx context.Context, pharmacyID, id int64) (Refund, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+refundColumns+`
FROM refunds WHERE pharmacy_id=$1 AND id=$2`, pharmacyID, id)
	rf, err := scanRefund(row)
	if err != nil {
		return Refund{}, err
	}
	rf.Items, err = r.loadItems(ctx, rf.ID)
	return rf, err
}

// ListByReceipt returns every refund ever raised against one receipt, with
// lines. Remaining-quantity checks need the full history.
func (r *Repository) ListByReceipt(ctx context.Context, pharmacyID, receiptID int64) ([]Refund, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+refundColumns+`
FROM refunds WHERE pharmacy_id=$1 AND receipt_id=$2 ORDER BY created_at`, pharmacyID, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = r.loadItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListByTransaction returns refund headers for one transaction.
func (r *Repository) ListByTransaction(ctx context.Context, pharmacyID, transactionID int64) ([]Refund, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+refundColumns+`
FROM refunds WHERE pharmacy_id=$1 AND transaction_id=$2 ORDER BY created_at`, pharmacyID, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

// List returns refund headers matching a filter, newest first.
func (r *Repository) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Refund, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + refundColumns + ` FROM refunds WHERE pharmacy_id=$1`)
	args := []any{pharmacyID}
	if f.Status != "" {
		args = append(args, f.Status)
		fmt.Fprintf(&sb, " AND status=$%d", len(args))
	}
	if f.ReceiptID != 0 {
		args = append(args, f.ReceiptID)
		fmt.Fprintf(&sb, " AND receipt_id=$%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC")
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
	var out []Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

// Approve flips pending → approved atomically.
func (r *Repository) Approve(ctx context.Context, pharmacyID, id, approverID int64, paymentMethod string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE refunds SET
status='approved', approved_by=$3, approved_at=$4, payment_method=NULLIF($5,''), updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status='pending'`, pharmacyID, id, approverID, at, paymentMethod)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleTransition(ctx, pharmacyID, id, StatusPending)
	}
	return nil
}

// Reject flips pending → rejected with a reason.
func (r *Repository) Reject(ctx context.Context, pharmacyID, id int64, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE refunds SET
status='rejected', rejection_reason=$3, updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status='pending'`, pharmacyID, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleTransition(ctx, pharmacyID, id, StatusPending)
	}
	return nil
}

// Complete flips approved → completed, marking the payout done.
func (r *Repository) Complete(ctx context.Context, pharmacyID, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE refunds SET
status='completed', completed_at=$3, updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status='approved'`, pharmacyID, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleTransition(ctx, pharmacyID, id, StatusApproved)
	}
	return nil
}

// Cancel flips an outstanding refund to cancelled.
func (r *Repository) Cancel(ctx context.Context, pharmacyID, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE refunds SET
status='cancelled', updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status IN ('pending','approved')`, pharmacyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleTransition(ctx, pharmacyID, id, StatusPending)
	}
	return nil
}

func (r *Repository) classifyStaleTransition(ctx context.Context, pharmacyID, id int64, want Status) error {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM refunds WHERE pharmacy_id=$1 AND id=$2`, pharmacyID, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("refund %d: %w", id, shared.ErrNotFound)
		}
		return err
	}
	return fmt.Errorf("refund %d is %s, wanted %s: %w", id, status, want, shared.ErrInvalidState)
}
