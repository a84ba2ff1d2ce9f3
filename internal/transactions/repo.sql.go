package transactions

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

// Repository persists transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const transactionColumns = `id, pharmacy_id, kind, number, reference, status,
subtotal, discount, tax, delivery_fee, total,
payment_method, payment_amount, payment_status, payment_reference, payment_due_date,
delivery_method, delivery_address, delivery_locality,
COALESCE(customer_name,''), COALESCE(customer_phone,''), COALESCE(customer_email,''),
COALESCE(cancel_reason,''), checked_out_at, expires_at, last_activity_at, version,
created_by, updated_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var payMethod, payStatus, payRef, delMethod, delAddress, delLocality *string
	var payAmount *float64
	var payDue *time.Time
	err := row.Scan(&t.ID, &t.PharmacyID, &t.Kind, &t.Number, &t.Reference, &t.Status,
		&t.Subtotal, &t.Discount, &t.Tax, &t.DeliveryFee, &t.Total,
		&payMethod, &payAmount, &payStatus, &payRef, &payDue,
		&delMethod, &delAddress, &delLocality,
		&t.CustomerName, &t.CustomerPhone, &t.CustomerEmail,
		&t.CancelReason, &t.CheckedOutAt, &t.ExpiresAt, &t.LastActivityAt, &t.Version,
		&t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, shared.ErrNotFound
		}
		return Transaction{}, err
	}
	if payMethod != nil && *payMethod != "" {
		t.Payment = &Payment{Method: *payMethod, Status: deref(payStatus), Reference: deref(payRef), DueDate: payDue}
		if payAmount != nil {
			t.Payment.Amount = *payAmount
		}
	}
	if delMethod != nil && *delMethod != "" {
		t.Delivery = &Delivery{Method: *delMethod, Address: deref(delAddress), Locality: deref(delLocality), Fee: t.DeliveryFee}
	}
	return t, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q rowQuerier, txID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, medicine_id, name, quantity, unit_price, line_total,
COALESCE(batch_number,''), expiry_date
FROM transaction_items WHERE transaction_id=$1 ORDER BY id`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.MedicineID, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal,
			&it.BatchNumber, &it.ExpiryDate); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func insertItems(ctx context.Context, tx pgx.Tx, txID int64, items []Item) error {
	for _, it := range items {
		if _, err := tx.Exec(ctx, `INSERT INTO transaction_items
(transaction_id, medicine_id, name, quantity, unit_price, line_total, batch_number, expiry_date)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8)`,
			txID, it.MedicineID, it.Name, it.Quantity, it.UnitPrice, it.LineTotal, it.BatchNumber, it.ExpiryDate); err != nil {
			return err
		}
	}
	return nil
}

// CreatePending inserts a new pending transaction with its items. The
// partial unique index on (pharmacy_id, kind) for pending rows enforces the
// single-active-cart rule; a collision surfaces as Conflict.
func (r *Repository) CreatePending(ctx context.Context, t Transaction) (Transaction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `INSERT INTO transactions
(pharmacy_id, kind, number, reference, status, subtotal, discount, tax, delivery_fee, total,
 customer_name, customer_phone, customer_email, expires_at, last_activity_at, version, created_by, updated_by)
VALUES ($1,$2,$3,$4,'pending',$5,$6,$7,$8,$9,NULLIF($10,''),NULLIF($11,''),NULLIF($12,''),$13,NOW(),1,$14,$14)
RETURNING id, created_at, updated_at, last_activity_at`,
		t.PharmacyID, t.Kind, t.Number, t.Reference,
		t.Subtotal, t.Discount, t.Tax, t.DeliveryFee, t.Total,
		t.CustomerName, t.CustomerPhone, t.CustomerEmail, t.ExpiresAt, t.CreatedBy)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.LastActivityAt); err != nil {
		if isUniqueViolation(err) {
			return Transaction{}, fmt.Errorf("pending %s transaction already exists: %w", t.Kind, shared.ErrConflict)
		}
		return Transaction{}, err
	}
	if err := insertItems(ctx, tx, t.ID, t.Items); err != nil {
		return Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	t.Status = StatusPending
	t.Version = 1
	return t, nil
}

// GetPending loads the single pending transaction for a scope.
func (r *Repository) GetPending(ctx context.Context, pharmacyID int64, kind Kind) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+`
FROM transactions WHERE pharmacy_id=$1 AND kind=$2 AND status='pending'`, pharmacyID, kind)
	t, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, t.ID)
	return t, err
}

// GetByID loads one transaction with its items.
func (r *Repository) GetByID(ctx context.Context, pharmacyID, id int64) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+`
FROM transactions WHERE pharmacy_id=$1 AND id=$2`, pharmacyID, id)
	t, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, t.ID)
	return t, err
}

// GetByNumber loads one transaction by its document number.
func (r *Repository) GetByNumber(ctx context.Context, pharmacyID int64, number string) (Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+`
FROM transactions WHERE pharmacy_id=$1 AND number=$2`, pharmacyID, number)
	t, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, err
	}
	t.Items, err = loadItems(ctx, r.pool, t.ID)
	return t, err
}

// List returns transaction headers matching a filter, newest first. Items
// are not loaded for listings.
func (r *Repository) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE pharmacy_id=$1`)
	args := []any{pharmacyID}
	if f.Kind != "" {
		args = append(args, f.Kind)
		fmt.Fprintf(&sb, " AND kind=$%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		fmt.Fprintf(&sb, " AND status=$%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND created_at <= $%d", len(args))
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
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceItems rewrites a pending transaction's lines and totals in one
// database transaction. The version guard rejects concurrent writers.
func (r *Repository) ReplaceItems(ctx context.Context, pharmacyID, id, version int64, items []Item, totals Totals, expiresAt time.Time, updatedBy int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE transactions SET
subtotal=$4, discount=$5, tax=$6, delivery_fee=$7, total=$8,
expires_at=$9, last_activity_at=NOW(), version=version+1, updated_by=$10, updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status='pending' AND version=$3`,
		pharmacyID, id, version,
		totals.Subtotal, totals.Discount, totals.Tax, totals.DeliveryFee, totals.Total,
		expiresAt, updatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleWrite(ctx, pharmacyID, id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM transaction_items WHERE transaction_id=$1`, id); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, id, items); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Complete flips pending → completed, freezing totals and recording payment,
// delivery and customer details. Checkout is the only caller.
func (r *Repository) Complete(ctx context.Context, p CompleteParams) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET
status='completed', subtotal=$4, discount=$5, tax=$6, delivery_fee=$7, total=$8,
payment_method=$9, payment_amount=$10, payment_status=$11, payment_reference=$12, payment_due_date=$13,
delivery_method=$14, delivery_address=NULLIF($15,''), delivery_locality=NULLIF($16,''),
customer_name=COALESCE(NULLIF($17,''), customer_name),
customer_phone=COALESCE(NULLIF($18,''), customer_phone),
customer_email=COALESCE(NULLIF($19,''), customer_email),
checked_out_at=$20, expires_at=NULL, last_activity_at=NOW(), version=version+1, updated_by=$21, updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status='pending' AND version=$3`,
		p.PharmacyID, p.ID, p.Version,
		p.Totals.Subtotal, p.Totals.Discount, p.Totals.Tax, p.Totals.DeliveryFee, p.Totals.Total,
		p.Payment.Method, p.Payment.Amount, p.Payment.Status, p.Payment.Reference, p.Payment.DueDate,
		p.Delivery.Method, p.Delivery.Address, p.Delivery.Locality,
		p.CustomerName, p.CustomerPhone, p.CustomerEmail,
		p.CheckedOutAt, p.UpdatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleWrite(ctx, p.PharmacyID, p.ID)
	}
	return nil
}

// Cancel flips pending → cancelled with a reason. Completed transactions
// cannot be cancelled, only refunded.
func (r *Repository) Cancel(ctx context.Context, pharmacyID, id int64, reason string, updatedBy int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET
status='cancelled', cancel_reason=$3, last_activity_at=NOW(), version=version+1, updated_by=$4, updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status='pending'`, pharmacyID, id, reason, updatedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyStaleWrite(ctx, pharmacyID, id)
	}
	return nil
}

// SetStatus moves a transaction along a refund-derived edge. The WHERE
// clause keeps the transition atomic against concurrent refund approvals.
func (r *Repository) SetStatus(ctx context.Context, pharmacyID, id int64, from, to Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET
status=$4, version=version+1, updated_at=NOW()
WHERE pharmacy_id=$1 AND id=$2 AND status=$3`, pharmacyID, id, from, to)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d not in status %s: %w", id, from, shared.ErrInvalidState)
	}
	return nil
}

// SweepExpired cancels pending transactions whose cart TTL has lapsed.
func (r *Repository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET
status='cancelled', cancel_reason='expired', version=version+1, updated_at=NOW()
WHERE status='pending' AND expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// classifyStaleWrite turns a zero-row update into the precise caller error.
func (r *Repository) classifyStaleWrite(ctx context.Context, pharmacyID, id int64) error {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM transactions WHERE pharmacy_id=$1 AND id=$2`, pharmacyID, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
		}
		return err
	}
	if status != StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", id, status, shared.ErrInvalidState)
	}
	return fmt.Errorf("transaction %d was modified concurrently: %w", id, shared.ErrConflict)
}
