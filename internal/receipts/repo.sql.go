package receipts

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

// ErrNumberTaken signals a receipt number collision. The service retries
// with a fresh number; it never reaches callers.
var ErrNumberTaken = errors.New("receipt number already taken")

// Repository persists receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const receiptColumns = `id, pharmacy_id, number, transaction_id, transaction_number,
subtotal, discount, tax, delivery_fee, total,
payment_method, COALESCE(payment_reference,''),
COALESCE(customer_name,''), COALESCE(customer_phone,''), COALESCE(customer_email,''), issued_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	err := row.Scan(&rc.ID, &rc.PharmacyID, &rc.Number, &rc.TransactionID, &rc.TransactionNumber,
		&rc.Subtotal, &rc.Discount, &rc.Tax, &rc.DeliveryFee, &rc.Total,
		&rc.PaymentMethod, &rc.PaymentReference,
		&rc.CustomerName, &rc.CustomerPhone, &rc.CustomerEmail, &rc.IssuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, shared.ErrNotFound
		}
		return Receipt{}, err
	}
	return rc, nil
}

// Create inserts a receipt with its lines. The unique index on
// transaction_id enforces one receipt per transaction and surfaces as
// Conflict; a number collision surfaces as ErrNumberTaken.
func (r *Repository) Create(ctx context.Context, rc Receipt) (Receipt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `INSERT INTO receipts
(pharmacy_id, number, transaction_id, transaction_number,
 subtotal, discount, tax, delivery_fee, total,
 payment_method, payment_reference, customer_name, customer_phone, customer_email, issued_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),NULLIF($12,''),NULLIF($13,''),NULLIF($14,''),$15)
RETURNING id`,
		rc.PharmacyID, rc.Number, rc.TransactionID, rc.TransactionNumber,
		rc.Subtotal, rc.Discount, rc.Tax, rc.DeliveryFee, rc.Total,
		rc.PaymentMethod, rc.PaymentReference, rc.CustomerName, rc.CustomerPhone, rc.CustomerEmail, rc.IssuedAt)
	if err := row.Scan(&rc.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "number") {
				return Receipt{}, ErrNumberTaken
			}
			return Receipt{}, fmt.Errorf("receipt exists for transaction %d: %w", rc.TransactionID, shared.ErrConflict)
		}
		return Receipt{}, err
	}
	for i := range rc.Items {
		it := &rc.Items[i]
		if err := tx.QueryRow(ctx, `INSERT INTO receipt_items
(receipt_id, medicine_id, name, quantity, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			rc.ID, it.MedicineID, it.Name, it.Quantity, it.UnitPrice, it.LineTotal).Scan(&it.ID); err != nil {
			return Receipt{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

func (r *Repository) loadItems(ctx context.Context, receiptID int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, medicine_id, name, quantity, unit_price, line_total
FROM receipt_items WHERE receipt_id=$1 ORDER BY id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.MedicineID, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetByNumber loads one receipt with its lines.
func (r *Repository) GetByNumber(ctx context.Context, pharmacyID int64, number string) (Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+`
FROM receipts WHERE pharmacy_id=$1 AND number=$2`, pharmacyID, number)
	rc, err := scanReceipt(row)
	if err != nil {
		return Receipt{}, err
	}
	rc.Items, err = r.loadItems(ctx, rc.ID)
	return rc, err
}

// GetByTransactionID loads the receipt issued for one transaction.
func (r *Repository) GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+`
FROM receipts WHERE pharmacy_id=$1 AND transaction_id=$2`, pharmacyID, transactionID)
	rc, err := scanReceipt(row)
	if err != nil {
		return Receipt{}, err
	}
	rc.Items, err = r.loadItems(ctx, rc.ID)
	return rc, err
}

// GetByID loads a receipt by primary key.
func (r *Repository) GetByID(ctx context.Context, pharmacyID, id int64) (Receipt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+`
FROM receipts WHERE pharmacy_id=$1 AND id=$2`, pharmacyID, id)
	rc, err := scanReceipt(row)
	if err != nil {
		return Receipt{}, err
	}
	rc.Items, err = r.loadItems(ctx, rc.ID)
	return rc, err
}

// List returns receipt headers matching a filter, newest first.
func (r *Repository) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Receipt, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + receiptColumns + ` FROM receipts WHERE pharmacy_id=$1`)
	args := []any{pharmacyID}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&sb, " AND issued_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&sb, " AND issued_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY issued_at DESC")
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
	var out []Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
