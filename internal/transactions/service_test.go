package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recyleto/recyleto/internal/shared"
)

type memoryRepo struct {
	txs    map[int64]*Transaction
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{txs: make(map[int64]*Transaction)}
}

func (r *memoryRepo) CreatePending(ctx context.Context, t Transaction) (Transaction, error) {
	for _, ex := range r.txs {
		if ex.PharmacyID == t.PharmacyID && ex.Kind == t.Kind && ex.Status == StatusPending {
			return Transaction{}, fmt.Errorf("pending %s transaction already exists: %w", t.Kind, shared.ErrConflict)
		}
	}
	r.nextID++
	t.ID = r.nextID
	t.Status = StatusPending
	t.Version = 1
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	t.LastActivityAt = t.CreatedAt
	cp := t
	r.txs[t.ID] = &cp
	return t, nil
}

func (r *memoryRepo) GetPending(ctx context.Context, pharmacyID int64, kind Kind) (Transaction, error) {
	for _, t := range r.txs {
		if t.PharmacyID == pharmacyID && t.Kind == kind && t.Status == StatusPending {
			return *t, nil
		}
	}
	return Transaction{}, fmt.Errorf("pending %s transaction: %w", kind, shared.ErrNotFound)
}

func (r *memoryRepo) GetByID(ctx context.Context, pharmacyID, id int64) (Transaction, error) {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID {
		return Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	return *t, nil
}

func (r *memoryRepo) GetByNumber(ctx context.Context, pharmacyID int64, number string) (Transaction, error) {
	for _, t := range r.txs {
		if t.PharmacyID == pharmacyID && t.Number == number {
			return *t, nil
		}
	}
	return Transaction{}, fmt.Errorf("transaction %s: %w", number, shared.ErrNotFound)
}

func (r *memoryRepo) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.txs {
		if t.PharmacyID != pharmacyID {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *memoryRepo) ReplaceItems(ctx context.Context, pharmacyID, id, version int64, items []Item, totals Totals, expiresAt time.Time, updatedBy int64) error {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID {
		return fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	if t.Status != StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", id, t.Status, shared.ErrInvalidState)
	}
	if t.Version != version {
		return fmt.Errorf("transaction %d was modified concurrently: %w", id, shared.ErrConflict)
	}
	t.Items = append([]Item(nil), items...)
	t.Subtotal, t.Discount, t.Tax, t.DeliveryFee, t.Total = totals.Subtotal, totals.Discount, totals.Tax, totals.DeliveryFee, totals.Total
	t.ExpiresAt = &expiresAt
	t.LastActivityAt = time.Now()
	t.Version++
	t.UpdatedBy = updatedBy
	return nil
}

func (r *memoryRepo) Complete(ctx context.Context, p CompleteParams) error {
	t, ok := r.txs[p.ID]
	if !ok || t.PharmacyID != p.PharmacyID {
		return fmt.Errorf("transaction %d: %w", p.ID, shared.ErrNotFound)
	}
	if t.Status != StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", p.ID, t.Status, shared.ErrInvalidState)
	}
	if t.Version != p.Version {
		return fmt.Errorf("transaction %d was modified concurrently: %w", p.ID, shared.ErrConflict)
	}
	t.Status = StatusCompleted
	t.Subtotal, t.Discount, t.Tax, t.DeliveryFee, t.Total = p.Totals.Subtotal, p.Totals.Discount, p.Totals.Tax, p.Totals.DeliveryFee, p.Totals.Total
	pay, del := p.Payment, p.Delivery
	t.Payment = &pay
	t.Delivery = &del
	if p.CustomerName != "" {
		t.CustomerName = p.CustomerName
	}
	if p.CustomerPhone != "" {
		t.CustomerPhone = p.CustomerPhone
	}
	if p.CustomerEmail != "" {
		t.CustomerEmail = p.CustomerEmail
	}
	checkedOutAt := p.CheckedOutAt
	t.CheckedOutAt = &checkedOutAt
	t.ExpiresAt = nil
	t.Version++
	t.UpdatedBy = p.UpdatedBy
	return nil
}

func (r *memoryRepo) Cancel(ctx context.Context, pharmacyID, id int64, reason string, updatedBy int64) error {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID {
		return fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	if t.Status != StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", id, t.Status, shared.ErrInvalidState)
	}
	t.Status = StatusCancelled
	t.CancelReason = reason
	t.Version++
	return nil
}

func (r *memoryRepo) SetStatus(ctx context.Context, pharmacyID, id int64, from, to Status) error {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID || t.Status != from {
		return fmt.Errorf("transaction %d not in status %s: %w", id, from, shared.ErrInvalidState)
	}
	t.Status = to
	t.Version++
	return nil
}

func (r *memoryRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, t := range r.txs {
		if t.Status == StatusPending && t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
			t.Status = StatusCancelled
			t.CancelReason = "expired"
			n++
		}
	}
	return n, nil
}

func seedCompleted(t *testing.T, repo *memoryRepo, pharmacyID int64, total float64) Transaction {
	t.Helper()
	tx, err := repo.CreatePending(context.Background(), Transaction{
		PharmacyID: pharmacyID,
		Kind:       KindSale,
		Number:     "SAL-000001",
		Items:      []Item{{MedicineID: 1, Name: "amoxicillin", Quantity: 3, UnitPrice: total / 3, LineTotal: total}},
	})
	require.NoError(t, err)
	err = repo.Complete(context.Background(), CompleteParams{
		PharmacyID:   pharmacyID,
		ID:           tx.ID,
		Version:      tx.Version,
		Totals:       Totals{Subtotal: total, Total: total},
		Payment:      Payment{Method: "cash", Amount: total, Status: "completed", Reference: "CASH-1"},
		Delivery:     Delivery{Method: "pickup"},
		CheckedOutAt: time.Now(),
		UpdatedBy:    99,
	})
	require.NoError(t, err)
	out, err := repo.GetByID(context.Background(), pharmacyID, tx.ID)
	require.NoError(t, err)
	return out
}

func TestCancelOnlyWhilePending(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, slog.Default(), nil)
	ctx := context.Background()
	principal := shared.Principal{PharmacyID: 10, UserID: 99}

	tx, err := repo.CreatePending(ctx, Transaction{PharmacyID: 10, Kind: KindSale, Number: "SAL-000001"})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, principal, tx.ID, "customer left"))

	got, err := svc.Get(ctx, 10, tx.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	err = svc.Cancel(ctx, principal, tx.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidState, "cancelled is terminal")

	completed := seedCompleted(t, repo, 10, 30.00)
	err = svc.Cancel(ctx, principal, completed.ID, "too late")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestApplyRefundTotalsEdges(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, slog.Default(), nil)
	ctx := context.Background()

	tx := seedCompleted(t, repo, 10, 30.00)

	require.NoError(t, svc.ApplyRefundTotals(ctx, 10, tx.ID, 10.00))
	got, _ := svc.Get(ctx, 10, tx.ID)
	require.Equal(t, StatusPartiallyRefunded, got.Status)

	require.NoError(t, svc.ApplyRefundTotals(ctx, 10, tx.ID, 10.00), "same total is a no-op")

	require.NoError(t, svc.ApplyRefundTotals(ctx, 10, tx.ID, 30.00))
	got, _ = svc.Get(ctx, 10, tx.ID)
	require.Equal(t, StatusRefunded, got.Status)

	err := svc.ApplyRefundTotals(ctx, 10, tx.ID, 10.00)
	require.ErrorIs(t, err, shared.ErrInvalidState, "refunded never moves back")
}

func TestApplyRefundTotalsRejectsPending(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, slog.Default(), nil)
	ctx := context.Background()

	tx, err := repo.CreatePending(ctx, Transaction{PharmacyID: 10, Kind: KindSale, Number: "SAL-000001"})
	require.NoError(t, err)
	err = svc.ApplyRefundTotals(ctx, 10, tx.ID, 5.00)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSweepExpired(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, slog.Default(), nil)
	ctx := context.Background()

	tx, err := repo.CreatePending(ctx, Transaction{PharmacyID: 10, Kind: KindSale, Number: "SAL-000001"})
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, repo.ReplaceItems(ctx, 10, tx.ID, tx.Version, nil, Totals{}, past, 99))

	n, err := svc.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	got, err := svc.Get(ctx, 10, tx.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
	require.Equal(t, "expired", got.CancelReason)
}
