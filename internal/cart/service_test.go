package cart

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/numbering"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

type memoryTxRepo struct {
	txs    map[int64]*transactions.Transaction
	nextID int64
}

func newMemoryTxRepo() *memoryTxRepo {
	return &memoryTxRepo{txs: make(map[int64]*transactions.Transaction)}
}

func (r *memoryTxRepo) CreatePending(ctx context.Context, t transactions.Transaction) (transactions.Transaction, error) {
	for _, ex := range r.txs {
		if ex.PharmacyID == t.PharmacyID && ex.Kind == t.Kind && ex.Status == transactions.StatusPending {
			return transactions.Transaction{}, fmt.Errorf("pending %s transaction already exists: %w", t.Kind, shared.ErrConflict)
		}
	}
	r.nextID++
	t.ID = r.nextID
	t.Status = transactions.StatusPending
	t.Version = 1
	t.LastActivityAt = time.Now()
	cp := t
	r.txs[t.ID] = &cp
	return t, nil
}

func (r *memoryTxRepo) GetPending(ctx context.Context, pharmacyID int64, kind transactions.Kind) (transactions.Transaction, error) {
	for _, t := range r.txs {
		if t.PharmacyID == pharmacyID && t.Kind == kind && t.Status == transactions.StatusPending {
			return *t, nil
		}
	}
	return transactions.Transaction{}, fmt.Errorf("pending %s transaction: %w", kind, shared.ErrNotFound)
}

func (r *memoryTxRepo) GetByID(ctx context.Context, pharmacyID, id int64) (transactions.Transaction, error) {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID {
		return transactions.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	return *t, nil
}

func (r *memoryTxRepo) GetByNumber(ctx context.Context, pharmacyID int64, number string) (transactions.Transaction, error) {
	for _, t := range r.txs {
		if t.PharmacyID == pharmacyID && t.Number == number {
			return *t, nil
		}
	}
	return transactions.Transaction{}, fmt.Errorf("transaction %s: %w", number, shared.ErrNotFound)
}

func (r *memoryTxRepo) List(ctx context.Context, pharmacyID int64, f transactions.ListFilter) ([]transactions.Transaction, error) {
	return nil, nil
}

func (r *memoryTxRepo) ReplaceItems(ctx context.Context, pharmacyID, id, version int64, items []transactions.Item, totals transactions.Totals, expiresAt time.Time, updatedBy int64) error {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID {
		return fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	if t.Status != transactions.StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", id, t.Status, shared.ErrInvalidState)
	}
	if t.Version != version {
		return fmt.Errorf("transaction %d was modified concurrently: %w", id, shared.ErrConflict)
	}
	t.Items = append([]transactions.Item(nil), items...)
	t.Subtotal, t.Discount, t.Tax, t.DeliveryFee, t.Total = totals.Subtotal, totals.Discount, totals.Tax, totals.DeliveryFee, totals.Total
	t.ExpiresAt = &expiresAt
	t.LastActivityAt = time.Now()
	t.Version++
	return nil
}

func (r *memoryTxRepo) Complete(ctx context.Context, p transactions.CompleteParams) error {
	return nil
}

func (r *memoryTxRepo) Cancel(ctx context.Context, pharmacyID, id int64, reason string, updatedBy int64) error {
	t, ok := r.txs[id]
	if !ok || t.PharmacyID != pharmacyID {
		return fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	if t.Status != transactions.StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", id, t.Status, shared.ErrInvalidState)
	}
	t.Status = transactions.StatusCancelled
	t.CancelReason = reason
	return nil
}

func (r *memoryTxRepo) SetStatus(ctx context.Context, pharmacyID, id int64, from, to transactions.Status) error {
	return nil
}

func (r *memoryTxRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memoryCatalog struct {
	meds map[int64]catalog.Medicine
}

func (c *memoryCatalog) GetMedicine(ctx context.Context, pharmacyID, id int64) (catalog.Medicine, error) {
	m, ok := c.meds[id]
	if !ok || m.PharmacyID != pharmacyID {
		return catalog.Medicine{}, fmt.Errorf("medicine %d: %w", id, shared.ErrNotFound)
	}
	return m, nil
}

type seqNumbers struct {
	seqs map[numbering.Scope]int64
}

func (n *seqNumbers) NextTransactionNumber(ctx context.Context, pharmacyID int64, scope numbering.Scope) (string, error) {
	if n.seqs == nil {
		n.seqs = make(map[numbering.Scope]int64)
	}
	n.seqs[scope]++
	prefix, _ := numbering.TransactionPrefix(scope)
	return fmt.Sprintf("%s-%06d", prefix, n.seqs[scope]), nil
}

func newTestService(t *testing.T) (*Service, *memoryTxRepo, *memoryCatalog) {
	t.Helper()
	repo := newMemoryTxRepo()
	cat := &memoryCatalog{meds: map[int64]catalog.Medicine{
		1: {ID: 1, PharmacyID: 10, Name: "paracetamol", Quantity: 20, UnitPrice: 2.50, BatchNumber: "B-77"},
		2: {ID: 2, PharmacyID: 10, Name: "amoxicillin", Quantity: 2, UnitPrice: 10.00},
	}}
	svc := NewService(repo, cat, &seqNumbers{}, slog.Default(), time.Hour)
	return svc, repo, cat
}

var principal = shared.Principal{PharmacyID: 10, UserID: 99}

func TestAddLineOpensCartAndSnapshotsPrice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 3, nil)
	require.NoError(t, err)
	require.Equal(t, "SAL-000001", c.Number)
	require.Len(t, c.Items, 1)
	require.Equal(t, "paracetamol", c.Items[0].Name)
	require.Equal(t, "B-77", c.Items[0].BatchNumber)
	require.InDelta(t, 7.50, c.Subtotal, 0.001)
	require.InDelta(t, 7.50, c.Total, 0.001)
}

func TestAddLineMergesSameMedicine(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 3, nil)
	require.NoError(t, err)
	c, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 2, nil)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, int64(5), c.Items[0].Quantity)
	require.InDelta(t, 12.50, c.Total, 0.001)
}

func TestAddLineRejectsOverAvailableForSale(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, principal, transactions.KindSale, 2, 3, nil)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Contains(t, err.Error(), "amoxicillin")
}

func TestAddLineAllowsOverAvailableForPurchase(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.AddLine(ctx, principal, transactions.KindPurchase, 2, 50, nil)
	require.NoError(t, err)
	require.Equal(t, "PUR-000001", c.Number)
	require.Equal(t, int64(50), c.Items[0].Quantity)
}

func TestAddLineUnitPriceOverride(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	price := 1.75
	c, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 2, &price)
	require.NoError(t, err)
	require.InDelta(t, 3.50, c.Total, 0.001)
}

func TestUpdateLineAndRemoveLine(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 3, nil)
	require.NoError(t, err)

	qty := int64(4)
	c, err := svc.UpdateLine(ctx, principal, transactions.KindSale, 1, &qty, nil)
	require.NoError(t, err)
	require.InDelta(t, 10.00, c.Total, 0.001)

	// Price alone leaves the quantity untouched.
	price := 2.00
	c, err = svc.UpdateLine(ctx, principal, transactions.KindSale, 1, nil, &price)
	require.NoError(t, err)
	require.Equal(t, int64(4), c.Items[0].Quantity)
	require.InDelta(t, 8.00, c.Total, 0.001)

	_, err = svc.UpdateLine(ctx, principal, transactions.KindSale, 1, nil, nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	one := int64(1)
	_, err = svc.UpdateLine(ctx, principal, transactions.KindSale, 2, &one, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)

	c, err = svc.RemoveLine(ctx, principal, transactions.KindSale, 1)
	require.NoError(t, err)
	require.Empty(t, c.Items)
	require.Equal(t, 0.0, c.Total)

	// Scope stays open; the next add reuses the same transaction.
	c2, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 1, nil)
	require.NoError(t, err)
	require.Equal(t, c.TransactionID, c2.TransactionID)
}

func TestDiscountAndTax(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 4, nil) // subtotal 10.00
	require.NoError(t, err)

	c, err := svc.ApplyDiscount(ctx, principal, transactions.KindSale, DiscountPercentage, 10)
	require.NoError(t, err)
	require.InDelta(t, 1.00, c.Discount, 0.001)
	require.InDelta(t, 9.00, c.Total, 0.001)

	c, err = svc.SetTax(ctx, principal, transactions.KindSale, 0.50)
	require.NoError(t, err)
	require.InDelta(t, 9.50, c.Total, 0.001)

	c, err = svc.ApplyDiscount(ctx, principal, transactions.KindSale, DiscountFixed, 100)
	require.NoError(t, err)
	require.InDelta(t, 10.00, c.Discount, 0.001, "fixed discount capped at subtotal")
	require.InDelta(t, 0.50, c.Total, 0.001)

	_, err = svc.ApplyDiscount(ctx, principal, transactions.KindSale, DiscountPercentage, 120)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestExpiredCartReadsAsAbsent(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 3, nil)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	tx := repo.txs[c.TransactionID]
	tx.ExpiresAt = &past

	_, err = svc.Get(ctx, principal, transactions.KindSale)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, transactions.StatusCancelled, repo.txs[c.TransactionID].Status)
	require.Equal(t, "expired", repo.txs[c.TransactionID].CancelReason)

	c2, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 1, nil)
	require.NoError(t, err)
	require.NotEqual(t, c.TransactionID, c2.TransactionID, "a fresh cart replaces the expired one")
	require.Equal(t, "SAL-000002", c2.Number)
}

func TestAddLineInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddLine(ctx, principal, transactions.KindSale, 1, 0, nil)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)

	_, err = svc.AddLine(ctx, principal, transactions.Kind("loan"), 1, 1, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.AddLine(ctx, principal, transactions.KindSale, 42, 1, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
