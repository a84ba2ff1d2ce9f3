package receipts

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

type memoryRepo struct {
	receipts map[int64]Receipt
	byTx     map[int64]int64
	byNumber map[string]int64
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		receipts: make(map[int64]Receipt),
		byTx:     make(map[int64]int64),
		byNumber: make(map[string]int64),
	}
}

func (r *memoryRepo) Create(ctx context.Context, rc Receipt) (Receipt, error) {
	if _, exists := r.byNumber[rc.Number]; exists {
		return Receipt{}, ErrNumberTaken
	}
	if _, exists := r.byTx[rc.TransactionID]; exists {
		return Receipt{}, fmt.Errorf("receipt exists for transaction %d: %w", rc.TransactionID, shared.ErrConflict)
	}
	r.nextID++
	rc.ID = r.nextID
	r.receipts[rc.ID] = rc
	r.byTx[rc.TransactionID] = rc.ID
	r.byNumber[rc.Number] = rc.ID
	return rc, nil
}

func (r *memoryRepo) GetByNumber(ctx context.Context, pharmacyID int64, number string) (Receipt, error) {
	id, ok := r.byNumber[number]
	if !ok || r.receipts[id].PharmacyID != pharmacyID {
		return Receipt{}, fmt.Errorf("receipt %s: %w", number, shared.ErrNotFound)
	}
	return r.receipts[id], nil
}

func (r *memoryRepo) GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (Receipt, error) {
	id, ok := r.byTx[transactionID]
	if !ok || r.receipts[id].PharmacyID != pharmacyID {
		return Receipt{}, fmt.Errorf("receipt for transaction %d: %w", transactionID, shared.ErrNotFound)
	}
	return r.receipts[id], nil
}

func (r *memoryRepo) GetByID(ctx context.Context, pharmacyID, id int64) (Receipt, error) {
	rc, ok := r.receipts[id]
	if !ok || rc.PharmacyID != pharmacyID {
		return Receipt{}, fmt.Errorf("receipt %d: %w", id, shared.ErrNotFound)
	}
	return rc, nil
}

func (r *memoryRepo) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Receipt, error) {
	var out []Receipt
	for _, rc := range r.receipts {
		if rc.PharmacyID == pharmacyID {
			out = append(out, rc)
		}
	}
	return out, nil
}

type dailyNumbers struct {
	seq int64
}

func (n *dailyNumbers) NextReceiptNumber(ctx context.Context, pharmacyID int64) (string, error) {
	n.seq++
	return fmt.Sprintf("RCP20260901%03d", n.seq), nil
}

func completedTransaction(id int64) transactions.Transaction {
	checkedOut := time.Now()
	return transactions.Transaction{
		ID:         id,
		PharmacyID: 10,
		Kind:       transactions.KindSale,
		Number:     fmt.Sprintf("SAL-%06d", id),
		Status:     transactions.StatusCompleted,
		Items: []transactions.Item{
			{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
		},
		Subtotal:     30.00,
		Total:        30.00,
		Payment:      &transactions.Payment{Method: "cash", Amount: 30.00, Status: "completed", Reference: "CASH-1"},
		CheckedOutAt: &checkedOut,
	}
}

func TestIssueSnapshotsTransaction(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &dailyNumbers{}, slog.Default())
	ctx := context.Background()

	rc, err := svc.Issue(ctx, completedTransaction(1))
	require.NoError(t, err)
	require.Equal(t, "RCP20260901001", rc.Number)
	require.Equal(t, int64(1), rc.TransactionID)
	require.Equal(t, "SAL-000001", rc.TransactionNumber)
	require.Len(t, rc.Items, 1)
	require.InDelta(t, 30.00, rc.Total, 0.001)
	require.Equal(t, "cash", rc.PaymentMethod)
}

func TestIssueIsIdempotentPerTransaction(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &dailyNumbers{}, slog.Default())
	ctx := context.Background()

	first, err := svc.Issue(ctx, completedTransaction(1))
	require.NoError(t, err)

	second, err := svc.Issue(ctx, completedTransaction(1))
	require.NoError(t, err, "retry after a crashed checkout must repair, not fail")
	require.Equal(t, first.Number, second.Number)
	require.Len(t, repo.receipts, 1, "exactly one receipt per transaction")
}

func TestIssueRejectsPendingTransaction(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &dailyNumbers{}, slog.Default())

	tx := completedTransaction(1)
	tx.Status = transactions.StatusPending
	_, err := svc.Issue(context.Background(), tx)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestIssueRetriesNumberCollisions(t *testing.T) {
	repo := newMemoryRepo()
	repo.byNumber["RCP20260901001"] = 999 // simulate an occupied number
	repo.receipts[999] = Receipt{ID: 999, PharmacyID: 10, Number: "RCP20260901001", TransactionID: 500}
	repo.byTx[500] = 999
	svc := NewService(repo, &dailyNumbers{}, slog.Default())

	rc, err := svc.Issue(context.Background(), completedTransaction(1))
	require.NoError(t, err)
	require.Equal(t, "RCP20260901002", rc.Number)
}
