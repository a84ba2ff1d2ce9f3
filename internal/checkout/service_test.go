package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/receipts"
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
	r.nextID++
	t.ID = r.nextID
	t.Status = transactions.StatusPending
	t.Version = 1
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
	t := r.txs[id]
	t.Items = append([]transactions.Item(nil), items...)
	t.Subtotal, t.Discount, t.Tax, t.Total = totals.Subtotal, totals.Discount, totals.Tax, totals.Total
	t.Version++
	return nil
}

func (r *memoryTxRepo) Complete(ctx context.Context, p transactions.CompleteParams) error {
	t, ok := r.txs[p.ID]
	if !ok || t.PharmacyID != p.PharmacyID {
		return fmt.Errorf("transaction %d: %w", p.ID, shared.ErrNotFound)
	}
	if t.Status != transactions.StatusPending {
		return fmt.Errorf("transaction %d is %s: %w", p.ID, t.Status, shared.ErrInvalidState)
	}
	if t.Version != p.Version {
		return fmt.Errorf("transaction %d was modified concurrently: %w", p.ID, shared.ErrConflict)
	}
	t.Status = transactions.StatusCompleted
	t.Subtotal, t.Discount, t.Tax, t.DeliveryFee, t.Total = p.Totals.Subtotal, p.Totals.Discount, p.Totals.Tax, p.Totals.DeliveryFee, p.Totals.Total
	pay, del := p.Payment, p.Delivery
	t.Payment = &pay
	t.Delivery = &del
	t.CustomerName = p.CustomerName
	t.CustomerEmail = p.CustomerEmail
	at := p.CheckedOutAt
	t.CheckedOutAt = &at
	t.ExpiresAt = nil
	t.Version++
	return nil
}

func (r *memoryTxRepo) Cancel(ctx context.Context, pharmacyID, id int64, reason string, updatedBy int64) error {
	return nil
}

func (r *memoryTxRepo) SetStatus(ctx context.Context, pharmacyID, id int64, from, to transactions.Status) error {
	return nil
}

func (r *memoryTxRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

type memoryStock struct {
	names      map[int64]string
	quantities map[int64]int64
	failAll    bool
}

func (s *memoryStock) AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []catalog.QuantityDelta, actorID int64) error {
	if s.failAll {
		return fmt.Errorf("ledger offline: %w", shared.ErrInternalInconsistency)
	}
	for _, d := range deltas {
		if s.quantities[d.MedicineID]+d.Delta < 0 {
			return fmt.Errorf("%s (available %d, requested %d): %w",
				s.names[d.MedicineID], s.quantities[d.MedicineID], -d.Delta, shared.ErrInsufficientStock)
		}
	}
	for _, d := range deltas {
		s.quantities[d.MedicineID] += d.Delta
	}
	return nil
}

type memoryReceipts struct {
	byTx   map[int64]receipts.Receipt
	seq    int64
	issued int
	fail   bool
}

func newMemoryReceipts() *memoryReceipts {
	return &memoryReceipts{byTx: make(map[int64]receipts.Receipt)}
}

func (m *memoryReceipts) Issue(ctx context.Context, t transactions.Transaction) (receipts.Receipt, error) {
	if m.fail {
		return receipts.Receipt{}, fmt.Errorf("receipt store offline: %w", shared.ErrInternalInconsistency)
	}
	if existing, ok := m.byTx[t.ID]; ok {
		return existing, nil
	}
	m.seq++
	m.issued++
	rc := receipts.Receipt{
		ID:            m.seq,
		PharmacyID:    t.PharmacyID,
		Number:        fmt.Sprintf("RCP20260901%03d", m.seq),
		TransactionID: t.ID,
		Total:         t.Total,
	}
	m.byTx[t.ID] = rc
	return rc, nil
}

type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

type recordingEnqueuer struct {
	syncs []int64
	mails []int64
}

func (e *recordingEnqueuer) EnqueueTransactionSync(ctx context.Context, pharmacyID, transactionID int64) error {
	e.syncs = append(e.syncs, transactionID)
	return nil
}

func (e *recordingEnqueuer) EnqueueReceiptMail(ctx context.Context, pharmacyID, receiptID int64) error {
	e.mails = append(e.mails, receiptID)
	return nil
}

type recordingMetrics struct {
	outcomes []string
}

func (m *recordingMetrics) ObserveCheckout(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}

type fixture struct {
	svc      *Service
	repo     *memoryTxRepo
	stock    *memoryStock
	receipts *memoryReceipts
	enqueuer *recordingEnqueuer
	metrics  *recordingMetrics
}

func newFixture(t *testing.T, locker LockerPort) *fixture {
	t.Helper()
	f := &fixture{
		repo: newMemoryTxRepo(),
		stock: &memoryStock{
			names:      map[int64]string{1: "paracetamol", 2: "amoxicillin"},
			quantities: map[int64]int64{1: 10, 2: 2},
		},
		receipts: newMemoryReceipts(),
		enqueuer: &recordingEnqueuer{},
		metrics:  &recordingMetrics{},
	}
	if locker == nil {
		locker = noopLocker{}
	}
	f.svc = NewService(f.repo, f.stock, f.receipts, locker, f.enqueuer, f.metrics, nil, slog.Default(), testFees)
	return f
}

var principal = shared.Principal{PharmacyID: 10, UserID: 99}

func seedCart(t *testing.T, repo *memoryTxRepo, items []transactions.Item) transactions.Transaction {
	t.Helper()
	totals := transactions.ComputeTotals(items, 0, 0, 0)
	tx, err := repo.CreatePending(context.Background(), transactions.Transaction{
		PharmacyID: 10,
		Kind:       transactions.KindSale,
		Number:     "SAL-000001",
		Reference:  "ref-1",
		Items:      items,
		Subtotal:   totals.Subtotal,
		Total:      totals.Total,
	})
	require.NoError(t, err)
	return tx
}

func TestCheckoutCashHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	res, err := f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCompleted, res.Transaction.Status)
	require.InDelta(t, 30.00, res.Transaction.Total, 0.001)
	require.Equal(t, int64(7), f.stock.quantities[1], "stock decremented by sold quantity")
	require.Equal(t, 1, f.receipts.issued, "exactly one receipt issued")
	require.NotEmpty(t, res.Receipt.Number)
	require.Equal(t, []int64{res.Transaction.ID}, f.enqueuer.syncs)
	require.Equal(t, []string{"completed"}, f.metrics.outcomes)
}

func TestCheckoutInsufficientStockLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tx := seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 2, Name: "amoxicillin", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	_, err := f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Contains(t, err.Error(), "amoxicillin")
	require.Equal(t, int64(2), f.stock.quantities[2], "no stock mutation")
	require.Equal(t, transactions.StatusPending, f.repo.txs[tx.ID].Status, "transaction stays pending")
	require.Equal(t, 0, f.receipts.issued)
	require.Equal(t, []string{"insufficient_stock"}, f.metrics.outcomes)
}

func TestCheckoutMultiLineAllOrNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 5, UnitPrice: 2.00, LineTotal: 10.00},
		{MedicineID: 2, Name: "amoxicillin", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	_, err := f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(10), f.stock.quantities[1], "earlier lines are not committed when a later line fails")
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedCart(t, f.repo, nil)

	_, err := f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.ErrorIs(t, err, shared.ErrEmptyCart)
}

func TestCheckoutNoCart(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Checkout(context.Background(), principal, Request{PaymentMethod: "cash"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckoutPaymentRejectedBeforeStockCommit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tx := seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	_, err := f.svc.Checkout(ctx, principal, Request{
		PaymentMethod:  "card",
		PaymentDetails: PaymentDetails{CardNumber: "4111111111111111", CardExpiry: "12/27"},
	})
	require.ErrorIs(t, err, shared.ErrPaymentRejected)
	require.Equal(t, int64(10), f.stock.quantities[1])
	require.Equal(t, transactions.StatusPending, f.repo.txs[tx.ID].Status)
}

func TestCheckoutDeliveryFeeInTotal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	res, err := f.svc.Checkout(ctx, principal, Request{
		PaymentMethod: "cash",
		Delivery:      DeliveryRequest{Method: "delivery", Address: "Farm 2", Locality: "rural west"},
	})
	require.NoError(t, err)
	require.InDelta(t, 8.00, res.Transaction.DeliveryFee, 0.001)
	require.InDelta(t, 38.00, res.Transaction.Total, 0.001)
	require.InDelta(t, 38.00, res.Transaction.Payment.Amount, 0.001, "payment covers delivery")
}

func TestCheckoutPurchaseRestocks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	totals := transactions.ComputeTotals([]transactions.Item{{MedicineID: 2, Name: "amoxicillin", Quantity: 30, UnitPrice: 4.00, LineTotal: 120.00}}, 0, 0, 0)
	_, err := f.repo.CreatePending(ctx, transactions.Transaction{
		PharmacyID: 10, Kind: transactions.KindPurchase, Number: "PUR-000001",
		Items:    []transactions.Item{{MedicineID: 2, Name: "amoxicillin", Quantity: 30, UnitPrice: 4.00, LineTotal: 120.00}},
		Subtotal: totals.Subtotal, Total: totals.Total,
	})
	require.NoError(t, err)

	res, err := f.svc.Checkout(ctx, principal, Request{Kind: "purchase", PaymentMethod: "bank_transfer",
		PaymentDetails: PaymentDetails{AccountNumber: "001", BankName: "GCB"}})
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCompleted, res.Transaction.Status)
	require.Equal(t, int64(32), f.stock.quantities[2], "purchases add stock")
}

func TestCheckoutReceiptFailureLeavesRepairableTransaction(t *testing.T) {
	f := newFixture(t, nil)
	f.receipts.fail = true
	ctx := context.Background()
	seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	res, err := f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.NoError(t, err, "a missing receipt is repairable, not a checkout failure")
	require.Equal(t, transactions.StatusCompleted, res.Transaction.Status)
	require.Empty(t, res.Receipt.Number)
	require.Equal(t, []int64{res.Transaction.ID}, f.enqueuer.syncs, "sync task will repair the receipt")
	require.Empty(t, f.enqueuer.mails)
}

func TestCheckoutSerializedPerScope(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	locker := shared.NewLocker(client, 30*time.Second)

	f := newFixture(t, locker)
	ctx := context.Background()
	seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	release, err := locker.Acquire(ctx, shared.CheckoutLockKey(10, "sale"))
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.ErrorIs(t, err, shared.ErrConflict, "a second checkout for the held scope is refused")

	release()
	res, err := f.svc.Checkout(ctx, principal, Request{PaymentMethod: "cash"})
	require.NoError(t, err)
	require.Equal(t, transactions.StatusCompleted, res.Transaction.Status)
}

func TestGetSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})

	sum, err := f.svc.GetSummary(ctx, principal, transactions.KindSale, DeliveryRequest{Method: "delivery", Address: "12 Ring Rd"})
	require.NoError(t, err)
	require.InDelta(t, 30.00, sum.Subtotal, 0.001)
	require.InDelta(t, 5.00, sum.DeliveryFee, 0.001)
	require.InDelta(t, 35.00, sum.Total, 0.001)
}

func TestGetSummaryExpiredCartAbsent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tx := seedCart(t, f.repo, []transactions.Item{
		{MedicineID: 1, Name: "paracetamol", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	})
	past := time.Now().Add(-time.Minute)
	f.repo.txs[tx.ID].ExpiresAt = &past

	_, err := f.svc.GetSummary(ctx, principal, transactions.KindSale, DeliveryRequest{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
