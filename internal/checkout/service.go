package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/receipts"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// StockPort commits stock movements for the whole order at once.
type StockPort interface {
	AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []catalog.QuantityDelta, actorID int64) error
}

// ReceiptsPort issues the immutable proof of sale.
type ReceiptsPort interface {
	Issue(ctx context.Context, t transactions.Transaction) (receipts.Receipt, error)
}

// LockerPort serializes checkouts per scope.
type LockerPort interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Enqueuer hands post-checkout work to the background worker.
type Enqueuer interface {
	EnqueueTransactionSync(ctx context.Context, pharmacyID, transactionID int64) error
	EnqueueReceiptMail(ctx context.Context, pharmacyID, receiptID int64) error
}

// MetricsPort counts checkout outcomes.
type MetricsPort interface {
	ObserveCheckout(outcome string)
}

// Request is a checkout submission.
type Request struct {
	Kind           string          `json:"kind"`
	PaymentMethod  string          `json:"payment_method" validate:"required,oneof=cash card mobile_money bank_transfer digital_wallet credit"`
	PaymentDetails PaymentDetails  `json:"payment_details"`
	Delivery       DeliveryRequest `json:"delivery"`
	CustomerName   string          `json:"customer_name,omitempty"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	CustomerEmail  string          `json:"customer_email,omitempty" validate:"omitempty,email"`
}

// Result is what a successful checkout returns.
type Result struct {
	Transaction transactions.Transaction `json:"transaction"`
	Receipt     receipts.Receipt         `json:"receipt"`
}

// Summary previews the order before submission.
type Summary struct {
	Items       []transactions.Item `json:"items"`
	Subtotal    float64             `json:"subtotal"`
	Discount    float64             `json:"discount"`
	Tax         float64             `json:"tax"`
	DeliveryFee float64             `json:"delivery_fee"`
	Total       float64             `json:"total"`
}

// Service orchestrates the pending-to-completed pipeline.
type Service struct {
	txRepo   transactions.RepositoryPort
	stock    StockPort
	receipts ReceiptsPort
	locker   LockerPort
	enqueuer Enqueuer
	metrics  MetricsPort
	audit    shared.AuditPort
	logger   *slog.Logger
	fees     FeePolicy
	now      func() time.Time
}

// NewService builds Service.
func NewService(txRepo transactions.RepositoryPort, stock StockPort, rcpt ReceiptsPort, locker LockerPort, enqueuer Enqueuer, metrics MetricsPort, audit shared.AuditPort, logger *slog.Logger, fees FeePolicy) *Service {
	return &Service{
		txRepo:   txRepo,
		stock:    stock,
		receipts: rcpt,
		locker:   locker,
		enqueuer: enqueuer,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		fees:     fees,
		now:      time.Now,
	}
}

// stockDeltas maps order lines to signed ledger movements. Sales and
// write-off adjustments take stock out; purchases and customer returns put
// stock back.
func stockDeltas(kind transactions.Kind, items []transactions.Item) []catalog.QuantityDelta {
	sign := int64(-1)
	if kind == transactions.KindPurchase || kind == transactions.KindReturn {
		sign = 1
	}
	deltas := make([]catalog.QuantityDelta, 0, len(items))
	for _, it := range items {
		deltas = append(deltas, catalog.QuantityDelta{MedicineID: it.MedicineID, Delta: sign * it.Quantity})
	}
	return deltas
}

func reverse(deltas []catalog.QuantityDelta) []catalog.QuantityDelta {
	out := make([]catalog.QuantityDelta, len(deltas))
	for i, d := range deltas {
		out[i] = catalog.QuantityDelta{MedicineID: d.MedicineID, Delta: -d.Delta}
	}
	return out
}

// Checkout turns the scope's pending transaction into a completed one:
// serialize on the scope lock, price delivery, simulate payment, commit the
// stock batch, flip the status and issue the receipt. Projection sync and
// the receipt email run in the background afterwards.
func (s *Service) Checkout(ctx context.Context, principal shared.Principal, req Request) (Result, error) {
	res, err := s.checkout(ctx, principal, req)
	if s.metrics != nil {
		outcome := "completed"
		if err != nil {
			outcome = shared.ErrorKind(err)
			if outcome == "" {
				outcome = "error"
			}
		}
		s.metrics.ObserveCheckout(outcome)
	}
	return res, err
}

func (s *Service) checkout(ctx context.Context, principal shared.Principal, req Request) (Result, error) {
	kind := transactions.Kind(req.Kind)
	if kind == "" {
		kind = transactions.KindSale
	}
	if !transactions.ValidKind(kind) {
		return Result{}, fmt.Errorf("unknown transaction kind %q: %w", req.Kind, shared.ErrNotFound)
	}

	release, err := s.locker.Acquire(ctx, shared.CheckoutLockKey(principal.PharmacyID, string(kind)))
	if err != nil {
		return Result{}, fmt.Errorf("checkout already in progress for this cart: %w", err)
	}
	defer release()

	t, err := s.txRepo.GetPending(ctx, principal.PharmacyID, kind)
	if err != nil {
		return Result{}, err
	}
	if t.Expired(s.now()) {
		return Result{}, fmt.Errorf("active %s cart expired: %w", kind, shared.ErrNotFound)
	}
	if len(t.Items) == 0 {
		return Result{}, fmt.Errorf("cart %s has no lines: %w", t.Number, shared.ErrEmptyCart)
	}

	preDelivery := transactions.ComputeTotals(t.Items, t.Discount, t.Tax, 0)
	delivery, err := QuoteDelivery(req.Delivery, preDelivery.Total, s.fees)
	if err != nil {
		return Result{}, err
	}
	totals := transactions.ComputeTotals(t.Items, t.Discount, t.Tax, delivery.Fee)

	payment, err := SimulatePayment(PaymentMethod(req.PaymentMethod), req.PaymentDetails, totals.Total, s.now())
	if err != nil {
		return Result{}, err
	}

	deltas := stockDeltas(kind, t.Items)
	if err := s.stock.AdjustQuantities(ctx, principal.PharmacyID, deltas, principal.UserID); err != nil {
		return Result{}, err
	}

	if err := s.txRepo.Complete(ctx, transactions.CompleteParams{
		PharmacyID:    principal.PharmacyID,
		ID:            t.ID,
		Version:       t.Version,
		Totals:        totals,
		Payment:       payment,
		Delivery:      delivery,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		CheckedOutAt:  s.now(),
		UpdatedBy:     principal.UserID,
	}); err != nil {
		// Stock moved but the status flip failed. Put the stock back so the
		// ledger matches the still-pending transaction.
		if compErr := s.stock.AdjustQuantities(ctx, principal.PharmacyID, reverse(deltas), principal.UserID); compErr != nil {
			s.logger.ErrorContext(ctx, "stock compensation failed after checkout abort",
				"transaction_id", t.ID, "error", compErr)
			return Result{}, fmt.Errorf("checkout aborted and stock compensation failed: %w", shared.ErrInternalInconsistency)
		}
		return Result{}, err
	}

	completed, err := s.txRepo.GetByID(ctx, principal.PharmacyID, t.ID)
	if err != nil {
		return Result{}, fmt.Errorf("completed transaction %d unreadable: %w", t.ID, shared.ErrInternalInconsistency)
	}

	receipt, err := s.receipts.Issue(ctx, completed)
	if err != nil {
		// The transaction is completed and stock is committed; the receipt can
		// be re-issued idempotently by the sync task.
		s.logger.ErrorContext(ctx, "receipt issuance failed, leaving transaction repairable",
			"transaction_id", t.ID, "error", err)
		s.enqueueFollowups(ctx, principal.PharmacyID, completed.ID, 0)
		return Result{Transaction: completed}, nil
	}

	s.enqueueFollowups(ctx, principal.PharmacyID, completed.ID, receipt.ID)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			PharmacyID: principal.PharmacyID,
			ActorID:    principal.UserID,
			Action:     "checkout:complete",
			Entity:     "transaction",
			EntityID:   fmt.Sprintf("%d", completed.ID),
			Meta: map[string]any{
				"number":         completed.Number,
				"total":          completed.Total,
				"payment_method": payment.Method,
				"receipt_number": receipt.Number,
			},
		})
	}
	s.logger.InfoContext(ctx, "checkout completed",
		"transaction_id", completed.ID, "number", completed.Number,
		"total", completed.Total, "receipt_number", receipt.Number)
	return Result{Transaction: completed, Receipt: receipt}, nil
}

func (s *Service) enqueueFollowups(ctx context.Context, pharmacyID, transactionID, receiptID int64) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueTransactionSync(ctx, pharmacyID, transactionID); err != nil {
		s.logger.WarnContext(ctx, "enqueue sales sync failed", "transaction_id", transactionID, "error", err)
	}
	if receiptID != 0 {
		if err := s.enqueuer.EnqueueReceiptMail(ctx, pharmacyID, receiptID); err != nil {
			s.logger.WarnContext(ctx, "enqueue receipt mail failed", "receipt_id", receiptID, "error", err)
		}
	}
}

// GetSummary previews the active cart's totals with a delivery quote.
func (s *Service) GetSummary(ctx context.Context, principal shared.Principal, kind transactions.Kind, req DeliveryRequest) (Summary, error) {
	if kind == "" {
		kind = transactions.KindSale
	}
	if !transactions.ValidKind(kind) {
		return Summary{}, fmt.Errorf("unknown transaction kind %q: %w", kind, shared.ErrNotFound)
	}
	t, err := s.txRepo.GetPending(ctx, principal.PharmacyID, kind)
	if err != nil {
		return Summary{}, err
	}
	if t.Expired(s.now()) {
		return Summary{}, fmt.Errorf("active %s cart expired: %w", kind, shared.ErrNotFound)
	}
	preDelivery := transactions.ComputeTotals(t.Items, t.Discount, t.Tax, 0)
	delivery, err := QuoteDelivery(req, preDelivery.Total, s.fees)
	if err != nil {
		return Summary{}, err
	}
	totals := transactions.ComputeTotals(t.Items, t.Discount, t.Tax, delivery.Fee)
	return Summary{
		Items:       t.Items,
		Subtotal:    totals.Subtotal,
		Discount:    totals.Discount,
		Tax:         totals.Tax,
		DeliveryFee: totals.DeliveryFee,
		Total:       totals.Total,
	}, nil
}
