package refunds

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/receipts"
	"github.com/recyleto/recyleto/internal/shared"
)

// RepositoryPort abstracts refund persistence.
type RepositoryPort interface {
	Create(ctx context.Context, rf Refund) (Refund, error)
	GetByID(ctx context.Context, pharmacyID, id int64) (Refund, error)
	ListByReceipt(ctx context.Context, pharmacyID, receiptID int64) ([]Refund, error)
	ListByTransaction(ctx context.Context, pharmacyID, transactionID int64) ([]Refund, error)
	List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Refund, error)
	Approve(ctx context.Context, pharmacyID, id, approverID int64, paymentMethod string, at time.Time) error
	Reject(ctx context.Context, pharmacyID, id int64, reason string) error
	Complete(ctx context.Context, pharmacyID, id int64, at time.Time) error
	Cancel(ctx context.Context, pharmacyID, id int64) error
}

// ReceiptsPort loads the receipt a refund is raised against.
type ReceiptsPort interface {
	GetByNumber(ctx context.Context, pharmacyID int64, number string) (receipts.Receipt, error)
}

// StockPort restores stock when a refund is approved.
type StockPort interface {
	AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []catalog.QuantityDelta, actorID int64) error
}

// TransactionsPort folds refund totals back into the source transaction's
// status.
type TransactionsPort interface {
	ApplyRefundTotals(ctx context.Context, pharmacyID, transactionID int64, refundedTotal float64) error
}

// NumberingPort issues daily refund numbers.
type NumberingPort interface {
	NextRefundNumber(ctx context.Context, pharmacyID int64) (string, error)
}

// Enqueuer hands projection updates to the background worker.
type Enqueuer interface {
	EnqueueRefundSync(ctx context.Context, pharmacyID, refundID int64) error
}

// MetricsPort counts refund transitions.
type MetricsPort interface {
	ObserveRefundTransition(status string)
}

// Service runs the refund approval workflow.
type Service struct {
	repo     RepositoryPort
	receipts ReceiptsPort
	stock    StockPort
	txs      TransactionsPort
	numbers  NumberingPort
	enqueuer Enqueuer
	metrics  MetricsPort
	audit    shared.AuditPort
	logger   *slog.Logger
	window   time.Duration
	now      func() time.Time
}

// NewService builds Service. window bounds how long after receipt issue a
// refund may be requested.
func NewService(repo RepositoryPort, rcpt ReceiptsPort, stock StockPort, txs TransactionsPort, numbers NumberingPort, enqueuer Enqueuer, metrics MetricsPort, audit shared.AuditPort, logger *slog.Logger, window time.Duration) *Service {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Service{
		repo:     repo,
		receipts: rcpt,
		stock:    stock,
		txs:      txs,
		numbers:  numbers,
		enqueuer: enqueuer,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		window:   window,
		now:      time.Now,
	}
}

// Request raises a refund against a receipt. With no selections every line
// is refunded at its full remaining quantity; selections are validated
// against the union of all non-rejected refunds ever raised on the receipt,
// so a line can never be refunded beyond what was sold.
func (s *Service) Request(ctx context.Context, principal shared.Principal, receiptNumber, reason string, selections []ItemSelection) (Refund, error) {
	if strings.TrimSpace(reason) == "" {
		return Refund{}, fmt.Errorf("refund reason is required: %w", shared.ErrValidation)
	}
	receipt, err := s.receipts.GetByNumber(ctx, principal.PharmacyID, receiptNumber)
	if err != nil {
		return Refund{}, err
	}
	if s.now().Sub(receipt.IssuedAt) > s.window {
		return Refund{}, fmt.Errorf("receipt %s issued %s ago, window is %s: %w",
			receipt.Number, s.now().Sub(receipt.IssuedAt).Round(time.Hour), s.window, shared.ErrRefundWindowExpired)
	}

	prior, err := s.repo.ListByReceipt(ctx, principal.PharmacyID, receipt.ID)
	if err != nil {
		return Refund{}, err
	}
	for _, rf := range prior {
		if rf.Status.Outstanding() {
			return Refund{}, fmt.Errorf("refund %s is still %s for receipt %s: %w",
				rf.Number, rf.Status, receipt.Number, shared.ErrConflict)
		}
	}

	remaining := remainingQuantities(receipt, prior)

	var items []Item
	if len(selections) == 0 {
		for _, line := range receipt.Items {
			left := remaining[line.MedicineID]
			if left <= 0 {
				continue
			}
			items = append(items, Item{
				MedicineID:       line.MedicineID,
				Name:             line.Name,
				OriginalQuantity: line.Quantity,
				RefundQuantity:   left,
				UnitPrice:        line.UnitPrice,
				LineAmount:       float64(left) * line.UnitPrice,
			})
		}
		if len(items) == 0 {
			return Refund{}, fmt.Errorf("receipt %s has nothing left to refund: %w", receipt.Number, shared.ErrInvalidQuantity)
		}
	} else {
		lines := make(map[int64]receipts.Item, len(receipt.Items))
		for _, line := range receipt.Items {
			lines[line.MedicineID] = line
		}
		for _, sel := range selections {
			line, ok := lines[sel.MedicineID]
			if !ok {
				return Refund{}, fmt.Errorf("receipt %s has no line for medicine %d: %w", receipt.Number, sel.MedicineID, shared.ErrNotFound)
			}
			if sel.Quantity <= 0 {
				return Refund{}, fmt.Errorf("refund quantity must be positive for %s: %w", line.Name, shared.ErrInvalidQuantity)
			}
			if left := remaining[sel.MedicineID]; sel.Quantity > left {
				return Refund{}, fmt.Errorf("%s has %d left to refund, requested %d: %w",
					line.Name, left, sel.Quantity, shared.ErrInvalidQuantity)
			}
			items = append(items, Item{
				MedicineID:       line.MedicineID,
				Name:             line.Name,
				OriginalQuantity: line.Quantity,
				RefundQuantity:   sel.Quantity,
				UnitPrice:        line.UnitPrice,
				LineAmount:       float64(sel.Quantity) * line.UnitPrice,
			})
		}
	}

	var amount float64
	for _, it := range items {
		amount += it.LineAmount
	}

	number, err := s.numbers.NextRefundNumber(ctx, principal.PharmacyID)
	if err != nil {
		return Refund{}, fmt.Errorf("issue refund number: %w", err)
	}
	rf, err := s.repo.Create(ctx, Refund{
		PharmacyID:    principal.PharmacyID,
		Number:        number,
		ReceiptID:     receipt.ID,
		ReceiptNumber: receipt.Number,
		TransactionID: receipt.TransactionID,
		Items:         items,
		Amount:        amount,
		Reason:        reason,
		RequestedBy:   principal.UserID,
	})
	if err != nil {
		return Refund{}, err
	}
	s.observe(StatusPending)
	s.recordAudit(ctx, principal, rf, "refunds:request", map[string]any{"amount": rf.Amount})
	s.logger.InfoContext(ctx, "refund requested",
		"refund_id", rf.ID, "number", rf.Number, "receipt_number", receipt.Number, "amount", rf.Amount)
	return rf, nil
}

// Approve grants a pending refund: stock goes back on the shelf, the
// approver is stamped and the source transaction's status is recomputed.
func (s *Service) Approve(ctx context.Context, principal shared.Principal, id int64, paymentMethod string) (Refund, error) {
	rf, err := s.repo.GetByID(ctx, principal.PharmacyID, id)
	if err != nil {
		return Refund{}, err
	}
	if rf.Status != StatusPending {
		return Refund{}, fmt.Errorf("refund %d is %s, only pending refunds can be approved: %w", id, rf.Status, shared.ErrInvalidState)
	}

	deltas := make([]catalog.QuantityDelta, 0, len(rf.Items))
	for _, it := range rf.Items {
		deltas = append(deltas, catalog.QuantityDelta{MedicineID: it.MedicineID, Delta: it.RefundQuantity})
	}
	if err := s.stock.AdjustQuantities(ctx, principal.PharmacyID, deltas, principal.UserID); err != nil {
		return Refund{}, fmt.Errorf("restore stock for refund %d: %w", id, err)
	}

	if err := s.repo.Approve(ctx, principal.PharmacyID, id, principal.UserID, paymentMethod, s.now()); err != nil {
		// Pull the restored stock back out so the ledger matches the still
		// pending refund.
		for i := range deltas {
			deltas[i].Delta = -deltas[i].Delta
		}
		if compErr := s.stock.AdjustQuantities(ctx, principal.PharmacyID, deltas, principal.UserID); compErr != nil {
			s.logger.ErrorContext(ctx, "stock compensation failed after refund approval abort",
				"refund_id", id, "error", compErr)
			return Refund{}, fmt.Errorf("refund approval aborted and stock compensation failed: %w", shared.ErrInternalInconsistency)
		}
		return Refund{}, err
	}

	if err := s.applyTransactionStatus(ctx, principal.PharmacyID, rf.TransactionID); err != nil {
		s.logger.WarnContext(ctx, "refund approved but transaction status not updated",
			"refund_id", id, "transaction_id", rf.TransactionID, "error", err)
	}

	s.observe(StatusApproved)
	s.enqueueSync(ctx, principal.PharmacyID, id)
	s.recordAudit(ctx, principal, rf, "refunds:approve", map[string]any{"amount": rf.Amount})
	return s.repo.GetByID(ctx, principal.PharmacyID, id)
}

// Reject declines a pending refund. Stock never moved, so there is nothing
// to undo.
func (s *Service) Reject(ctx context.Context, principal shared.Principal, id int64, reason string) (Refund, error) {
	if strings.TrimSpace(reason) == "" {
		return Refund{}, fmt.Errorf("rejection reason is required: %w", shared.ErrValidation)
	}
	rf, err := s.repo.GetByID(ctx, principal.PharmacyID, id)
	if err != nil {
		return Refund{}, err
	}
	if err := s.repo.Reject(ctx, principal.PharmacyID, id, reason); err != nil {
		return Refund{}, err
	}
	s.observe(StatusRejected)
	s.recordAudit(ctx, principal, rf, "refunds:reject", map[string]any{"reason": reason})
	return s.repo.GetByID(ctx, principal.PharmacyID, id)
}

// Complete marks an approved refund's payout as done and resyncs the
// projection. Stock already moved at approval.
func (s *Service) Complete(ctx context.Context, principal shared.Principal, id int64) (Refund, error) {
	rf, err := s.repo.GetByID(ctx, principal.PharmacyID, id)
	if err != nil {
		return Refund{}, err
	}
	if err := s.repo.Complete(ctx, principal.PharmacyID, id, s.now()); err != nil {
		return Refund{}, err
	}
	s.observe(StatusCompleted)
	s.enqueueSync(ctx, principal.PharmacyID, id)
	s.recordAudit(ctx, principal, rf, "refunds:complete", nil)
	return s.repo.GetByID(ctx, principal.PharmacyID, id)
}

// Cancel withdraws an outstanding refund. Cancelling an approved refund
// does not pull restored stock back; that correction is left to an explicit
// adjustment and flagged in the log.
func (s *Service) Cancel(ctx context.Context, principal shared.Principal, id int64) (Refund, error) {
	rf, err := s.repo.GetByID(ctx, principal.PharmacyID, id)
	if err != nil {
		return Refund{}, err
	}
	if err := s.repo.Cancel(ctx, principal.PharmacyID, id); err != nil {
		return Refund{}, err
	}
	if rf.Status == StatusApproved {
		s.logger.WarnContext(ctx, "approved refund cancelled, restored stock left in place",
			"refund_id", id, "number", rf.Number)
		if err := s.applyTransactionStatus(ctx, principal.PharmacyID, rf.TransactionID); err != nil {
			s.logger.WarnContext(ctx, "transaction status not updated after cancel",
				"refund_id", id, "error", err)
		}
	}
	s.observe(StatusCancelled)
	s.enqueueSync(ctx, principal.PharmacyID, id)
	s.recordAudit(ctx, principal, rf, "refunds:cancel", nil)
	return s.repo.GetByID(ctx, principal.PharmacyID, id)
}

// Get returns one refund.
func (s *Service) Get(ctx context.Context, pharmacyID, id int64) (Refund, error) {
	return s.repo.GetByID(ctx, pharmacyID, id)
}

// List returns refunds matching a filter.
func (s *Service) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Refund, error) {
	return s.repo.List(ctx, pharmacyID, f)
}

// applyTransactionStatus recomputes the source transaction's refund-derived
// status from the sum over approved and completed refunds.
func (s *Service) applyTransactionStatus(ctx context.Context, pharmacyID, transactionID int64) error {
	all, err := s.repo.ListByTransaction(ctx, pharmacyID, transactionID)
	if err != nil {
		return err
	}
	var total float64
	for _, rf := range all {
		if rf.Status == StatusApproved || rf.Status == StatusCompleted {
			total += rf.Amount
		}
	}
	return s.txs.ApplyRefundTotals(ctx, pharmacyID, transactionID, total)
}

// remainingQuantities computes, per receipt line, how much may still be
// refunded after all non-rejected prior refunds.
func remainingQuantities(receipt receipts.Receipt, prior []Refund) map[int64]int64 {
	remaining := make(map[int64]int64, len(receipt.Items))
	for _, line := range receipt.Items {
		remaining[line.MedicineID] = line.Quantity
	}
	for _, rf := range prior {
		if !rf.Status.CountsAgainstRemaining() {
			continue
		}
		for _, it := range rf.Items {
			remaining[it.MedicineID] -= it.RefundQuantity
		}
	}
	return remaining
}

func (s *Service) observe(status Status) {
	if s.metrics != nil {
		s.metrics.ObserveRefundTransition(string(status))
	}
}

func (s *Service) enqueueSync(ctx context.Context, pharmacyID, refundID int64) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueRefundSync(ctx, pharmacyID, refundID); err != nil {
		s.logger.WarnContext(ctx, "enqueue refund sync failed", "refund_id", refundID, "error", err)
	}
}

func (s *Service) recordAudit(ctx context.Context, principal shared.Principal, rf Refund, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = rf.Number
	meta["receipt_number"] = rf.ReceiptNumber
	_ = s.audit.Record(ctx, shared.AuditLog{
		PharmacyID: principal.PharmacyID,
		ActorID:    principal.UserID,
		Action:     action,
		Entity:     "refund",
		EntityID:   fmt.Sprintf("%d", rf.ID),
		Meta:       meta,
	})
}
