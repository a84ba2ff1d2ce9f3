package salesproj

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/receipts"
	"github.com/recyleto/recyleto/internal/refunds"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// RepositoryPort abstracts projection persistence.
type RepositoryPort interface {
	Create(ctx context.Context, s Sale) (Sale, error)
	GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (Sale, error)
	ApplyRefund(ctx context.Context, pharmacyID, transactionID int64, refundNumber string, refundedAmount float64, status Status) error
	List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Sale, error)
}

// TransactionsPort reads source transactions.
type TransactionsPort interface {
	GetByID(ctx context.Context, pharmacyID, id int64) (transactions.Transaction, error)
	List(ctx context.Context, pharmacyID int64, f transactions.ListFilter) ([]transactions.Transaction, error)
}

// ReceiptsPort resolves the receipt number of a synced transaction.
type ReceiptsPort interface {
	GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (receipts.Receipt, error)
}

// RefundsPort reads refunds when folding them into the projection.
type RefundsPort interface {
	GetByID(ctx context.Context, pharmacyID, id int64) (refunds.Refund, error)
	ListByTransaction(ctx context.Context, pharmacyID, transactionID int64) ([]refunds.Refund, error)
}

// CatalogPort supplies cost prices for profit enrichment.
type CatalogPort interface {
	GetMedicine(ctx context.Context, pharmacyID, id int64) (catalog.Medicine, error)
}

// Service maintains the derived sales ledger. Everything here is
// rebuildable from transactions and refunds.
type Service struct {
	repo     RepositoryPort
	txs      TransactionsPort
	receipts ReceiptsPort
	refunds  RefundsPort
	catalog  CatalogPort
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, txs TransactionsPort, rcpt ReceiptsPort, rfs RefundsPort, cat CatalogPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, txs: txs, receipts: rcpt, refunds: rfs, catalog: cat, logger: logger}
}

// SyncTransaction projects one completed sale transaction. Replays are
// no-ops, so the worker may retry freely.
func (s *Service) SyncTransaction(ctx context.Context, pharmacyID, transactionID int64) error {
	if _, err := s.repo.GetByTransactionID(ctx, pharmacyID, transactionID); err == nil {
		return nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	t, err := s.txs.GetByID(ctx, pharmacyID, transactionID)
	if err != nil {
		return err
	}
	if t.Kind != transactions.KindSale {
		return nil
	}
	switch t.Status {
	case transactions.StatusCompleted, transactions.StatusPartiallyRefunded, transactions.StatusRefunded:
	default:
		return fmt.Errorf("transaction %d is %s, projections need a completed sale: %w",
			transactionID, t.Status, shared.ErrInvalidState)
	}
	if t.Payment == nil || t.CheckedOutAt == nil {
		return fmt.Errorf("transaction %d lacks checkout records: %w", transactionID, shared.ErrInternalInconsistency)
	}

	sale := Sale{
		PharmacyID:        t.PharmacyID,
		TransactionID:     t.ID,
		TransactionNumber: t.Number,
		Subtotal:          t.Subtotal,
		Discount:          t.Discount,
		Tax:               t.Tax,
		DeliveryFee:       t.DeliveryFee,
		Total:             t.Total,
		PaymentMethod:     t.Payment.Method,
		Status:            StatusCompleted,
		SoldAt:            *t.CheckedOutAt,
	}
	if rc, err := s.receipts.GetByTransactionID(ctx, pharmacyID, t.ID); err == nil {
		sale.ReceiptNumber = rc.Number
	}
	for _, it := range t.Items {
		cost := s.costPrice(ctx, pharmacyID, it.MedicineID, it.UnitPrice)
		lineCost := float64(it.Quantity) * cost
		item := Item{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			CostPrice:  cost,
			LineTotal:  it.LineTotal,
			Profit:     it.LineTotal - lineCost,
		}
		sale.Items = append(sale.Items, item)
		sale.Cost += lineCost
		sale.Profit += item.Profit
	}

	if _, err := s.repo.Create(ctx, sale); err != nil {
		if errors.Is(err, shared.ErrConflict) {
			// Another worker got there first.
			return nil
		}
		return err
	}
	s.logger.InfoContext(ctx, "sale projected",
		"transaction_id", t.ID, "number", t.Number, "total", sale.Total, "profit", sale.Profit)
	return nil
}

// SyncRefund folds one refund's state into its transaction's projection.
// The projection is created on demand so refund events arriving before the
// sale sync still land.
func (s *Service) SyncRefund(ctx context.Context, pharmacyID, refundID int64) error {
	rf, err := s.refunds.GetByID(ctx, pharmacyID, refundID)
	if err != nil {
		return err
	}
	if err := s.SyncTransaction(ctx, pharmacyID, rf.TransactionID); err != nil {
		return err
	}
	sale, err := s.repo.GetByTransactionID(ctx, pharmacyID, rf.TransactionID)
	if err != nil {
		return err
	}

	all, err := s.refunds.ListByTransaction(ctx, pharmacyID, rf.TransactionID)
	if err != nil {
		return err
	}
	var refunded float64
	for _, other := range all {
		if other.Status == refunds.StatusApproved || other.Status == refunds.StatusCompleted {
			refunded += other.Amount
		}
	}
	status := StatusCompleted
	switch {
	case refunded <= 0:
	case refunded >= sale.Total:
		status = StatusRefunded
	default:
		status = StatusPartiallyRefunded
	}
	return s.repo.ApplyRefund(ctx, pharmacyID, rf.TransactionID, rf.Number, refunded, status)
}

// ResyncPharmacy rebuilds the projection for every finished sale of a
// pharmacy. It runs on demand behind the resync endpoint.
func (s *Service) ResyncPharmacy(ctx context.Context, pharmacyID int64) (int, error) {
	var synced int
	for _, status := range []transactions.Status{
		transactions.StatusCompleted, transactions.StatusPartiallyRefunded, transactions.StatusRefunded,
	} {
		list, err := s.txs.List(ctx, pharmacyID, transactions.ListFilter{
			Kind: transactions.KindSale, Status: status, Limit: 200,
		})
		if err != nil {
			return synced, err
		}
		for _, t := range list {
			if err := s.SyncTransaction(ctx, pharmacyID, t.ID); err != nil {
				s.logger.WarnContext(ctx, "resync skipped transaction",
					"transaction_id", t.ID, "error", err)
				continue
			}
			synced++
		}
	}
	return synced, nil
}

// List returns projections matching a filter.
func (s *Service) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Sale, error) {
	return s.repo.List(ctx, pharmacyID, f)
}

func (s *Service) costPrice(ctx context.Context, pharmacyID, medicineID int64, unitPrice float64) float64 {
	med, err := s.catalog.GetMedicine(ctx, pharmacyID, medicineID)
	if err == nil && med.CostPrice > 0 {
		return med.CostPrice
	}
	return unitPrice * defaultMarginRate
}
