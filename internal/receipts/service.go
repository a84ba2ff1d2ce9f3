package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// RepositoryPort abstracts receipt persistence.
type RepositoryPort interface {
	Create(ctx context.Context, rc Receipt) (Receipt, error)
	GetByNumber(ctx context.Context, pharmacyID int64, number string) (Receipt, error)
	GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (Receipt, error)
	GetByID(ctx context.Context, pharmacyID, id int64) (Receipt, error)
	List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Receipt, error)
}

// NumberingPort issues daily receipt numbers.
type NumberingPort interface {
	NextReceiptNumber(ctx context.Context, pharmacyID int64) (string, error)
}

// Service issues and reads receipts.
type Service struct {
	repo    RepositoryPort
	numbers NumberingPort
	logger  *slog.Logger
	now     func() time.Time
}

const issueAttempts = 3

// NewService builds Service.
func NewService(repo RepositoryPort, numbers NumberingPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, numbers: numbers, logger: logger, now: time.Now}
}

// Issue snapshots a completed transaction into a receipt. It is idempotent
// per transaction: if a receipt already exists the existing one is returned,
// which makes the checkout saga repairable by plain retry. Number collisions
// are retried with fresh numbers.
func (s *Service) Issue(ctx context.Context, t transactions.Transaction) (Receipt, error) {
	if t.Status != transactions.StatusCompleted {
		return Receipt{}, fmt.Errorf("transaction %d is %s, receipts need a completed transaction: %w",
			t.ID, t.Status, shared.ErrInvalidState)
	}
	if t.Payment == nil {
		return Receipt{}, fmt.Errorf("transaction %d has no payment record: %w", t.ID, shared.ErrInternalInconsistency)
	}

	rc := Receipt{
		PharmacyID:        t.PharmacyID,
		TransactionID:     t.ID,
		TransactionNumber: t.Number,
		Subtotal:          t.Subtotal,
		Discount:          t.Discount,
		Tax:               t.Tax,
		DeliveryFee:       t.DeliveryFee,
		Total:             t.Total,
		PaymentMethod:     t.Payment.Method,
		PaymentReference:  t.Payment.Reference,
		CustomerName:      t.CustomerName,
		CustomerPhone:     t.CustomerPhone,
		CustomerEmail:     t.CustomerEmail,
		IssuedAt:          s.now(),
	}
	for _, it := range t.Items {
		rc.Items = append(rc.Items, Item{
			MedicineID: it.MedicineID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			LineTotal:  it.LineTotal,
		})
	}

	var lastErr error
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		number, err := s.numbers.NextReceiptNumber(ctx, t.PharmacyID)
		if err != nil {
			return Receipt{}, fmt.Errorf("issue receipt number: %w", err)
		}
		rc.Number = number
		created, err := s.repo.Create(ctx, rc)
		if err == nil {
			return created, nil
		}
		if errors.Is(err, ErrNumberTaken) {
			lastErr = err
			continue
		}
		if errors.Is(err, shared.ErrConflict) {
			existing, getErr := s.repo.GetByTransactionID(ctx, t.PharmacyID, t.ID)
			if getErr != nil {
				return Receipt{}, fmt.Errorf("receipt exists but cannot be loaded: %w", shared.ErrInternalInconsistency)
			}
			s.logger.InfoContext(ctx, "receipt already issued, returning existing",
				"transaction_id", t.ID, "receipt_number", existing.Number)
			return existing, nil
		}
		return Receipt{}, err
	}
	return Receipt{}, fmt.Errorf("receipt numbering exhausted after %d attempts: %w (%v)", issueAttempts, shared.ErrConflict, lastErr)
}

// GetByNumber returns one receipt.
func (s *Service) GetByNumber(ctx context.Context, pharmacyID int64, number string) (Receipt, error) {
	return s.repo.GetByNumber(ctx, pharmacyID, number)
}

// GetByTransactionID returns the receipt of one transaction.
func (s *Service) GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (Receipt, error) {
	return s.repo.GetByTransactionID(ctx, pharmacyID, transactionID)
}

// GetByID returns one receipt by primary key.
func (s *Service) GetByID(ctx context.Context, pharmacyID, id int64) (Receipt, error) {
	return s.repo.GetByID(ctx, pharmacyID, id)
}

// List returns receipts matching a filter.
func (s *Service) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Receipt, error) {
	return s.repo.List(ctx, pharmacyID, f)
}
