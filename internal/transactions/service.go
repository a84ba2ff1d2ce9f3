package transactions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/recyleto/recyleto/internal/shared"
)

// RepositoryPort abstracts transaction persistence. Cart, checkout and
// refunds all talk to the pending/completed rows through this port.
type RepositoryPort interface {
	CreatePending(ctx context.Context, t Transaction) (Transaction, error)
	GetPending(ctx context.Context, pharmacyID int64, kind Kind) (Transaction, error)
	GetByID(ctx context.Context, pharmacyID, id int64) (Transaction, error)
	GetByNumber(ctx context.Context, pharmacyID int64, number string) (Transaction, error)
	List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Transaction, error)
	ReplaceItems(ctx context.Context, pharmacyID, id, version int64, items []Item, totals Totals, expiresAt time.Time, updatedBy int64) error
	Complete(ctx context.Context, p CompleteParams) error
	Cancel(ctx context.Context, pharmacyID, id int64, reason string, updatedBy int64) error
	SetStatus(ctx context.Context, pharmacyID, id int64, from, to Status) error
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Service exposes read and lifecycle operations on transactions.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	audit  shared.AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, audit shared.AuditPort) *Service {
	return &Service{repo: repo, logger: logger, audit: audit}
}

// Get returns one transaction by id.
func (s *Service) Get(ctx context.Context, pharmacyID, id int64) (Transaction, error) {
	return s.repo.GetByID(ctx, pharmacyID, id)
}

// GetByNumber returns one transaction by document number.
func (s *Service) GetByNumber(ctx context.Context, pharmacyID int64, number string) (Transaction, error) {
	return s.repo.GetByNumber(ctx, pharmacyID, number)
}

// List returns transactions matching a filter.
func (s *Service) List(ctx context.Context, pharmacyID int64, f ListFilter) ([]Transaction, error) {
	if f.Kind != "" && !ValidKind(f.Kind) {
		return nil, fmt.Errorf("unknown kind %q: %w", f.Kind, shared.ErrNotFound)
	}
	return s.repo.List(ctx, pharmacyID, f)
}

// Cancel aborts a pending transaction. No stock was committed while pending
// so there is no ledger side effect.
func (s *Service) Cancel(ctx context.Context, principal shared.Principal, id int64, reason string) error {
	if reason == "" {
		reason = "cancelled"
	}
	if err := s.repo.Cancel(ctx, principal.PharmacyID, id, reason, principal.UserID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			PharmacyID: principal.PharmacyID,
			ActorID:    principal.UserID,
			Action:     "transactions:cancel",
			Entity:     "transaction",
			EntityID:   fmt.Sprintf("%d", id),
			Meta:       map[string]any{"reason": reason},
		})
	}
	return nil
}

// ApplyRefundTotals moves a transaction along its refund-derived edges based
// on the sum of approved and completed refund amounts. A no-op when the
// derived status matches the current one.
func (s *Service) ApplyRefundTotals(ctx context.Context, pharmacyID, id int64, refundedTotal float64) error {
	t, err := s.repo.GetByID(ctx, pharmacyID, id)
	if err != nil {
		return err
	}
	switch t.Status {
	case StatusCompleted, StatusPartiallyRefunded, StatusRefunded:
	default:
		return fmt.Errorf("transaction %d is %s, refunds apply to completed transactions: %w", id, t.Status, shared.ErrInvalidState)
	}
	target := DeriveRefundStatus(t.Total, refundedTotal)
	if target == t.Status {
		return nil
	}
	if !CanTransition(t.Status, target) {
		return fmt.Errorf("transaction %d cannot move %s -> %s: %w", id, t.Status, target, shared.ErrInvalidState)
	}
	if err := s.repo.SetStatus(ctx, pharmacyID, id, t.Status, target); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "transaction refund status applied",
		"transaction_id", id, "from", t.Status, "to", target, "refunded_total", refundedTotal)
	return nil
}

// SweepExpired cancels pending transactions past their cart TTL. The worker
// runs it on a schedule.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.SweepExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired carts swept", "count", n)
	}
	return n, nil
}
