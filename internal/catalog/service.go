package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/recyleto/recyleto/internal/shared"
)

// RepositoryPort abstracts repository usage for the service and its consumers.
type RepositoryPort interface {
	GetMedicine(ctx context.Context, pharmacyID, id int64) (Medicine, error)
	AdjustQuantity(ctx context.Context, pharmacyID, id, delta int64) error
	AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []QuantityDelta) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// GetMedicine returns one medicine with live price and availability.
func (s *Service) GetMedicine(ctx context.Context, pharmacyID, id int64) (Medicine, error) {
	if pharmacyID == 0 || id == 0 {
		return Medicine{}, errors.New("catalog: pharmacy and medicine required")
	}
	return s.repo.GetMedicine(ctx, pharmacyID, id)
}

// AdjustQuantity applies one signed stock movement.
func (s *Service) AdjustQuantity(ctx context.Context, pharmacyID, id, delta int64, actorID int64) error {
	if delta == 0 {
		return fmt.Errorf("catalog: zero delta: %w", shared.ErrInvalidQuantity)
	}
	if err := s.repo.AdjustQuantity(ctx, pharmacyID, id, delta); err != nil {
		return err
	}
	s.recordAudit(ctx, pharmacyID, actorID, id, delta)
	return nil
}

// AdjustQuantities applies a batch of movements all-or-nothing. Checkout uses
// it to commit every cart line in one unit; refund approval uses it to restore
// stock.
func (s *Service) AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []QuantityDelta, actorID int64) error {
	for _, d := range deltas {
		if d.Delta == 0 {
			return fmt.Errorf("catalog: zero delta for medicine %d: %w", d.MedicineID, shared.ErrInvalidQuantity)
		}
	}
	if err := s.repo.AdjustQuantities(ctx, pharmacyID, deltas); err != nil {
		return err
	}
	for _, d := range deltas {
		s.recordAudit(ctx, pharmacyID, actorID, d.MedicineID, d.Delta)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, pharmacyID, actorID, medicineID, delta int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		PharmacyID: pharmacyID,
		ActorID:    actorID,
		Action:     "catalog:adjust",
		Entity:     "medicine",
		EntityID:   fmt.Sprintf("%d", medicineID),
		Meta:       map[string]any{"delta": delta},
	})
}
