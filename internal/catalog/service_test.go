package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recyleto/recyleto/internal/shared"
)

type memoryRepo struct {
	meds map[int64]Medicine
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{meds: make(map[int64]Medicine)}
}

func (r *memoryRepo) GetMedicine(ctx context.Context, pharmacyID, id int64) (Medicine, error) {
	med, ok := r.meds[id]
	if !ok || med.PharmacyID != pharmacyID {
		return Medicine{}, fmt.Errorf("medicine %d: %w", id, shared.ErrNotFound)
	}
	return med, nil
}

func (r *memoryRepo) AdjustQuantity(ctx context.Context, pharmacyID, id, delta int64) error {
	med, ok := r.meds[id]
	if !ok || med.PharmacyID != pharmacyID {
		return fmt.Errorf("medicine %d: %w", id, shared.ErrNotFound)
	}
	if med.Quantity+delta < 0 {
		return fmt.Errorf("%s (available %d, delta %d): %w", med.Name, med.Quantity, delta, shared.ErrInsufficientStock)
	}
	med.Quantity += delta
	r.meds[id] = med
	return nil
}

func (r *memoryRepo) AdjustQuantities(ctx context.Context, pharmacyID int64, deltas []QuantityDelta) error {
	for _, d := range deltas {
		med, ok := r.meds[d.MedicineID]
		if !ok || med.PharmacyID != pharmacyID {
			return fmt.Errorf("medicine %d: %w", d.MedicineID, shared.ErrNotFound)
		}
		if med.Quantity+d.Delta < 0 {
			return fmt.Errorf("%s (available %d, delta %d): %w", med.Name, med.Quantity, d.Delta, shared.ErrInsufficientStock)
		}
	}
	for _, d := range deltas {
		med := r.meds[d.MedicineID]
		med.Quantity += d.Delta
		r.meds[d.MedicineID] = med
	}
	return nil
}

func seedMedicine(r *memoryRepo, id, pharmacyID, qty int64, price float64) {
	r.meds[id] = Medicine{ID: id, PharmacyID: pharmacyID, Name: fmt.Sprintf("med-%d", id), Quantity: qty, UnitPrice: price}
}

func TestAdjustQuantityRejectsNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	seedMedicine(repo, 1, 10, 5, 12.50)
	svc := NewService(repo, nil)
	ctx := context.Background()

	err := svc.AdjustQuantity(ctx, 10, 1, -6, 99)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	med, err := svc.GetMedicine(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), med.Quantity)
}

func TestAdjustQuantityDecrementsAndRestores(t *testing.T) {
	repo := newMemoryRepo()
	seedMedicine(repo, 1, 10, 8, 4.00)
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.AdjustQuantity(ctx, 10, 1, -3, 99))
	med, err := svc.GetMedicine(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), med.Quantity)

	require.NoError(t, svc.AdjustQuantity(ctx, 10, 1, 3, 99))
	med, err = svc.GetMedicine(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, int64(8), med.Quantity)
}

func TestAdjustQuantityZeroDelta(t *testing.T) {
	repo := newMemoryRepo()
	seedMedicine(repo, 1, 10, 8, 4.00)
	svc := NewService(repo, nil)

	err := svc.AdjustQuantity(context.Background(), 10, 1, 0, 99)
	require.ErrorIs(t, err, shared.ErrInvalidQuantity)
}

func TestAdjustQuantitiesAllOrNothing(t *testing.T) {
	repo := newMemoryRepo()
	seedMedicine(repo, 1, 10, 5, 2.00)
	seedMedicine(repo, 2, 10, 1, 7.00)
	svc := NewService(repo, nil)
	ctx := context.Background()

	err := svc.AdjustQuantities(ctx, 10, []QuantityDelta{
		{MedicineID: 1, Delta: -2},
		{MedicineID: 2, Delta: -3},
	}, 99)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	med, err := svc.GetMedicine(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, int64(5), med.Quantity, "first line must not be decremented when a later line fails")

	require.NoError(t, svc.AdjustQuantities(ctx, 10, []QuantityDelta{
		{MedicineID: 1, Delta: -2},
		{MedicineID: 2, Delta: -1},
	}, 99))
	med, err = svc.GetMedicine(ctx, 10, 2)
	require.NoError(t, err)
	require.Equal(t, int64(0), med.Quantity)
}

func TestGetMedicineScopedByPharmacy(t *testing.T) {
	repo := newMemoryRepo()
	seedMedicine(repo, 1, 10, 5, 2.00)
	svc := NewService(repo, nil)

	_, err := svc.GetMedicine(context.Background(), 11, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
