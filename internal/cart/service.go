package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/numbering"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// CatalogPort is what the cart needs from the catalog: live price and
// availability at snapshot time.
type CatalogPort interface {
	GetMedicine(ctx context.Context, pharmacyID, id int64) (catalog.Medicine, error)
}

// NumberingPort issues transaction numbers when the first line opens a cart.
type NumberingPort interface {
	NextTransactionNumber(ctx context.Context, pharmacyID int64, scope numbering.Scope) (string, error)
}

// Service manages the staging area of an order. A cart is the pending
// transaction of its (pharmacy, kind) scope; there is no separate cart row.
type Service struct {
	txRepo  transactions.RepositoryPort
	catalog CatalogPort
	numbers NumberingPort
	logger  *slog.Logger
	ttl     time.Duration
	now     func() time.Time
}

// NewService builds Service. ttl controls how long an untouched cart stays
// active before the sweep abandons it.
func NewService(txRepo transactions.RepositoryPort, cat CatalogPort, numbers NumberingPort, logger *slog.Logger, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{txRepo: txRepo, catalog: cat, numbers: numbers, logger: logger, ttl: ttl, now: time.Now}
}

var kindScopes = map[transactions.Kind]numbering.Scope{
	transactions.KindSale:       numbering.ScopeSale,
	transactions.KindPurchase:   numbering.ScopePurchase,
	transactions.KindReturn:     numbering.ScopeReturn,
	transactions.KindAdjustment: numbering.ScopeAdjustment,
}

// Cart is the client view of a pending transaction.
type Cart struct {
	TransactionID int64               `json:"transaction_id"`
	Kind          transactions.Kind   `json:"kind"`
	Number        string              `json:"number"`
	Status        string              `json:"status"`
	Items         []transactions.Item `json:"items"`
	Subtotal      float64             `json:"subtotal"`
	Discount      float64             `json:"discount"`
	Tax           float64             `json:"tax"`
	Total         float64             `json:"total"`
	ExpiresAt     *time.Time          `json:"expires_at,omitempty"`
	LastActivity  time.Time           `json:"last_activity"`
}

func toCart(t transactions.Transaction) Cart {
	return Cart{
		TransactionID: t.ID,
		Kind:          t.Kind,
		Number:        t.Number,
		Status:        "active",
		Items:         t.Items,
		Subtotal:      t.Subtotal,
		Discount:      t.Discount,
		Tax:           t.Tax,
		Total:         t.Total,
		ExpiresAt:     t.ExpiresAt,
		LastActivity:  t.LastActivityAt,
	}
}

// Get returns the active cart for a scope. An expired cart reads as absent.
func (s *Service) Get(ctx context.Context, principal shared.Principal, kind transactions.Kind) (Cart, error) {
	t, err := s.active(ctx, principal, kind)
	if err != nil {
		return Cart{}, err
	}
	return toCart(t), nil
}

// AddLine adds quantity of one medicine, merging with an existing line for
// the same medicine. The first line of a scope opens the cart. Price, batch
// and expiry are snapshotted from the catalog; an explicit unit price
// overrides the list price.
func (s *Service) AddLine(ctx context.Context, principal shared.Principal, kind transactions.Kind, medicineID, quantity int64, unitPrice *float64) (Cart, error) {
	if !transactions.ValidKind(kind) {
		return Cart{}, fmt.Errorf("unknown transaction kind %q: %w", kind, shared.ErrNotFound)
	}
	if quantity <= 0 {
		return Cart{}, fmt.Errorf("quantity must be positive, got %d: %w", quantity, shared.ErrInvalidQuantity)
	}

	med, err := s.catalog.GetMedicine(ctx, principal.PharmacyID, medicineID)
	if err != nil {
		return Cart{}, err
	}

	t, err := s.active(ctx, principal, kind)
	if errors.Is(err, shared.ErrNotFound) {
		t, err = s.open(ctx, principal, kind)
	}
	if err != nil {
		return Cart{}, err
	}

	items := append([]transactions.Item(nil), t.Items...)
	merged := false
	for i := range items {
		if items[i].MedicineID == medicineID {
			items[i].Quantity += quantity
			if unitPrice != nil {
				items[i].UnitPrice = *unitPrice
			}
			items[i].LineTotal = float64(items[i].Quantity) * items[i].UnitPrice
			merged = true
			break
		}
	}
	if !merged {
		price := med.UnitPrice
		if unitPrice != nil {
			price = *unitPrice
		}
		items = append(items, transactions.Item{
			MedicineID:  medicineID,
			Name:        med.Name,
			Quantity:    quantity,
			UnitPrice:   price,
			LineTotal:   float64(quantity) * price,
			BatchNumber: med.BatchNumber,
			ExpiryDate:  med.ExpiryDate,
		})
	}

	if kind == transactions.KindSale {
		for _, it := range items {
			if it.MedicineID == medicineID && it.Quantity > med.Quantity {
				return Cart{}, fmt.Errorf("%s (available %d, requested %d): %w",
					med.Name, med.Quantity, it.Quantity, shared.ErrInsufficientStock)
			}
		}
	}

	return s.save(ctx, principal, t, items, t.Discount, t.Tax)
}

// UpdateLine sets the quantity and/or unit price of an existing line. Nil
// fields keep their current value.
func (s *Service) UpdateLine(ctx context.Context, principal shared.Principal, kind transactions.Kind, medicineID int64, quantity *int64, unitPrice *float64) (Cart, error) {
	if quantity == nil && unitPrice == nil {
		return Cart{}, fmt.Errorf("line update needs a quantity or unit price: %w", shared.ErrValidation)
	}
	if quantity != nil && *quantity <= 0 {
		return Cart{}, fmt.Errorf("quantity must be positive, got %d: %w", *quantity, shared.ErrInvalidQuantity)
	}
	if unitPrice != nil && *unitPrice < 0 {
		return Cart{}, fmt.Errorf("unit price must not be negative: %w", shared.ErrValidation)
	}
	t, err := s.active(ctx, principal, kind)
	if err != nil {
		return Cart{}, err
	}
	items := append([]transactions.Item(nil), t.Items...)
	found := false
	for i := range items {
		if items[i].MedicineID == medicineID {
			if quantity != nil {
				items[i].Quantity = *quantity
			}
			if unitPrice != nil {
				items[i].UnitPrice = *unitPrice
			}
			items[i].LineTotal = float64(items[i].Quantity) * items[i].UnitPrice
			found = true
			break
		}
	}
	if !found {
		return Cart{}, fmt.Errorf("cart line for medicine %d: %w", medicineID, shared.ErrNotFound)
	}
	return s.save(ctx, principal, t, items, t.Discount, t.Tax)
}

// RemoveLine drops one line. Removing the last line leaves an empty active
// cart; checkout refuses it but the scope stays open.
func (s *Service) RemoveLine(ctx context.Context, principal shared.Principal, kind transactions.Kind, medicineID int64) (Cart, error) {
	t, err := s.active(ctx, principal, kind)
	if err != nil {
		return Cart{}, err
	}
	items := make([]transactions.Item, 0, len(t.Items))
	found := false
	for _, it := range t.Items {
		if it.MedicineID == medicineID {
			found = true
			continue
		}
		items = append(items, it)
	}
	if !found {
		return Cart{}, fmt.Errorf("cart line for medicine %d: %w", medicineID, shared.ErrNotFound)
	}
	return s.save(ctx, principal, t, items, t.Discount, t.Tax)
}

// Clear resets the active cart to empty, dropping discount and tax.
func (s *Service) Clear(ctx context.Context, principal shared.Principal, kind transactions.Kind) (Cart, error) {
	t, err := s.active(ctx, principal, kind)
	if err != nil {
		return Cart{}, err
	}
	return s.save(ctx, principal, t, nil, 0, 0)
}

// DiscountKind selects how ApplyDiscount interprets its value.
type DiscountKind string

const (
	DiscountFixed      DiscountKind = "fixed"
	DiscountPercentage DiscountKind = "percentage"
)

// ApplyDiscount applies a fixed amount or a percentage of the current
// subtotal. The resolved amount is stored; later line edits keep it as-is.
func (s *Service) ApplyDiscount(ctx context.Context, principal shared.Principal, kind transactions.Kind, dk DiscountKind, value float64) (Cart, error) {
	if value < 0 {
		return Cart{}, fmt.Errorf("discount must not be negative: %w", shared.ErrInvalidQuantity)
	}
	t, err := s.active(ctx, principal, kind)
	if err != nil {
		return Cart{}, err
	}
	subtotal := transactions.ComputeTotals(t.Items, 0, 0, 0).Subtotal
	var amount float64
	switch dk {
	case DiscountFixed:
		amount = value
	case DiscountPercentage:
		if value > 100 {
			return Cart{}, fmt.Errorf("percentage discount above 100: %w", shared.ErrInvalidQuantity)
		}
		amount = subtotal * value / 100
	default:
		return Cart{}, fmt.Errorf("unknown discount kind %q: %w", dk, shared.ErrValidation)
	}
	if amount > subtotal {
		amount = subtotal
	}
	return s.save(ctx, principal, t, t.Items, amount, t.Tax)
}

// SetTax sets the tax amount on the active cart.
func (s *Service) SetTax(ctx context.Context, principal shared.Principal, kind transactions.Kind, amount float64) (Cart, error) {
	if amount < 0 {
		return Cart{}, fmt.Errorf("tax must not be negative: %w", shared.ErrInvalidQuantity)
	}
	t, err := s.active(ctx, principal, kind)
	if err != nil {
		return Cart{}, err
	}
	return s.save(ctx, principal, t, t.Items, t.Discount, amount)
}

// active loads the pending transaction of a scope, treating an expired one
// as absent after flipping it out of the active slot.
func (s *Service) active(ctx context.Context, principal shared.Principal, kind transactions.Kind) (transactions.Transaction, error) {
	if !transactions.ValidKind(kind) {
		return transactions.Transaction{}, fmt.Errorf("unknown transaction kind %q: %w", kind, shared.ErrNotFound)
	}
	t, err := s.txRepo.GetPending(ctx, principal.PharmacyID, kind)
	if err != nil {
		return transactions.Transaction{}, err
	}
	if t.Expired(s.now()) {
		if cancelErr := s.txRepo.Cancel(ctx, principal.PharmacyID, t.ID, "expired", principal.UserID); cancelErr != nil {
			s.logger.WarnContext(ctx, "failed to retire expired cart", "transaction_id", t.ID, "error", cancelErr)
		}
		return transactions.Transaction{}, fmt.Errorf("active %s cart expired: %w", kind, shared.ErrNotFound)
	}
	return t, nil
}

// open creates the pending transaction for a scope with a fresh number.
func (s *Service) open(ctx context.Context, principal shared.Principal, kind transactions.Kind) (transactions.Transaction, error) {
	number, err := s.numbers.NextTransactionNumber(ctx, principal.PharmacyID, kindScopes[kind])
	if err != nil {
		return transactions.Transaction{}, fmt.Errorf("issue transaction number: %w", err)
	}
	expires := s.now().Add(s.ttl)
	t, err := s.txRepo.CreatePending(ctx, transactions.Transaction{
		PharmacyID: principal.PharmacyID,
		Kind:       kind,
		Number:     number,
		Reference:  uuid.NewString(),
		ExpiresAt:  &expires,
		CreatedBy:  principal.UserID,
		UpdatedBy:  principal.UserID,
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			// Lost the race to another request; the winner's cart is the one.
			return s.txRepo.GetPending(ctx, principal.PharmacyID, kind)
		}
		return transactions.Transaction{}, err
	}
	s.logger.InfoContext(ctx, "cart opened", "transaction_id", t.ID, "kind", kind, "number", number)
	return t, nil
}

func (s *Service) save(ctx context.Context, principal shared.Principal, t transactions.Transaction, items []transactions.Item, discount, tax float64) (Cart, error) {
	totals := transactions.ComputeTotals(items, discount, tax, 0)
	expires := s.now().Add(s.ttl)
	if err := s.txRepo.ReplaceItems(ctx, principal.PharmacyID, t.ID, t.Version, items, totals, expires, principal.UserID); err != nil {
		return Cart{}, err
	}
	t.Items = items
	t.Subtotal, t.Discount, t.Tax, t.Total = totals.Subtotal, totals.Discount, totals.Tax, totals.Total
	t.ExpiresAt = &expires
	t.LastActivityAt = s.now()
	return toCart(t), nil
}
