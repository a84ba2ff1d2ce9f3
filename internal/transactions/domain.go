package transactions

import (
	"time"
)

// Kind partitions transactions per pharmacy. Each kind has its own number
// sequence and its own single pending slot.
type Kind string

const (
	KindSale       Kind = "sale"
	KindPurchase   Kind = "purchase"
	KindReturn     Kind = "return"
	KindAdjustment Kind = "adjustment"
)

// ValidKind reports whether k is a known transaction kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindSale, KindPurchase, KindReturn, KindAdjustment:
		return true
	}
	return false
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending           Status = "pending"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:           {StatusCompleted, StatusCancelled},
	StatusCompleted:         {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusRefunded},
}

// CanTransition reports whether the edge from → to exists in the lifecycle.
// Cancelled and refunded are terminal.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeriveRefundStatus computes the refund-driven status of a completed
// transaction from the sum of its approved and completed refund amounts.
func DeriveRefundStatus(total, refunded float64) Status {
	switch {
	case refunded <= 0:
		return StatusCompleted
	case refunded >= total:
		return StatusRefunded
	default:
		return StatusPartiallyRefunded
	}
}

// Item is one transaction line. Batch and expiry are snapshotted from the
// catalog at add time so later catalog edits do not rewrite history.
type Item struct {
	ID          int64      `json:"id" db:"id"`
	MedicineID  int64      `json:"medicine_id" db:"medicine_id"`
	Name        string     `json:"name" db:"name"`
	Quantity    int64      `json:"quantity" db:"quantity"`
	UnitPrice   float64    `json:"unit_price" db:"unit_price"`
	LineTotal   float64    `json:"line_total" db:"line_total"`
	BatchNumber string     `json:"batch_number,omitempty" db:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
}

// Payment records how a transaction was settled.
type Payment struct {
	Method    string     `json:"method" db:"payment_method"`
	Amount    float64    `json:"amount" db:"payment_amount"`
	Status    string     `json:"status" db:"payment_status"`
	Reference string     `json:"reference" db:"payment_reference"`
	DueDate   *time.Time `json:"due_date,omitempty" db:"payment_due_date"`
}

// Delivery records the fulfilment choice made at checkout.
type Delivery struct {
	Method   string  `json:"method" db:"delivery_method"`
	Address  string  `json:"address,omitempty" db:"delivery_address"`
	Locality string  `json:"locality,omitempty" db:"delivery_locality"`
	Fee      float64 `json:"fee" db:"delivery_fee"`
}

// Totals is the server-computed money summary of a transaction.
type Totals struct {
	Subtotal    float64 `json:"subtotal"`
	Discount    float64 `json:"discount"`
	Tax         float64 `json:"tax"`
	DeliveryFee float64 `json:"delivery_fee"`
	Total       float64 `json:"total"`
}

// ComputeTotals recomputes the money summary from items plus the applied
// discount, tax and delivery fee. The grand total never goes below zero.
func ComputeTotals(items []Item, discount, tax, deliveryFee float64) Totals {
	var subtotal float64
	for _, it := range items {
		subtotal += float64(it.Quantity) * it.UnitPrice
	}
	total := subtotal + tax + deliveryFee - discount
	if total < 0 {
		total = 0
	}
	return Totals{Subtotal: subtotal, Discount: discount, Tax: tax, DeliveryFee: deliveryFee, Total: total}
}

// Transaction is the order document. While pending it acts as the cart;
// once completed its items and totals are frozen and only refund
// bookkeeping may move the status.
type Transaction struct {
	ID             int64      `json:"id" db:"id"`
	PharmacyID     int64      `json:"pharmacy_id" db:"pharmacy_id"`
	Kind           Kind       `json:"kind" db:"kind"`
	Number         string     `json:"number" db:"number"`
	Reference      string     `json:"reference" db:"reference"`
	Status         Status     `json:"status" db:"status"`
	Items          []Item     `json:"items"`
	Subtotal       float64    `json:"subtotal" db:"subtotal"`
	Discount       float64    `json:"discount" db:"discount"`
	Tax            float64    `json:"tax" db:"tax"`
	DeliveryFee    float64    `json:"delivery_fee" db:"delivery_fee"`
	Total          float64    `json:"total" db:"total"`
	Payment        *Payment   `json:"payment,omitempty"`
	Delivery       *Delivery  `json:"delivery,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty" db:"customer_name"`
	CustomerPhone  string     `json:"customer_phone,omitempty" db:"customer_phone"`
	CustomerEmail  string     `json:"customer_email,omitempty" db:"customer_email"`
	CancelReason   string     `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CheckedOutAt   *time.Time `json:"checked_out_at,omitempty" db:"checked_out_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastActivityAt time.Time  `json:"last_activity_at" db:"last_activity_at"`
	Version        int64      `json:"-" db:"version"`
	CreatedBy      int64      `json:"created_by" db:"created_by"`
	UpdatedBy      int64      `json:"updated_by" db:"updated_by"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether a pending transaction's cart TTL has lapsed.
func (t Transaction) Expired(now time.Time) bool {
	return t.Status == StatusPending && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// CompleteParams carries everything the pending → completed flip records.
type CompleteParams struct {
	PharmacyID    int64
	ID            int64
	Version       int64
	Totals        Totals
	Payment       Payment
	Delivery      Delivery
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	CheckedOutAt  time.Time
	UpdatedBy     int64
}

// ListFilter narrows List results.
type ListFilter struct {
	Kind   Kind
	Status Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
