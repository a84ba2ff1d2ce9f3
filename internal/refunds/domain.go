package refunds

import (
	"time"
)

// Status is the lifecycle state of a refund request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the edge from → to exists. Completed,
// rejected and cancelled are terminal.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outstanding reports whether a refund still blocks new requests on its
// receipt.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusApproved
}

// CountsAgainstRemaining reports whether a refund's quantities reduce what
// may still be refunded. Everything except rejected and cancelled counts.
func (s Status) CountsAgainstRemaining() bool {
	return s != StatusRejected && s != StatusCancelled
}

// Item is one refunded line, bounded by the receipt line it came from.
type Item struct {
	ID               int64   `json:"id" db:"id"`
	MedicineID       int64   `json:"medicine_id" db:"medicine_id"`
	Name             string  `json:"name" db:"name"`
	OriginalQuantity int64   `json:"original_quantity" db:"original_quantity"`
	RefundQuantity   int64   `json:"refund_quantity" db:"refund_quantity"`
	UnitPrice        float64 `json:"unit_price" db:"unit_price"`
	LineAmount       float64 `json:"line_amount" db:"line_amount"`
}

// Refund is a request to return sold goods against a receipt.
type Refund struct {
	ID              int64      `json:"id" db:"id"`
	PharmacyID      int64      `json:"pharmacy_id" db:"pharmacy_id"`
	Number          string     `json:"number" db:"number"`
	ReceiptID       int64      `json:"receipt_id" db:"receipt_id"`
	ReceiptNumber   string     `json:"receipt_number" db:"receipt_number"`
	TransactionID   int64      `json:"transaction_id" db:"transaction_id"`
	Items           []Item     `json:"items"`
	Amount          float64    `json:"amount" db:"amount"`
	Status          Status     `json:"status" db:"status"`
	Reason          string     `json:"reason" db:"reason"`
	RejectionReason string     `json:"rejection_reason,omitempty" db:"rejection_reason"`
	PaymentMethod   string     `json:"payment_method,omitempty" db:"payment_method"`
	RequestedBy     int64      `json:"requested_by" db:"requested_by"`
	ApprovedBy      *int64     `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ItemSelection narrows a refund request to specific lines.
type ItemSelection struct {
	MedicineID int64 `json:"medicine_id" validate:"required,gt=0"`
	Quantity   int64 `json:"quantity" validate:"required,gt=0"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status    Status
	ReceiptID int64
	Limit     int
	Offset    int
}
