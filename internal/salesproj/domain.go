package salesproj

import (
	"time"
)

// Status mirrors the refund-derived state of the source transaction.
type Status string

const (
	StatusCompleted         Status = "completed"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
)

// defaultMarginRate prices cost at 70% of the selling price when the
// catalog has no cost on record.
const defaultMarginRate = 0.70

// Item is one projected sale line with cost and profit denormalized in.
type Item struct {
	ID         int64   `json:"id" db:"id"`
	MedicineID int64   `json:"medicine_id" db:"medicine_id"`
	Name       string  `json:"name" db:"name"`
	Quantity   int64   `json:"quantity" db:"quantity"`
	UnitPrice  float64 `json:"unit_price" db:"unit_price"`
	CostPrice  float64 `json:"cost_price" db:"cost_price"`
	LineTotal  float64 `json:"line_total" db:"line_total"`
	Profit     float64 `json:"profit" db:"profit"`
}

// Sale is the read-optimized projection of a completed sale transaction.
// It is derived data: reporting reads it, nothing treats it as truth.
type Sale struct {
	ID                int64     `json:"id" db:"id"`
	PharmacyID        int64     `json:"pharmacy_id" db:"pharmacy_id"`
	TransactionID     int64     `json:"transaction_id" db:"transaction_id"`
	TransactionNumber string    `json:"transaction_number" db:"transaction_number"`
	ReceiptNumber     string    `json:"receipt_number,omitempty" db:"receipt_number"`
	Items             []Item    `json:"items"`
	Subtotal          float64   `json:"subtotal" db:"subtotal"`
	Discount          float64   `json:"discount" db:"discount"`
	Tax               float64   `json:"tax" db:"tax"`
	DeliveryFee       float64   `json:"delivery_fee" db:"delivery_fee"`
	Total             float64   `json:"total" db:"total"`
	Cost              float64   `json:"cost" db:"cost"`
	Profit            float64   `json:"profit" db:"profit"`
	PaymentMethod     string    `json:"payment_method" db:"payment_method"`
	Status            Status    `json:"status" db:"status"`
	LastRefundNumber  string    `json:"last_refund_number,omitempty" db:"last_refund_number"`
	RefundedAmount    float64   `json:"refunded_amount" db:"refunded_amount"`
	SoldAt            time.Time `json:"sold_at" db:"sold_at"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Status Status
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
