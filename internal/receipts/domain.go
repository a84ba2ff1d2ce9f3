package receipts

import (
	"time"
)

// Item is one line copied from the completed transaction. Receipts never
// change after issue, so lines carry their own money values.
type Item struct {
	ID         int64   `json:"id" db:"id"`
	MedicineID int64   `json:"medicine_id" db:"medicine_id"`
	Name       string  `json:"name" db:"name"`
	Quantity   int64   `json:"quantity" db:"quantity"`
	UnitPrice  float64 `json:"unit_price" db:"unit_price"`
	LineTotal  float64 `json:"line_total" db:"line_total"`
}

// Receipt is the immutable proof of a completed transaction.
type Receipt struct {
	ID                int64     `json:"id" db:"id"`
	PharmacyID        int64     `json:"pharmacy_id" db:"pharmacy_id"`
	Number            string    `json:"number" db:"number"`
	TransactionID     int64     `json:"transaction_id" db:"transaction_id"`
	TransactionNumber string    `json:"transaction_number" db:"transaction_number"`
	Items             []Item    `json:"items"`
	Subtotal          float64   `json:"subtotal" db:"subtotal"`
	Discount          float64   `json:"discount" db:"discount"`
	Tax               float64   `json:"tax" db:"tax"`
	DeliveryFee       float64   `json:"delivery_fee" db:"delivery_fee"`
	Total             float64   `json:"total" db:"total"`
	PaymentMethod     string    `json:"payment_method" db:"payment_method"`
	PaymentReference  string    `json:"payment_reference" db:"payment_reference"`
	CustomerName      string    `json:"customer_name,omitempty" db:"customer_name"`
	CustomerPhone     string    `json:"customer_phone,omitempty" db:"customer_phone"`
	CustomerEmail     string    `json:"customer_email,omitempty" db:"customer_email"`
	IssuedAt          time.Time `json:"issued_at" db:"issued_at"`
}

// ListFilter narrows List results.
type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}
