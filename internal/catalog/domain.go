// Package catalog owns medicine stock. The order engine reads price and
// availability from it and issues signed quantity deltas; quantity never goes
// below zero.
package catalog

import "time"

// Medicine is a catalog entry with its live stock quantity.
type Medicine struct {
	ID           int64      `json:"id" db:"id"`
	PharmacyID   int64      `json:"pharmacy_id" db:"pharmacy_id"`
	Name         string     `json:"name" db:"name"`
	GenericName  string     `json:"generic_name" db:"generic_name"`
	Form         string     `json:"form,omitempty" db:"form"`
	PackSize     string     `json:"pack_size,omitempty" db:"pack_size"`
	BatchNumber  string     `json:"batch_number,omitempty" db:"batch_number"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
	Manufacturer string     `json:"manufacturer,omitempty" db:"manufacturer"`
	Quantity     int64      `json:"quantity" db:"quantity"`
	UnitPrice    float64    `json:"unit_price" db:"unit_price"`
	CostPrice    float64    `json:"cost_price" db:"cost_price"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// QuantityDelta is one signed stock movement inside a batch adjustment.
type QuantityDelta struct {
	MedicineID int64
	Delta      int64
}
