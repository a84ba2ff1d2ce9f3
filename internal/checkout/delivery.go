package checkout

import (
	"fmt"
	"strings"

	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// DeliveryMethod names a fulfilment choice.
type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "pickup"
	DeliveryCourier DeliveryMethod = "delivery"
)

// DeliveryRequest is the fulfilment part of a checkout request.
type DeliveryRequest struct {
	Method   string `json:"method" validate:"omitempty,oneof=pickup delivery"`
	Address  string `json:"address,omitempty"`
	Locality string `json:"locality,omitempty"`
}

// FeePolicy holds the delivery pricing knobs, loaded from config.
type FeePolicy struct {
	BaseFee       float64
	FreeThreshold float64
	Surcharge     float64
}

var surchargedLocalities = []string{"remote", "rural"}

// QuoteDelivery prices the fulfilment choice against the order amount.
// Pickup is always free. Courier delivery requires an address, is free above
// the threshold, and carries a surcharge for hard-to-reach localities.
func QuoteDelivery(req DeliveryRequest, orderAmount float64, policy FeePolicy) (transactions.Delivery, error) {
	method := DeliveryMethod(req.Method)
	if method == "" {
		method = DeliveryPickup
	}
	switch method {
	case DeliveryPickup:
		return transactions.Delivery{Method: string(DeliveryPickup)}, nil
	case DeliveryCourier:
	default:
		return transactions.Delivery{}, fmt.Errorf("unsupported delivery method %q: %w", req.Method, shared.ErrValidation)
	}
	if strings.TrimSpace(req.Address) == "" {
		return transactions.Delivery{}, fmt.Errorf("delivery address is required for delivery orders: %w", shared.ErrValidation)
	}

	del := transactions.Delivery{
		Method:   string(DeliveryCourier),
		Address:  req.Address,
		Locality: req.Locality,
	}
	if orderAmount > policy.FreeThreshold {
		return del, nil
	}
	fee := policy.BaseFee
	locality := strings.ToLower(req.Locality)
	for _, area := range surchargedLocalities {
		if strings.Contains(locality, area) {
			fee += policy.Surcharge
			break
		}
	}
	del.Fee = fee
	return del, nil
}
