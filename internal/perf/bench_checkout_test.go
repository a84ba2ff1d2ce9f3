package perf

import (
	"testing"
	"time"

	"github.com/recyleto/recyleto/internal/checkout"
	"github.com/recyleto/recyleto/internal/transactions"
)

var benchItems = []transactions.Item{
	{MedicineID: 1, Name: "Paracetamol 500mg", Quantity: 3, UnitPrice: 10.00, LineTotal: 30.00},
	{MedicineID: 2, Name: "Amoxicillin 250mg", Quantity: 2, UnitPrice: 18.50, LineTotal: 37.00},
	{MedicineID: 3, Name: "Ibuprofen 400mg", Quantity: 1, UnitPrice: 12.00, LineTotal: 12.00},
}

var benchFees = checkout.FeePolicy{BaseFee: 5.00, FreeThreshold: 50.00, Surcharge: 3.00}

func BenchmarkComputeTotals(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = transactions.ComputeTotals(benchItems, 5.00, 2.00, 5.00)
	}
}

func BenchmarkSimulatePayment(b *testing.B) {
	details := checkout.PaymentDetails{PhoneNumber: "+233201234567", Provider: "mtn"}
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := checkout.SimulatePayment(checkout.PaymentMobileMoney, details, 79.00, now); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkQuoteDelivery(b *testing.B) {
	req := checkout.DeliveryRequest{Method: "delivery", Address: "12 Ring Road", Locality: "Accra"}
	for i := 0; i < b.N; i++ {
		if _, err := checkout.QuoteDelivery(req, 42.00, benchFees); err != nil {
			b.Fatal(err)
		}
	}
}
