package checkout

import (
	"fmt"
	"sort"
	"time"

	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// PaymentMethod names a supported settlement method.
type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCard          PaymentMethod = "card"
	PaymentMobileMoney   PaymentMethod = "mobile_money"
	PaymentBankTransfer  PaymentMethod = "bank_transfer"
	PaymentDigitalWallet PaymentMethod = "digital_wallet"
	PaymentCredit        PaymentMethod = "credit"
)

// PaymentDetails carries the method-specific sub-fields of a checkout
// request. Only the fields of the chosen method are read.
type PaymentDetails struct {
	CardNumber    string `json:"card_number,omitempty"`
	CardExpiry    string `json:"card_expiry,omitempty"`
	CardCVV       string `json:"card_cvv,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	Provider      string `json:"provider,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	BankName      string `json:"bank_name,omitempty"`
	WalletID      string `json:"wallet_id,omitempty"`
}

var paymentRefPrefixes = map[PaymentMethod]string{
	PaymentCash:          "CASH",
	PaymentCard:          "CARD",
	PaymentMobileMoney:   "MM",
	PaymentBankTransfer:  "BANK",
	PaymentDigitalWallet: "WALLET",
	PaymentCredit:        "CREDIT",
}

const creditTerm = 30 * 24 * time.Hour

// SimulatePayment validates the method's required sub-fields and mints a
// synthetic settlement reference. There is no external payment provider;
// acceptance is deterministic given complete details. Credit sales settle
// later and carry a due date instead of an immediate completion.
func SimulatePayment(method PaymentMethod, details PaymentDetails, amount float64, now time.Time) (transactions.Payment, error) {
	prefix, ok := paymentRefPrefixes[method]
	if !ok {
		return transactions.Payment{}, fmt.Errorf("unsupported payment method %q: %w", method, shared.ErrPaymentRejected)
	}

	var missing []string
	switch method {
	case PaymentCard:
		missing = requireFields(map[string]string{
			"card_number": details.CardNumber,
			"card_expiry": details.CardExpiry,
			"card_cvv":    details.CardCVV,
		})
	case PaymentMobileMoney:
		missing = requireFields(map[string]string{
			"phone_number": details.PhoneNumber,
			"provider":     details.Provider,
		})
	case PaymentBankTransfer:
		missing = requireFields(map[string]string{
			"account_number": details.AccountNumber,
			"bank_name":      details.BankName,
		})
	case PaymentDigitalWallet:
		missing = requireFields(map[string]string{
			"wallet_id": details.WalletID,
			"provider":  details.Provider,
		})
	}
	if len(missing) > 0 {
		return transactions.Payment{}, fmt.Errorf("%s details incomplete, missing %v: %w", method, missing, shared.ErrPaymentRejected)
	}

	p := transactions.Payment{
		Method:    string(method),
		Amount:    amount,
		Status:    "completed",
		Reference: fmt.Sprintf("%s-%d", prefix, now.UnixMilli()),
	}
	if method == PaymentCredit {
		due := now.Add(creditTerm)
		p.Status = "pending"
		p.DueDate = &due
	}
	return p, nil
}

func requireFields(fields map[string]string) []string {
	var missing []string
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
