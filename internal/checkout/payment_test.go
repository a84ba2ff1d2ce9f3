package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recyleto/recyleto/internal/shared"
)

var paymentNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func TestSimulatePaymentCash(t *testing.T) {
	p, err := SimulatePayment(PaymentCash, PaymentDetails{}, 30.00, paymentNow)
	require.NoError(t, err)
	require.Equal(t, "completed", p.Status)
	require.InDelta(t, 30.00, p.Amount, 0.001)
	require.Regexp(t, `^CASH-\d+$`, p.Reference)
	require.Nil(t, p.DueDate)
}

func TestSimulatePaymentRequiredFields(t *testing.T) {
	cases := []struct {
		method  PaymentMethod
		details PaymentDetails
		missing string
	}{
		{PaymentCard, PaymentDetails{CardNumber: "4111111111111111", CardExpiry: "12/27"}, "card_cvv"},
		{PaymentMobileMoney, PaymentDetails{PhoneNumber: "+233201234567"}, "provider"},
		{PaymentBankTransfer, PaymentDetails{BankName: "GCB"}, "account_number"},
		{PaymentDigitalWallet, PaymentDetails{Provider: "vodafone_cash"}, "wallet_id"},
	}
	for _, tc := range cases {
		_, err := SimulatePayment(tc.method, tc.details, 10.00, paymentNow)
		require.ErrorIs(t, err, shared.ErrPaymentRejected, "method %s", tc.method)
		require.Contains(t, err.Error(), tc.missing)
	}
}

func TestSimulatePaymentCompleteDetails(t *testing.T) {
	cases := []struct {
		method  PaymentMethod
		details PaymentDetails
		prefix  string
	}{
		{PaymentCard, PaymentDetails{CardNumber: "4111111111111111", CardExpiry: "12/27", CardCVV: "123"}, "CARD-"},
		{PaymentMobileMoney, PaymentDetails{PhoneNumber: "+233201234567", Provider: "mtn"}, "MM-"},
		{PaymentBankTransfer, PaymentDetails{AccountNumber: "0012345678", BankName: "GCB"}, "BANK-"},
		{PaymentDigitalWallet, PaymentDetails{WalletID: "W-42", Provider: "vodafone_cash"}, "WALLET-"},
	}
	for _, tc := range cases {
		p, err := SimulatePayment(tc.method, tc.details, 10.00, paymentNow)
		require.NoError(t, err, "method %s", tc.method)
		require.Equal(t, "completed", p.Status)
		require.Regexp(t, "^"+tc.prefix+`\d+$`, p.Reference)
	}
}

func TestSimulatePaymentCreditDueDate(t *testing.T) {
	p, err := SimulatePayment(PaymentCredit, PaymentDetails{}, 45.00, paymentNow)
	require.NoError(t, err)
	require.Equal(t, "pending", p.Status)
	require.NotNil(t, p.DueDate)
	require.Equal(t, paymentNow.Add(30*24*time.Hour), *p.DueDate)
	require.Regexp(t, `^CREDIT-\d+$`, p.Reference)
}

func TestSimulatePaymentUnknownMethod(t *testing.T) {
	_, err := SimulatePayment(PaymentMethod("barter"), PaymentDetails{}, 5.00, paymentNow)
	require.ErrorIs(t, err, shared.ErrPaymentRejected)
}
