package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/recyleto/recyleto/internal/receipts"
)

// Mailer sends plain-text receipt copies through a local SMTP relay.
// Delivery is best effort; a lost email never fails a checkout.
type Mailer struct {
	addr   string
	from   string
	logger *slog.Logger
	send   func(addr, from string, to []string, msg []byte) error
}

// NewMailer builds a Mailer for host:port.
func NewMailer(host string, port int, from string, logger *slog.Logger) *Mailer {
	return &Mailer{
		addr:   fmt.Sprintf("%s:%d", host, port),
		from:   from,
		logger: logger,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

// SendReceipt mails a rendered receipt to the customer on file.
func (m *Mailer) SendReceipt(ctx context.Context, rc receipts.Receipt) error {
	if rc.CustomerEmail == "" {
		return nil
	}
	msg := buildMessage(m.from, rc.CustomerEmail,
		fmt.Sprintf("Your receipt %s", rc.Number), RenderReceipt(rc))
	if err := m.send(m.addr, m.from, []string{rc.CustomerEmail}, msg); err != nil {
		m.logger.WarnContext(ctx, "receipt email failed",
			"receipt", rc.Number, "to", rc.CustomerEmail, "error", err)
		return fmt.Errorf("send receipt %s: %w", rc.Number, err)
	}
	m.logger.InfoContext(ctx, "receipt emailed", "receipt", rc.Number, "to", rc.CustomerEmail)
	return nil
}

// RenderReceipt formats a receipt as plain text.
func RenderReceipt(rc receipts.Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Receipt %s\n", rc.Number)
	fmt.Fprintf(&b, "Transaction %s\n", rc.TransactionNumber)
	fmt.Fprintf(&b, "Issued %s\n\n", rc.IssuedAt.Format("2006-01-02 15:04"))
	for _, it := range rc.Items {
		fmt.Fprintf(&b, "%-30s %3d x %8.2f = %9.2f\n", it.Name, it.Quantity, it.UnitPrice, it.LineTotal)
	}
	fmt.Fprintf(&b, "\nSubtotal %30.2f\n", rc.Subtotal)
	if rc.Discount > 0 {
		fmt.Fprintf(&b, "Discount %30.2f\n", -rc.Discount)
	}
	if rc.Tax > 0 {
		fmt.Fprintf(&b, "Tax %35.2f\n", rc.Tax)
	}
	if rc.DeliveryFee > 0 {
		fmt.Fprintf(&b, "Delivery %30.2f\n", rc.DeliveryFee)
	}
	fmt.Fprintf(&b, "Total %33.2f\n", rc.Total)
	fmt.Fprintf(&b, "\nPaid by %s (%s)\n", rc.PaymentMethod, rc.PaymentReference)
	if rc.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", rc.CustomerName)
	}
	b.WriteString("\nThank you for your purchase.\n")
	return b.String()
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
