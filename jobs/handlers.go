package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/recyleto/recyleto/internal/receipts"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// TransactionsPort reads and sweeps transactions for background work.
type TransactionsPort interface {
	Get(ctx context.Context, pharmacyID, id int64) (transactions.Transaction, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReceiptsPort issues and loads receipts during repair.
type ReceiptsPort interface {
	Issue(ctx context.Context, t transactions.Transaction) (receipts.Receipt, error)
	GetByID(ctx context.Context, pharmacyID, id int64) (receipts.Receipt, error)
	GetByTransactionID(ctx context.Context, pharmacyID, transactionID int64) (receipts.Receipt, error)
}

// SalesPort projects sales and refunds.
type SalesPort interface {
	SyncTransaction(ctx context.Context, pharmacyID, transactionID int64) error
	SyncRefund(ctx context.Context, pharmacyID, refundID int64) error
}

// MailerPort sends receipt emails.
type MailerPort interface {
	SendReceipt(ctx context.Context, rc receipts.Receipt) error
}

// IdempotencyPort guards tasks with side effects that must not repeat on
// asynq retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Handlers processes queued tasks against the domain services.
type Handlers struct {
	txs      TransactionsPort
	receipts ReceiptsPort
	sales    SalesPort
	mailer   MailerPort
	idem     IdempotencyPort
	logger   *slog.Logger
}

// NewHandlers builds the task handler set.
func NewHandlers(txs TransactionsPort, rcpt ReceiptsPort, sales SalesPort, mailer MailerPort, idem IdempotencyPort, logger *slog.Logger) *Handlers {
	return &Handlers{txs: txs, receipts: rcpt, sales: sales, mailer: mailer, idem: idem, logger: logger}
}

// HandleTransactionSync repairs a missing receipt if needed, then projects
// the transaction into the sales ledger.
func (h *Handlers) HandleTransactionSync(ctx context.Context, t *asynq.Task) error {
	var payload TransactionSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tx, err := h.txs.Get(ctx, payload.PharmacyID, payload.TransactionID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	if tx.Kind == transactions.KindSale {
		if _, err := h.receipts.GetByTransactionID(ctx, payload.PharmacyID, tx.ID); errors.Is(err, shared.ErrNotFound) {
			if _, err := h.receipts.Issue(ctx, tx); err != nil {
				h.logger.WarnContext(ctx, "receipt repair failed",
					"transaction_id", tx.ID, "error", err)
				return err
			}
			h.logger.InfoContext(ctx, "receipt repaired", "transaction_id", tx.ID)
		}
	}
	return h.sales.SyncTransaction(ctx, payload.PharmacyID, payload.TransactionID)
}

// HandleRefundSync folds a refund into its sale projection.
func (h *Handlers) HandleRefundSync(ctx context.Context, t *asynq.Task) error {
	var payload RefundSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := h.sales.SyncRefund(ctx, payload.PharmacyID, payload.RefundID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	return nil
}

// HandleReceiptMail sends the customer their receipt copy.
func (h *Handlers) HandleReceiptMail(ctx context.Context, t *asynq.Task) error {
	var payload ReceiptMailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	rc, err := h.receipts.GetByID(ctx, payload.PharmacyID, payload.ReceiptID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	key := fmt.Sprintf("receipt-mail:%d:%d", payload.PharmacyID, payload.ReceiptID)
	if err := h.idem.CheckAndInsert(ctx, key, "mail"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return nil
		}
		return err
	}
	if err := h.mailer.SendReceipt(ctx, rc); err != nil {
		// Free the key so the retry can send.
		if delErr := h.idem.Delete(ctx, key); delErr != nil {
			h.logger.WarnContext(ctx, "idempotency rollback failed", "key", key, "error", delErr)
		}
		return err
	}
	return nil
}

// HandleCartSweep cancels pending carts past their TTL across all pharmacies.
func (h *Handlers) HandleCartSweep(ctx context.Context, t *asynq.Task) error {
	var payload CartSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	n, err := h.txs.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		h.logger.InfoContext(ctx, "expired carts swept", "count", n)
	}
	if err := h.idem.Cleanup(ctx, 30*24*time.Hour); err != nil {
		h.logger.WarnContext(ctx, "idempotency cleanup failed", "error", err)
	}
	return nil
}
