package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTransactionSync projects a completed transaction into the sales ledger.
	TaskTransactionSync = "sales:sync_transaction"
	// TaskRefundSync folds a refund into its sale projection.
	TaskRefundSync = "sales:sync_refund"
	// TaskReceiptMail emails a receipt copy to the customer.
	TaskReceiptMail = "mail:receipt"
	// TaskCartSweep cancels pending carts past their TTL.
	TaskCartSweep = "cart:sweep"
)

// TransactionSyncPayload identifies the transaction to project.
type TransactionSyncPayload struct {
	PharmacyID    int64 `json:"pharmacy_id"`
	TransactionID int64 `json:"transaction_id"`
}

// RefundSyncPayload identifies the refund to fold in.
type RefundSyncPayload struct {
	PharmacyID int64 `json:"pharmacy_id"`
	RefundID   int64 `json:"refund_id"`
}

// ReceiptMailPayload identifies the receipt to email.
type ReceiptMailPayload struct {
	PharmacyID int64 `json:"pharmacy_id"`
	ReceiptID  int64 `json:"receipt_id"`
}

// CartSweepPayload carries scheduling metadata for the cart sweep.
type CartSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewTransactionSyncTask constructs an Asynq task for sale projection.
func NewTransactionSyncTask(pharmacyID, transactionID int64) (*asynq.Task, error) {
	body, err := json.Marshal(TransactionSyncPayload{PharmacyID: pharmacyID, TransactionID: transactionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransactionSync, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewRefundSyncTask constructs an Asynq task for refund projection.
func NewRefundSyncTask(pharmacyID, refundID int64) (*asynq.Task, error) {
	body, err := json.Marshal(RefundSyncPayload{PharmacyID: pharmacyID, RefundID: refundID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefundSync, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewReceiptMailTask constructs an Asynq task for the receipt email.
func NewReceiptMailTask(pharmacyID, receiptID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReceiptMailPayload{PharmacyID: pharmacyID, ReceiptID: receiptID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReceiptMail, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewCartSweepTask constructs the scheduled cart sweep task.
func NewCartSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CartSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCartSweep, body, asynq.Queue(QueueDefault)), nil
}

// Client submits jobs to the queue. It implements the enqueuer ports of
// the checkout and refund services.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueTransactionSync queues a sale projection job.
func (c *Client) EnqueueTransactionSync(ctx context.Context, pharmacyID, transactionID int64) error {
	task, err := NewTransactionSyncTask(pharmacyID, transactionID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// EnqueueRefundSync queues a refund projection job.
func (c *Client) EnqueueRefundSync(ctx context.Context, pharmacyID, refundID int64) error {
	task, err := NewRefundSyncTask(pharmacyID, refundID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// EnqueueReceiptMail queues a receipt email job.
func (c *Client) EnqueueReceiptMail(ctx context.Context, pharmacyID, receiptID int64) error {
	task, err := NewReceiptMailTask(pharmacyID, receiptID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
