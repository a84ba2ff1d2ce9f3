package shared

import "errors"

// Domain error kinds shared across modules. Handlers map these onto stable
// problem kinds via the httpx package; services wrap them with context using
// fmt.Errorf("...: %w", err).
var (
	// ErrNotFound indicates a cart, transaction, receipt, refund or medicine is absent.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCart indicates checkout was attempted on an empty or missing cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock indicates available stock does not cover the requested quantity.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity indicates a quantity or amount is out of range, such
	// as a refund quantity exceeding what remains refundable.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrValidation indicates a request field is missing or malformed.
	ErrValidation = errors.New("validation failed")
	// ErrRefundWindowExpired indicates the receipt is older than the refund window.
	ErrRefundWindowExpired = errors.New("refund window expired")
	// ErrConflict indicates a duplicate outstanding refund, a lost checkout race,
	// or an exhausted numbering collision retry.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates a forbidden state-machine transition or an edit
	// of an immutable record.
	ErrInvalidState = errors.New("invalid state")
	// ErrPaymentRejected indicates required payment sub-fields are missing.
	ErrPaymentRejected = errors.New("payment rejected")
	// ErrInternalInconsistency flags a partial commit that needs out-of-band
	// reconciliation. The normal checkout path commits stock as one batch and
	// never produces it.
	ErrInternalInconsistency = errors.New("internal inconsistency")
)

// ErrorKind returns the stable machine-readable kind for a domain error, or
// an empty string for unexpected errors.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRefundWindowExpired):
		return "refund_window_expired"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrPaymentRejected):
		return "payment_rejected"
	case errors.Is(err, ErrInternalInconsistency):
		return "internal_inconsistency"
	default:
		return ""
	}
}
