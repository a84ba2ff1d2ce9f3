package httpx

import (
	"errors"
	"net/http"

	"github.com/recyleto/recyleto/internal/shared"
)

// RespondError maps domain errors onto RFC7807 responses. Unexpected errors
// return a generic server error without leaking internals.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, shared.ErrorKind(err), "Not Found", err.Error())
	case errors.Is(err, shared.ErrEmptyCart):
		Problem(w, http.StatusBadRequest, shared.ErrorKind(err), "Empty Cart", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, shared.ErrorKind(err), "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrInvalidQuantity):
		Problem(w, http.StatusBadRequest, shared.ErrorKind(err), "Invalid Quantity", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, shared.ErrorKind(err), "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrRefundWindowExpired):
		Problem(w, http.StatusBadRequest, shared.ErrorKind(err), "Refund Window Expired", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, shared.ErrorKind(err), "Conflict", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusUnprocessableEntity, shared.ErrorKind(err), "Invalid State", err.Error())
	case errors.Is(err, shared.ErrPaymentRejected):
		Problem(w, http.StatusBadRequest, shared.ErrorKind(err), "Payment Rejected", err.Error())
	case errors.Is(err, shared.ErrInternalInconsistency):
		Problem(w, http.StatusInternalServerError, shared.ErrorKind(err), "Internal Inconsistency", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "", "Internal Error", "")
	}
}

// ValidationProblem reports a failed struct validation.
func ValidationProblem(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "validation", "Validation Failed", detail)
}
