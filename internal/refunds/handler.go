package refunds

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/recyleto/recyleto/internal/platform/httpx"
	"github.com/recyleto/recyleto/internal/shared"
)

// Handler wires HTTP endpoints for refunds.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs refunds handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers refund routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/refunds", h.handleRequest)
	r.Get("/refunds", h.handleList)
	r.Get("/refunds/{id}", h.handleGet)
	r.Patch("/refunds/{id}/approve", h.handleApprove)
	r.Patch("/refunds/{id}/reject", h.handleReject)
	r.Patch("/refunds/{id}/complete", h.handleComplete)
	r.Patch("/refunds/{id}/cancel", h.handleCancel)
}

func refundID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type requestBody struct {
	ReceiptNumber string          `json:"receipt_number" validate:"required"`
	Reason        string          `json:"reason" validate:"required"`
	Items         []ItemSelection `json:"items,omitempty" validate:"omitempty,dive"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	var req requestBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	rf, err := h.service.Request(r.Context(), principal, req.ReceiptNumber, req.Reason, req.Items)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rf)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if v, err := strconv.ParseInt(q.Get("receipt_id"), 10, 64); err == nil {
		filter.ReceiptID = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = v
	}
	list, err := h.service.List(r.Context(), principal.PharmacyID, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"refunds": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	id, ok := refundID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid refund id", "refund id must be a positive integer")
		return
	}
	rf, err := h.service.Get(r.Context(), principal.PharmacyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rf)
}

type approveBody struct {
	PaymentMethod string `json:"payment_method,omitempty"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	id, ok := refundID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid refund id", "refund id must be a positive integer")
		return
	}
	var req approveBody
	_ = httpx.DecodeJSON(r, &req)
	rf, err := h.service.Approve(r.Context(), principal, id, req.PaymentMethod)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rf)
}

type rejectBody struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	id, ok := refundID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid refund id", "refund id must be a positive integer")
		return
	}
	var req rejectBody
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	rf, err := h.service.Reject(r.Context(), principal, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rf)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	id, ok := refundID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid refund id", "refund id must be a positive integer")
		return
	}
	rf, err := h.service.Complete(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rf)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	id, ok := refundID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid refund id", "refund id must be a positive integer")
		return
	}
	rf, err := h.service.Cancel(r.Context(), principal, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rf)
}
