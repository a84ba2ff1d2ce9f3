package checkout

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/recyleto/recyleto/internal/platform/httpx"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// Handler wires HTTP endpoints for checkout.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs checkout handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers checkout routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/checkout/summary", h.handleSummary)
	r.Post("/checkout", h.handleCheckout)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	q := r.URL.Query()
	req := DeliveryRequest{
		Method:   q.Get("delivery_method"),
		Address:  q.Get("delivery_address"),
		Locality: q.Get("delivery_locality"),
	}
	summary, err := h.service.GetSummary(r.Context(), principal, transactions.Kind(q.Get("kind")), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	if DeliveryMethod(req.Delivery.Method) == DeliveryCourier && req.Delivery.Address == "" {
		httpx.ValidationProblem(w, "delivery address is required for delivery orders")
		return
	}
	result, err := h.service.Checkout(r.Context(), principal, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
