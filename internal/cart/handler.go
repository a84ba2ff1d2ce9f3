package cart

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/recyleto/recyleto/internal/platform/httpx"
	"github.com/recyleto/recyleto/internal/shared"
	"github.com/recyleto/recyleto/internal/transactions"
)

// Handler wires HTTP endpoints for cart management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers cart routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cart", h.handleGet)
	r.Delete("/cart", h.handleClear)
	r.Post("/cart/lines", h.handleAddLine)
	r.Patch("/cart/lines/{medicineID}", h.handleUpdateLine)
	r.Delete("/cart/lines/{medicineID}", h.handleRemoveLine)
	r.Post("/cart/discount", h.handleDiscount)
	r.Post("/cart/tax", h.handleTax)
}

func requestKind(r *http.Request, fallback string) transactions.Kind {
	if fallback != "" {
		return transactions.Kind(fallback)
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = string(transactions.KindSale)
	}
	return transactions.Kind(kind)
}

func medicineIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "medicineID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	c, err := h.service.Get(r.Context(), principal, requestKind(r, ""))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type addLineRequest struct {
	Kind       string   `json:"kind"`
	MedicineID int64    `json:"medicine_id" validate:"required,gt=0"`
	Quantity   int64    `json:"quantity" validate:"required,gt=0"`
	UnitPrice  *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
}

func (h *Handler) handleAddLine(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	var req addLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	c, err := h.service.AddLine(r.Context(), principal, requestKind(r, req.Kind), req.MedicineID, req.Quantity, req.UnitPrice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type updateLineRequest struct {
	Kind      string   `json:"kind"`
	Quantity  *int64   `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	UnitPrice *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
}

func (h *Handler) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	medicineID, ok := medicineIDParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid medicine id", "medicine id must be a positive integer")
		return
	}
	var req updateLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	if req.Quantity == nil && req.UnitPrice == nil {
		httpx.ValidationProblem(w, "at least one of quantity or unit_price is required")
		return
	}
	c, err := h.service.UpdateLine(r.Context(), principal, requestKind(r, req.Kind), medicineID, req.Quantity, req.UnitPrice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleRemoveLine(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	medicineID, ok := medicineIDParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid medicine id", "medicine id must be a positive integer")
		return
	}
	c, err := h.service.RemoveLine(r.Context(), principal, requestKind(r, ""), medicineID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	c, err := h.service.Clear(r.Context(), principal, requestKind(r, ""))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type discountRequest struct {
	Kind  string  `json:"kind"`
	Type  string  `json:"type" validate:"required,oneof=fixed percentage"`
	Value float64 `json:"value" validate:"gte=0"`
}

func (h *Handler) handleDiscount(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	var req discountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	c, err := h.service.ApplyDiscount(r.Context(), principal, requestKind(r, req.Kind), DiscountKind(req.Type), req.Value)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type taxRequest struct {
	Kind   string  `json:"kind"`
	Amount float64 `json:"amount" validate:"gte=0"`
}

func (h *Handler) handleTax(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	var req taxRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.ValidationProblem(w, "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err.Error())
		return
	}
	c, err := h.service.SetTax(r.Context(), principal, requestKind(r, req.Kind), req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}
