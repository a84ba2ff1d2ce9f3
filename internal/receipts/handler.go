package receipts

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/recyleto/recyleto/internal/platform/httpx"
	"github.com/recyleto/recyleto/internal/shared"
)

// Handler wires HTTP endpoints for receipts.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs receipts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/receipts", h.handleList)
	r.Get("/receipts/{number}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	q := r.URL.Query()
	var filter ListFilter
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &ts
		}
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
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	number := chi.URLParam(r, "number")
	if number == "" {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid receipt number", "receipt number is required")
		return
	}
	rc, err := h.service.GetByNumber(r.Context(), principal.PharmacyID, number)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rc)
}
