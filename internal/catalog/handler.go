package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/recyleto/recyleto/internal/platform/httpx"
	"github.com/recyleto/recyleto/internal/shared"
)

// Handler wires HTTP endpoints for the medicine catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/medicines/{id}", h.handleGetMedicine)
}

func (h *Handler) handleGetMedicine(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid_argument", "Invalid medicine id", "medicine id must be a positive integer")
		return
	}
	med, err := h.service.GetMedicine(r.Context(), principal.PharmacyID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, med)
}
