package salesproj

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/recyleto/recyleto/internal/platform/httpx"
	"github.com/recyleto/recyleto/internal/shared"
)

// Handler exposes the sales read model.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales", h.handleList)
	r.Post("/sales/resync", h.handleResync)
}

var resyncGroup singleflight.Group

// handleResync rebuilds the pharmacy's projection from its transactions.
// Concurrent requests for the same pharmacy share one rebuild.
func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	resultChan := resyncGroup.DoChan(strconv.FormatInt(principal.PharmacyID, 10), func() (interface{}, error) {
		n, err := h.service.ResyncPharmacy(r.Context(), principal.PharmacyID)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
	select {
	case <-r.Context().Done():
		httpx.Problem(w, http.StatusServiceUnavailable, "timeout", "Resync interrupted", r.Context().Err().Error())
	case res := <-resultChan:
		if res.Err != nil {
			httpx.RespondError(w, res.Err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"synced": res.Val})
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "missing principal")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
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
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": list})
}
