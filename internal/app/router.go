package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/recyleto/recyleto/internal/cart"
	"github.com/recyleto/recyleto/internal/catalog"
	"github.com/recyleto/recyleto/internal/checkout"
	"github.com/recyleto/recyleto/internal/observability"
	"github.com/recyleto/recyleto/internal/receipts"
	"github.com/recyleto/recyleto/internal/refunds"
	"github.com/recyleto/recyleto/internal/salesproj"
	"github.com/recyleto/recyleto/internal/transactions"
	"github.com/recyleto/recyleto/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	CatalogHandler      *catalog.Handler
	CartHandler         *cart.Handler
	CheckoutHandler     *checkout.Handler
	TransactionsHandler *transactions.Handler
	ReceiptsHandler     *receipts.Handler
	RefundsHandler      *refunds.Handler
	SalesHandler        *salesproj.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with Recyleto defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrincipalMiddleware(params.Logger))
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.CartHandler != nil {
			params.CartHandler.MountRoutes(r)
		}
		if params.CheckoutHandler != nil {
			params.CheckoutHandler.MountRoutes(r)
		}
		if params.TransactionsHandler != nil {
			params.TransactionsHandler.MountRoutes(r)
		}
		if params.ReceiptsHandler != nil {
			params.ReceiptsHandler.MountRoutes(r)
		}
		if params.RefundsHandler != nil {
			params.RefundsHandler.MountRoutes(r)
		}
		if params.SalesHandler != nil {
			params.SalesHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
