package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wakala/reconagent/internal/agent"
	"github.com/wakala/reconagent/internal/ingestion"
	"github.com/wakala/reconagent/internal/metrics"
	"github.com/wakala/reconagent/internal/repository"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// CycleTimeout bounds a cycle triggered over HTTP. Zero means no bound
	// beyond the request context.
	CycleTimeout time.Duration
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(st *repository.Store, cycler agent.Cycler, ingestionSvc *ingestion.Service, opts Options) http.Handler {
	h := &Handlers{
		runs:         st.Runs,
		alerts:       st.Alerts,
		logs:         st.Investigations,
		cycler:       cycler,
		ingestionSvc: ingestionSvc,
		cycleTimeout: opts.CycleTimeout,
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Agent.
		r.Post("/cycles", h.RunCycle)

		// Ingestion.
		r.Post("/transactions/ingest", h.IngestTransactions)

		// Queries.
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/beliefs", h.GetBeliefs)
		r.Get("/investigation-logs", h.GetInvestigationLogs)
		r.Get("/reports", h.ListReports)
		r.Get("/reports/latest", h.GetLatestReport)
	})

	return r
}
