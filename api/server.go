/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     chi request id
  2. RequestLogger: request-scoped slog logger, one line per request
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the entry grid frontend
  5. RateLimit:     Per-IP limit (ulule/limiter, in-memory), optional

ROUTE GROUPS:
  /api/rules                              Global rule catalog
  /api/companies/{companyID}/*            Company scoped, caller required
  /api/scenarios/*                        Demo scenarios (sqlite only);
                                          load and reset need an admin caller
  /healthz                                Liveness

SECURITY NOTE:
  Authentication happens in front of this service. The caller identity
  headers are trusted as-is.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: logging, rate limit, caller identity
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/rate-engine/payroll"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger      *slog.Logger
	CORSOrigins []string

	// RateLimit is a ulule formatted rate such as "300-M". Empty disables it.
	RateLimit string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) (*chi.Mux, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserAdmin, HeaderRequestID},
		ExposedHeaders:   []string{HeaderRequestID},
		AllowCredentials: !wildcardOrigin(opts.CORSOrigins),
	}))
	if opts.RateLimit != "" {
		limit, err := RateLimit(opts.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Use(limit)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/rules", h.ListRules)

		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Use(RequireCaller)

			// Rule routes
			r.Route("/rules", func(r chi.Router) {
				r.Get("/", h.GetCompanyRules)
				r.Put("/", h.UpdateCompanyRules)
				r.Post("/defaults", h.EnableDefaultRules)
			})

			// Work entry routes
			r.Route("/work-entries", func(r chi.Router) {
				r.Get("/", h.ListEntries)
				r.Post("/", h.CreateEntry)
				r.Post("/resolve", h.ResolveRates)
				r.Post("/prepare", h.PrepareEntry)
				r.Post("/batch", h.ReconcileBatch)
				r.Post("/confirm", h.Confirm)
				r.Get("/pending", h.ListPending)
				r.Delete("/pending/{key}", h.RemovePending)
				r.Get("/month-total", h.MonthTotal)
				r.Put("/{id}", h.UpdateEntry)
				r.Delete("/{id}", h.DeleteEntry)
			})

			// Report routes
			r.Route("/reports", func(r chi.Router) {
				r.Use(h.requirePermission(payroll.PermPageReports))
				r.Get("/worker-pays", h.WorkerPays)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Group(func(r chi.Router) {
				r.Use(RequireCaller, RequireAdmin)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		})
	})

	return r, nil
}

// wildcardOrigin reports whether origins allow any site. Credentialed
// requests are only allowed for an explicit origin list.
func wildcardOrigin(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
