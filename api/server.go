/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zap)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend
  5. Auth:       Bearer token on /api (see auth.go)

ROLES:
  viewer      Every GET
  accountant  Readings, adjustments, calculation, statements, payments
  admin       Units, vehicles, tariffs, locks, demo scenarios

UNAUTHENTICATED:
  /healthz    Database ping
  /metrics    Prometheus scrape endpoint

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	accountant := requireRole(RoleAccountant)
	admin := requireRole(RoleAdmin)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Use(requireRole(RoleViewer))

		// Unit routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.With(admin).Post("/", h.SaveUnit)
			r.With(admin).Post("/import", h.ImportRoster)
			r.Get("/{id}", h.GetUnit)
		})

		// Vehicle routes
		r.Route("/vehicles", func(r chi.Router) {
			r.Get("/", h.ListVehicles)
			r.With(admin).Post("/", h.RegisterVehicle)
			r.With(admin).Post("/{id}/activate", h.ActivateVehicle)
			r.With(admin).Post("/{id}/deactivate", h.DeactivateVehicle)
		})

		// Period routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Route("/{period}", func(r chi.Router) {
				r.Get("/", h.GetPeriod)
				r.Get("/readings", h.ListReadings)
				r.With(accountant).Post("/readings", h.RecordReadings)
				r.Get("/adjustments", h.ListAdjustments)
				r.With(accountant).Post("/adjustments", h.CreateAdjustment)
				r.With(accountant).Post("/calculate", h.CalculatePeriod)
				r.Get("/charges", h.ListCharges)
				r.With(accountant).Delete("/charges", h.DeleteCharges)
				r.With(admin).Post("/lock", h.LockPeriod)
				r.With(admin).Post("/unlock", h.UnlockPeriod)
				r.With(accountant).Post("/statement", h.ImportStatement)
				r.Get("/export.xlsx", h.ExportPeriod)
			})
		})

		// Charge routes
		r.Route("/charges", func(r chi.Router) {
			r.Get("/{id}", h.GetCharge)
			r.With(accountant).Post("/{id}/payment", h.RecordPayment)
			r.With(accountant).Post("/{id}/undo", h.UndoPayment)
			r.Get("/{id}/invoice.pdf", h.InvoicePDF)
		})

		// Tariff routes
		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", h.GetTariffs)
			r.Get("/history", h.TariffHistory)
			r.With(admin).Post("/", h.PublishTariffs)
		})

		r.Get("/activity", h.ListActivity)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.With(admin).Post("/load", h.LoadScenario)
			r.With(admin).Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
