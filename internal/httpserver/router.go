package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carecore/internal/alerts"
	"carecore/internal/auth"
	"carecore/internal/incidents"
)

type RouteDeps struct {
	Logger      *slog.Logger
	Auth        *auth.Service
	Incidents   *incidents.Handler
	Intake      *alerts.Intake
	IngestToken string
	Gatherer    prometheus.Gatherer
	Ready       func() bool
}

func NewRouter(deps RouteDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Api-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if deps.Ready != nil && !deps.Ready() {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/auth/login", &auth.LoginHandler{Service: deps.Auth, Logger: deps.Logger})
		r.Method(http.MethodPost, "/alerts", &alerts.IngestHandler{
			Intake:      deps.Intake,
			Logger:      deps.Logger,
			IngestToken: deps.IngestToken,
		})

		r.Route("/incidents", func(r chi.Router) {
			h := deps.Incidents
			r.Use(auth.JWTMiddleware(deps.Auth))
			r.Get("/", h.List)
			r.Get("/metrics", h.Metrics)
			r.Get("/{id}", h.Get)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleClinician))
				r.Patch("/{id}/acknowledge", h.Acknowledge)
				r.Patch("/{id}/start", h.Start)
				r.Post("/{id}/notes", h.AddNote)
				r.Patch("/{id}/resolve", h.Resolve)
			})
		})
	})

	return r
}
