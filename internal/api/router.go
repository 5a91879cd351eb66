/**
 * @description
 * HTTP router setup for the supporter-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDeps groups everything the router mounts.
type RouterDeps struct {
	Webhook        http.Handler
	Dashboard      *DashboardHandler
	Metrics        http.Handler
	MetricsMW      func(http.Handler) http.Handler
	DashboardAuth  func(http.Handler) http.Handler
	RateLimit      func(http.Handler) http.Handler
	AllowedOrigins []string
}

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if deps.MetricsMW != nil {
		r.Use(deps.MetricsMW)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ko-fi webhook handler is running!"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Supporter service is healthy"))
	})

	r.Post("/kofi-webhook", deps.Webhook.ServeHTTP)
	r.Post("/webhooks/kofi", deps.Webhook.ServeHTTP)

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit)
		}
		if deps.DashboardAuth != nil {
			r.Use(deps.DashboardAuth)
		}
		r.Get("/dashboard", deps.Dashboard.HandleHTML)
		r.Get("/dashboard/summary", deps.Dashboard.HandleSummary)
		if deps.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", deps.Metrics)
		}
	})

	return r
}
