package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pressroom/internal/http/handlers"
)

// NewRouter wires the read-only status surface. Everything here is a thin
// wrapper over the stores; there are no mutating endpoints.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/quota/{userID}", func(r chi.Router) {
		r.Get("/", app.QuotaStatus)
		r.Get("/history", app.QuotaHistory)
	})

	r.Route("/v1/runs/{userID}", func(r chi.Router) {
		r.Get("/", app.Runs)
		r.Get("/{runID}", app.RunDetail)
	})

	return r
}
