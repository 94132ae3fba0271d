package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediaforge/internal/http/handlers"
	"mediaforge/internal/middleware"
)

// NewRouter assembles the HTTP API.
func NewRouter(app *handlers.App, rateLimitPerMin int) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
	)
	if rateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(rateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/workflows", func(r chi.Router) {
		r.Post("/", app.StartWorkflow)
		r.Get("/", app.ListWorkflows)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", app.WorkflowStatus)
			r.Post("/pause", app.PauseWorkflow)
			r.Post("/resume", app.ResumeWorkflow)
			r.Post("/cancel", app.CancelWorkflow)
			r.Get("/events", app.WorkflowEvents)
		})
	})

	return r
}
