package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"faultgen/internal/http/handlers"
	"faultgen/internal/infra"
	"faultgen/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.JobsCreate)
		r.Get("/", app.JobsList)
		r.Get("/stats", app.StatsSummary)
		r.Get("/{id}", app.JobGet)
		r.Post("/{id}/process", app.JobProcess)
		r.Get("/{id}/artifacts", app.JobArtifacts)
	})

	r.Get("/v1/batches/capacity", app.BatchCapacity)

	r.Route("/v1/embeddings", func(r chi.Router) {
		r.Post("/run", app.EmbeddingsRun)
		r.Post("/page", app.EmbeddingsPage)
		r.Route("/backfill", func(r chi.Router) {
			r.Post("/start", app.BackfillStart)
			r.Post("/cancel", app.BackfillCancel)
			r.Get("/status", app.BackfillStatus)
		})
	})

	r.Post("/v1/imports", app.ImportsCreate)

	r.Route("/v1/credentials/openai", func(r chi.Router) {
		r.Get("/", app.CredentialsGetOpenAI)
		r.Put("/", app.CredentialsSetOpenAI)
	})

	return r
}
