package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vidforge/internal/http/handlers"
	"vidforge/internal/infra"
	"vidforge/internal/middleware"
)

// Options carries router-level configuration.
type Options struct {
	Logger          infra.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
}

// NewRouter wires all HTTP routes. Mutating generation routes sit behind the
// rate limiter; reads (status polling in particular) stay cheap and unlimited.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/languages", app.Languages)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Get("/", app.GenerationsList)
		r.Get("/active", app.GenerationsActive)

		r.Group(func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Post("/", app.GenerationsCreate)
			r.Post("/{id}/start", app.GenerationStart)
			r.Post("/{id}/enhance-audio", app.GenerationEnhance)
			r.Delete("/{id}", app.GenerationDelete)
		})

		r.Get("/{id}", app.GenerationGet)
		r.Get("/{id}/status", app.GenerationStatus)
		r.Get("/{id}/logs", app.GenerationLogs)
		r.Get("/{id}/download", app.GenerationDownload)
		r.Get("/{id}/video-segment", app.GenerationVideoSegment)
	})

	return r
}
