// Package httpapi wires the HTTP routes of the render service.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samuelrizzo/github-unwrapped/internal/httpapi/handlers"
	"github.com/samuelrizzo/github-unwrapped/internal/httpkit"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/middleware"
)

type Deps struct {
	Handlers *handlers.Handler
	Log      *logger.Logger

	CORSAllowedOrigins []string
	// RateLimitPerMinute applies per client IP to POST /api/render. Zero
	// disables it.
	RateLimitPerMinute int
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	h := d.Handlers

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
		MaxAgeSeconds:  600,
	}))

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- API ----
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.With(middleware.RateLimit(middleware.NewRateLimiter(d.RateLimitPerMinute))).
			Post("/render", middleware.WrapHandler(log, h.PostRender))
		r.Get("/sign-in-link", middleware.WrapHandler(log, h.SignInLink))
	})

	// ---- OUTPUT ----
	r.Get("/output/*", middleware.WrapHandler(log, h.StreamOutput))

	return r
}
