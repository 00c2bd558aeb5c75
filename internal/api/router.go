// Package api serves the indicator engine over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"

	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/lorentzian"
	"aadhaar-velocity/internal/metrics"
	"aadhaar-velocity/internal/model"
	"aadhaar-velocity/internal/velocity"
)

// Backend is the business layer behind the handlers.
type Backend interface {
	Presets() []indicator.Preset
	Locations(ctx context.Context) ([]string, error)
	Bars(ctx context.Context, location string) ([]model.Bar, error)
	IngestBars(ctx context.Context, location string, bars []model.Bar) error
	Resolve(ctx context.Context, names []string) ([]model.IndicatorDefinition, error)
	ComputeLocation(ctx context.Context, location string, defs []model.IndicatorDefinition) ([]model.IndicatorResult, error)
	ComputeBars(ctx context.Context, bars []model.Bar, defs []model.IndicatorDefinition) ([]model.IndicatorResult, error)
	Signal(ctx context.Context, location string, s lorentzian.Settings) ([]lorentzian.Prediction, error)
	Velocity(ctx context.Context, location string) ([]velocity.Point, velocity.Summary, error)
	ListDefinitions(ctx context.Context) ([]model.IndicatorDefinition, error)
	CreateDefinition(ctx context.Context, def model.IndicatorDefinition) (model.IndicatorDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error
}

// Config wires the router.
type Config struct {
	Backend Backend
	Health  http.Handler // nil serves a static ok
	Feed    http.Handler // WebSocket hub; nil disables /ws
	Metrics *metrics.Metrics

	RateLimitRPS   float64
	RateLimitBurst int
	Limiter        *RateLimiter // nil builds one from the two fields above
	TOTPSecret     string       // empty leaves definition writes open

	Log zerolog.Logger
}

type handlers struct {
	backend Backend
	log     zerolog.Logger
}

// NewRouter builds the HTTP routes.
//
//	GET    /api/v1/health
//	GET    /api/v1/presets
//	GET    /api/v1/locations
//	GET    /api/v1/locations/{location}/bars
//	PUT    /api/v1/locations/{location}/bars
//	POST   /api/v1/locations/{location}/indicators
//	GET    /api/v1/locations/{location}/signal
//	GET    /api/v1/locations/{location}/velocity
//	POST   /api/v1/compute
//	GET    /api/v1/definitions
//	POST   /api/v1/definitions
//	DELETE /api/v1/definitions/{id}
//	GET    /metrics
//	GET    /ws
//
// Locations contain a slash ("State/District") and travel URL-escaped.
func NewRouter(cfg Config) http.Handler {
	log := cfg.Log.With().Str("component", "api").Logger()
	h := &handlers{backend: cfg.Backend, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(RequestID)
	r.Use(RequestLogger(log))
	r.Use(Recoverer(log))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	if cfg.Feed != nil {
		r.Method(http.MethodGet, "/ws", cfg.Feed)
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)
		if cfg.Metrics != nil {
			limiter.Rejected = cfg.Metrics.RateLimited
		}
	}
	guard := TOTPGuard(cfg.TOTPSecret, log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		if cfg.Health != nil {
			r.Method(http.MethodGet, "/health", cfg.Health)
		} else {
			r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
				render.JSON(w, r, map[string]string{"status": "healthy"})
			})
		}
		r.Get("/presets", h.listPresets)
		r.Get("/locations", h.listLocations)
		r.Route("/locations/{location}", func(r chi.Router) {
			r.Get("/bars", h.getBars)
			r.Put("/bars", h.putBars)
			r.Group(func(r chi.Router) {
				r.Use(limiter.Handler)
				r.Post("/indicators", h.computeLocation)
				r.Get("/signal", h.signal)
				r.Get("/velocity", h.velocity)
			})
		})
		r.With(limiter.Handler).Post("/compute", h.computeBars)

		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", h.listDefinitions)
			r.With(guard).Post("/", h.createDefinition)
			r.With(guard).Delete("/{id}", h.deleteDefinition)
		})
	})

	return r
}
