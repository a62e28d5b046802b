package router

import (
	"github.com/evyataryagoni/geoquery/internal/handler"
	"github.com/evyataryagoni/geoquery/internal/limiter"
	"github.com/evyataryagoni/geoquery/internal/logger"
	"github.com/evyataryagoni/geoquery/internal/metrics"
	custommiddleware "github.com/evyataryagoni/geoquery/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the router mounts
type Deps struct {
	Handler  *handler.GeoHandler
	Limiter  limiter.Limiter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // serves /metrics; nil uses the default registry
	Logger   *logger.Logger
}

// SetupRouter creates the chi router with all middleware and routes
//
// Order matters: RequestID first so every log line carries it, RealIP before
// the limiter so proxied clients get their own budget.
func SetupRouter(deps Deps) chi.Router {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(custommiddleware.LoggingMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(custommiddleware.MetricsMiddleware(deps.Metrics))
	}

	// Versioned API, rate limited per client
	r.Route("/v1", func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(custommiddleware.RateLimitMiddleware(deps.Limiter))
		}
		r.Get("/lookup", deps.Handler.Lookup)
		r.Post("/batch", deps.Handler.Batch)
		r.Get("/stats", deps.Handler.Stats)
	})

	// Infrastructure endpoints are never rate limited
	r.Get("/health", deps.Handler.Health)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
