package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/StaySearchGo/pkg/health"
	"github.com/utafrali/StaySearchGo/pkg/middleware"
)

// RouterConfig carries the router's environment-dependent knobs.
type RouterConfig struct {
	ServiceName    string
	Environment    string
	AllowedOrigins []string
	PprofCIDRs     []string
}

// NewRouter assembles the service's HTTP routes and middleware chain.
func NewRouter(cfg RouterConfig, h *SearchHandler, healthHandler *health.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.Environment = cfg.Environment
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.AllowedOrigins
	}
	r.Use(middleware.CORS(corsCfg))

	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	r.Route("/api/v1/search", func(r chi.Router) {
		r.With(middleware.CacheControl(30)).Get("/", h.Search)
		r.Post("/reindex", h.Reindex)
	})

	return r
}
