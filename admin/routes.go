package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the admin API:
//
//	GET /health                          database ping, no auth
//	GET /metrics                         prometheus, when telemetry is enabled
//	GET /admin/schemas                   tenant schemas (auth)
//	GET /admin/schemas/{schema}/stats    schema counters (auth)
func NewRouter(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/admin/schemas", func(r chi.Router) {
		r.Use(AuthMiddleware(handlers.secret))
		r.Get("/", handlers.handleListSchemas)
		r.Get("/{schema}/stats", handlers.handleSchemaStats)
	})

	return r
}

// RegisterRoutes mounts the admin router on mux
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	mux.Handle("/", NewRouter(handlers))
	log.Info().Bool("auth", handlers.secret != "").Msg("Admin endpoints enabled at /admin/schemas/*")
}
