package admin

import (
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxpert/pubkit/telemetry"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the HTTP surface: health, metrics, profiling and the
// authenticated kit metadata endpoints
func NewRouter(handlers *AdminHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.handleHealth)
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/debug/pprof", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		r.Handle("/{profile}", http.HandlerFunc(pprof.Index))
	})

	r.Route("/admin/kits", func(r chi.Router) {
		r.Use(AuthMiddleware)
		r.Get("/", handlers.handleListKits)
		r.Get("/{key}", handlers.handleKit)
	})

	log.Info().Msg("Admin endpoints enabled at /admin/kits")
	return r
}
