package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/ubtguoyi/writing/internal/adapter/httpserver"
	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	timeout := cfg.HTTPWriteTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rate := cfg.RateLimitPerMin
	if rate <= 0 {
		rate = 30
	}

	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(timeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Endpoints that trigger workflow calls are rate limited.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(rate, time.Minute))
		wr.Post("/v1/corrections", srv.SubmitCorrectionHandler())
		wr.Post("/v1/stories", srv.GenerateStoryHandler())
	})

	r.Get("/v1/corrections", srv.ListCorrectionsHandler())
	r.Get("/v1/corrections/{id}", srv.GetCorrectionHandler())
	r.Get("/v1/corrections/{id}/report", srv.ReportHandler())
	r.Get("/v1/error-book", srv.ErrorBookHandler())
	r.Get("/v1/stories", srv.LoadStoryHandler())
	r.Post("/v1/stories/parse", srv.ParseStoryHandler())
	r.Post("/v1/stories/{id}/answer", srv.AnswerStoryHandler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return httpserver.SecurityHeaders(r)
}
