/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:   Unique ID per request for tracing
  2. RealIP:      Client IP from proxy headers
  3. Logging:     One slog line per request
  4. Recoverer:   Panic recovery (500 instead of crash)
  5. Instrument:  Prometheus request metrics by route pattern
  6. CORS:        All origins in development, configured origins otherwise
  7. RateLimit:   Token bucket per client IP (API routes only)
  8. MaxBodyBytes: 1 MiB request bodies (API routes only)

ROUTE GROUPS:
  /api/auth/*    HMRC authorization
  /api/ct600/*   Returns, submission and status
  /healthz       Liveness
  /metrics       Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. The gateway holds one HMRC token for the
  whole process and is meant to run behind an operator-only network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/ct600-gateway/metrics"
)

const maxBodyBytes = 1 << 20

// RouterConfig holds the cross-cutting settings for NewRouter.
type RouterConfig struct {
	Logger *slog.Logger

	// AllowAllOrigins disables the origin allow-list (development).
	AllowAllOrigins bool
	AllowedOrigins  []string

	// Limiter is optional; nil disables rate limiting.
	Limiter *RateLimiter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)
	r.Use(cors.Handler(corsOptions(cfg)))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Use(MaxBodyBytes(maxBodyBytes))

		// HMRC authorization
		r.Route("/auth", func(r chi.Router) {
			r.Get("/authorize", h.Authorize)
			r.Get("/callback", h.Callback)
			r.Get("/status", h.AuthStatus)
			r.Delete("/token", h.SignOut)
		})

		// CT600 returns
		r.Route("/ct600", func(r chi.Router) {
			r.Get("/", h.ListReturns)
			r.Post("/", h.CreateReturn)
			r.Get("/{taxReference}", h.GetReturn)
			r.Put("/{taxReference}", h.UpdateReturn)
			r.Post("/{taxReference}/submit", h.Submit)
			r.Get("/{taxReference}/status", h.SubmissionStatus)
			r.Post("/{taxReference}/status/sync", h.SyncStatus)
			r.Get("/{taxReference}/summary.pdf", h.SummaryPDF)
		})
	})

	return r
}

func corsOptions(cfg RouterConfig) cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: !cfg.AllowAllOrigins,
		MaxAge:           600,
	}
	if cfg.AllowAllOrigins {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = cfg.AllowedOrigins
	}
	return opts
}
