/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     zap request log, level by status
  4. CORS:       Cross-origin requests for the portal
  5. Actor:      Resolves the acting identity (api routes only)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	AllowOrigins []string
	JWTSecret    string
	JWTIssuer    string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(ActorMiddleware(cfg.JWTSecret, cfg.JWTIssuer))

		r.Get("/schedule", h.GetSchedule)

		r.Route("/employees/{id}", func(r chi.Router) {
			r.Route("/days/{date}", func(r chi.Router) {
				r.Get("/", h.GetDay)
				r.Post("/punches", h.Punch)
				r.Delete("/punches/last", h.UndoLast)
				r.Put("/overtime", h.SetOvertime)
			})

			r.Route("/months/{month}", func(r chi.Router) {
				r.Get("/", h.GetMonth)
				r.Get("/payroll", h.GetPayroll)
				r.Get("/timesheet.xlsx", h.GetTimesheet)
			})

			r.Post("/paid", h.MarkPaid)
		})
	})

	return r
}

// RequestLogger logs one line per request: info for 2xx/3xx, warn for 4xx,
// error for 5xx.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Duration("latency", time.Since(start)),
			}

			switch {
			case status >= 500:
				logger.Error("request failed", fields...)
			case status >= 400:
				logger.Warn("client error", fields...)
			default:
				logger.Info("request completed", fields...)
			}
		})
	}
}
