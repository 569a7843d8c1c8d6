// Package server exposes the gated HTTP API used by cmd/gate-server.
package server

import (
	"net/http"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Endpoint scopes. Rate-limit counters and route policies are keyed by
// these patterns, so every /users/{id} lookup shares one window.
const (
	RouteUsers = "/api/v1/users"
	RouteUser  = "/api/v1/users/{id}"
	RouteMe    = "/api/v1/users/me"
	RouteToken = "/api/v1/auth/token"
)

// Deps is everything NewRouter wires together.
type Deps struct {
	Gate   *goGate.Gate
	Logger *zap.Logger

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	TrustForwardedHeaders bool
}

// NewRouter builds the API. Every /api route passes through the gate with
// the policy configured for its scope; the token and who-am-I routes always
// require authentication.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{gate: d.Gate, logger: logger}

	guard := func(scope string, requireAuth bool) func(http.Handler) http.Handler {
		return middleware.GuardPolicy(d.Gate, scope, d.Gate.Policy(scope), middleware.Options{
			TrustForwardedHeaders: d.TrustForwardedHeaders,
			RequireAuth:           requireAuth,
		})
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(accessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(guard(RouteUsers, false)).Post("/users", h.createUser)
		r.With(guard(RouteMe, true)).Get("/users/me", h.me)
		r.With(guard(RouteUser, false)).Get("/users/{id}", h.getUser)
		r.With(guard(RouteToken, true)).Get("/auth/token", h.issueToken)
	})

	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", ww.Header().Get(middleware.HeaderRequestID)),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
