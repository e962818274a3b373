// ABOUTME: Edge router assembly: local auth endpoints, health, proxy pipeline
// ABOUTME: Unmatched paths run the route table and forward through resilience

package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hypertube/gateway/internal/resilience"
)

// Gateway assembles the edge HTTP surface
type Gateway struct {
	table     *RouteTable
	forwarder *Forwarder
	chain     *resilience.Chain
	limiter   *resilience.RateLimiter
	auth      *AuthHandler
	validator TokenValidator
	logger    *slog.Logger
}

// New creates a gateway over the route table, resilience chain and handlers
func New(table *RouteTable, chain *resilience.Chain, limiter *resilience.RateLimiter, auth *AuthHandler, validator TokenValidator) *Gateway {
	return &Gateway{
		table:     table,
		forwarder: NewForwarder(table, chain),
		chain:     chain,
		limiter:   limiter,
		auth:      auth,
		validator: validator,
		logger:    slog.Default().With("component", "gateway"),
	}
}

// Router builds the chi router serving the full edge surface
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(TraceMiddleware)
	r.Use(LoggingMiddleware(g.logger))

	r.Get("/health", g.health)

	if g.auth != nil {
		r.Route("/auth", g.authRoutes)
	}

	// Everything else runs the proxy pipeline
	r.NotFound(g.proxy)

	return r
}

// authRoutes mounts the locally served authentication endpoints
func (g *Gateway) authRoutes(r chi.Router) {
	r.Use(g.rateLimit(resilience.ClassAuth))

	r.Post("/signup", g.auth.Signup)
	r.Post("/signin", g.auth.Signin)
	r.Post("/refresh-token", g.auth.Refresh)
	r.Get("/validate", g.auth.ValidateToken)
	r.Get("/verify-email", g.auth.VerifyEmail)
	r.Post("/forgot-password", g.auth.ForgotPassword)
	r.Post("/reset-password", g.auth.ResetPassword)

	r.Get("/oauth2/providers", g.auth.OAuth2Providers)
	r.Get("/oauth2/authorize/{provider}", g.auth.OAuth2Authorize)
	r.Get("/oauth2/callback/{provider}", g.auth.OAuth2Callback)

	r.Group(func(r chi.Router) {
		r.Use(AuthFilter(g.validator))
		r.Post("/signout", g.auth.Signout)
		r.Get("/me", g.auth.Me)
	})
}

// proxy matches the route table and forwards, applying the auth filter for
// protected routes. Unrouted paths get a 404 with the standard error shape.
func (g *Gateway) proxy(w http.ResponseWriter, r *http.Request) {
	route, ok := g.table.Match(r.Method, r.URL.Path)
	if !ok {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "no route for path")
		return
	}

	forward := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.forwarder.Forward(w, r, route)
	})

	if route.Class == ClassProtected {
		AuthFilter(g.validator)(forward).ServeHTTP(w, r)
		return
	}
	forward.ServeHTTP(w, r)
}

// rateLimit rejects requests over the class budget with a 429
func (g *Gateway) rateLimit(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := g.limiter.Allow(class); err != nil {
				writeError(w, r, http.StatusTooManyRequests, CodeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// health reports liveness and the state of every known circuit breaker
func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "UP",
		"breakers": g.chain.BreakerStates(),
	})
}
