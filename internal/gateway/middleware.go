// ABOUTME: Edge middleware: trace ids, request logging, bearer-token auth filter
// ABOUTME: The auth filter validates tokens and injects trusted identity headers

package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hypertube/gateway/internal/token"
)

// Identity headers injected into forwarded requests. Inbound copies are
// stripped so upstreams can trust them unconditionally.
const (
	HeaderTraceID    = "X-Trace-Id"
	HeaderUserID     = "X-User-Id"
	HeaderUsername   = "X-Username"
	HeaderUserEmail  = "X-User-Email"
	HeaderUserRoles  = "X-User-Roles"
	HeaderAuthMethod = "X-Auth-Method"
)

var identityHeaders = []string{
	HeaderUserID, HeaderUsername, HeaderUserEmail, HeaderUserRoles, HeaderAuthMethod,
}

// TraceMiddleware attaches a locally generated trace id to the request
// context, the forwarded request and the response. Client-supplied values
// are discarded.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := uuid.NewString()
		r.Header.Set(HeaderTraceID, traceID)
		w.Header().Set(HeaderTraceID, traceID)
		next.ServeHTTP(w, r.WithContext(withTraceID(r.Context(), traceID)))
	})
}

// statusRecorder captures the response status for the request log line
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs one line per request with method, path, status,
// duration and trace id.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"trace_id", TraceIDFromContext(r.Context()))
		})
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	tok := strings.TrimPrefix(authHeader, "Bearer ")
	if tok == "" {
		return "", "empty token"
	}
	return tok, ""
}

// TokenValidator verifies an access token and returns its identity
type TokenValidator interface {
	Validate(tokenString string) (*token.Identity, error)
}

// AuthFilter validates the bearer token and attaches the identity to the
// request context. Absent or malformed credentials are rejected before any
// validation work. On success the identity headers are rewritten on the
// request; any inbound copies are stripped first.
func AuthFilter(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeError(w, r, http.StatusUnauthorized, CodeMissingToken, errMsg)
				return
			}

			identity, err := validator.Validate(bearer)
			if err != nil {
				code, msg := authErrorCode(err)
				writeError(w, r, http.StatusUnauthorized, code, msg)
				return
			}

			injectIdentityHeaders(r, identity)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// authErrorCode maps a validation failure to its stable client-facing code
func authErrorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return CodeTokenExpired, "token has expired"
	case errors.Is(err, token.ErrInvalidSignature):
		return CodeInvalidToken, "token signature is invalid"
	case errors.Is(err, token.ErrWrongTokenKind):
		return CodeInvalidToken, "token cannot be used for authentication"
	default:
		return CodeInvalidToken, "token is invalid"
	}
}

// injectIdentityHeaders replaces the identity headers on the request.
// Inbound values are never forwarded.
func injectIdentityHeaders(r *http.Request, identity *token.Identity) {
	for _, h := range identityHeaders {
		r.Header.Del(h)
	}
	r.Header.Set(HeaderUserID, identity.AccountID)
	r.Header.Set(HeaderUsername, identity.Username)
	r.Header.Set(HeaderUserEmail, identity.Email)
	r.Header.Set(HeaderUserRoles, strings.Join(identity.Roles, ","))
	r.Header.Set(HeaderAuthMethod, "JWT")
}
