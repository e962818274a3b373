// ABOUTME: Tests for trace, logging and auth filter middleware
// ABOUTME: Verifies header injection, stripping, and stable 401 codes

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypertube/gateway/internal/token"
)

// fakeValidator returns a fixed identity or error and counts calls
type fakeValidator struct {
	identity *token.Identity
	err      error
	calls    int
}

func (f *fakeValidator) Validate(string) (*token.Identity, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestTraceMiddleware_GeneratesTraceID(t *testing.T) {
	var seen string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/movies", nil))

	require.NotEmpty(t, seen)
	assert.GreaterOrEqual(t, len(seen), 8)
	assert.Equal(t, seen, rec.Header().Get(HeaderTraceID))
}

func TestTraceMiddleware_IgnoresClientSuppliedTraceID(t *testing.T) {
	var forwarded string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwarded = r.Header.Get(HeaderTraceID)
	}))

	req := httptest.NewRequest("GET", "/movies", nil)
	req.Header.Set(HeaderTraceID, "spoofed-trace-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotEqual(t, "spoofed-trace-id", forwarded)
	assert.NotEmpty(t, forwarded)
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	handler := LoggingMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/movies", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAuthFilter_MissingHeaderSkipsValidation(t *testing.T) {
	validator := &fakeValidator{}
	handler := AuthFilter(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/movies", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeMissingToken, decodeError(t, rec).Error)
	assert.Equal(t, 0, validator.calls, "absent credentials are rejected before validation")
}

func TestAuthFilter_MalformedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"no scheme", "some-raw-token"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &fakeValidator{}
			handler := AuthFilter(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))

			req := httptest.NewRequest("GET", "/movies", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, CodeMissingToken, decodeError(t, rec).Error)
			assert.Equal(t, 0, validator.calls)
		})
	}
}

func TestAuthFilter_ValidationErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"expired", token.ErrExpiredToken, CodeTokenExpired},
		{"bad signature", token.ErrInvalidSignature, CodeInvalidToken},
		{"malformed", token.ErrMalformedToken, CodeInvalidToken},
		{"refresh used as bearer", token.ErrWrongTokenKind, CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthFilter(&fakeValidator{err: tt.err})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))

			req := httptest.NewRequest("GET", "/movies", nil)
			req.Header.Set("Authorization", "Bearer some-token")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
		})
	}
}

func TestAuthFilter_InjectsIdentityHeaders(t *testing.T) {
	validator := &fakeValidator{identity: &token.Identity{
		AccountID: "acc-1",
		Username:  "alice",
		Email:     "alice@example.com",
		Roles:     []string{"ROLE_USER", "ROLE_ADMIN"},
	}}

	var got http.Header
	handler := AuthFilter(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		assert.Equal(t, "acc-1", IdentityFromContext(r.Context()).AccountID)
	}))

	req := httptest.NewRequest("GET", "/movies", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	// Spoofed inbound identity headers must not survive
	req.Header.Set(HeaderUserID, "attacker")
	req.Header.Set(HeaderUserRoles, "ROLE_ADMIN,ROLE_SUPER")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "acc-1", got.Get(HeaderUserID))
	assert.Equal(t, "alice", got.Get(HeaderUsername))
	assert.Equal(t, "alice@example.com", got.Get(HeaderUserEmail))
	assert.Equal(t, "ROLE_USER,ROLE_ADMIN", got.Get(HeaderUserRoles))
	assert.Equal(t, "JWT", got.Get(HeaderAuthMethod))
	assert.Equal(t, []string{"acc-1"}, got.Values(HeaderUserID), "spoofed values are stripped")
}
