// ABOUTME: Tests for the reverse forwarder and proxy pipeline
// ABOUTME: Uses httptest upstreams; covers pass-through, fallbacks, 404s

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypertube/gateway/internal/config"
	"github.com/hypertube/gateway/internal/resilience"
	"github.com/hypertube/gateway/internal/token"
)

func testChain() (*resilience.Chain, *resilience.RateLimiter) {
	limiter := resilience.NewRateLimiter(true, map[string]resilience.ClassLimit{
		resilience.ClassDefault: {ReplenishRate: 1000, BurstCapacity: 1000},
		resilience.ClassAuth:    {ReplenishRate: 1000, BurstCapacity: 1000},
	})
	chain := resilience.NewChain(limiter,
		resilience.BreakerSettings{
			WindowSize:           20,
			MinimumCalls:         10,
			FailureRateThreshold: 0.5,
			WaitDuration:         30 * time.Second,
			HalfOpenCalls:        3,
		},
		resilience.RetrySettings{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2.0,
		})
	return chain, limiter
}

// newProxyGateway wires a gateway whose "movies" upstream is the given URL
func newProxyGateway(t *testing.T, upstreamURL string, routes []config.RouteConfig, validator TokenValidator) http.Handler {
	t.Helper()
	table, err := NewRouteTable([]config.UpstreamConfig{
		{Name: "movies", URL: upstreamURL, Timeout: 2 * time.Second},
	}, routes)
	require.NoError(t, err)

	chain, limiter := testChain()
	g := New(table, chain, limiter, nil, validator)
	return g.Router()
}

func TestForward_PassesThroughRequestAndResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/movies/42/comments", r.URL.Path)
		assert.Equal(t, "page=2", r.URL.RawQuery)
		assert.Equal(t, `{"text":"great"}`, string(body))
		assert.NotEmpty(t, r.Header.Get(HeaderTraceID))
		assert.NotEmpty(t, r.Header.Get("X-Forwarded-For"))

		w.Header().Set("X-Upstream", "movies")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer upstream.Close()

	router := newProxyGateway(t, upstream.URL, []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassPublic},
	}, &fakeValidator{})

	req := httptest.NewRequest("POST", "/movies/42/comments?page=2", strings.NewReader(`{"text":"great"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "movies", rec.Header().Get("X-Upstream"))
	assert.Equal(t, `{"id":7}`, rec.Body.String())
}

func TestForward_ProtectedRouteRequiresToken(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be reached without credentials")
	}))
	defer upstream.Close()

	router := newProxyGateway(t, upstream.URL, []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassProtected},
	}, &fakeValidator{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/movies/42", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeMissingToken, decodeError(t, rec).Error)
}

func TestForward_ProtectedRouteInjectsIdentity(t *testing.T) {
	var gotUserID string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get(HeaderUserID)
	}))
	defer upstream.Close()

	validator := &fakeValidator{identity: &token.Identity{
		AccountID: "acc-1", Username: "alice", Email: "alice@example.com", Roles: []string{"ROLE_USER"},
	}}
	router := newProxyGateway(t, upstream.URL, []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassProtected},
	}, validator)

	req := httptest.NewRequest("GET", "/movies/42", nil)
	req.Header.Set("Authorization", "Bearer valid")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acc-1", gotUserID)
}

func TestForward_UnreachableUpstreamServesFallback(t *testing.T) {
	// Grab a port that nothing listens on
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	router := newProxyGateway(t, deadURL, []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassPublic},
	}, &fakeValidator{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/movies/popular", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body fallbackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeUnavailable, body.Error)
	assert.Contains(t, body.Message, "movies")
	assert.Equal(t, http.StatusServiceUnavailable, body.Status)
	assert.NotEmpty(t, body.Timestamp)
}

func TestForward_UpstreamErrorsPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	router := newProxyGateway(t, upstream.URL, []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassPublic},
	}, &fakeValidator{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/movies/popular", nil))

	// A response the upstream produced is not a pipeline failure
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom\n", rec.Body.String())
}

func TestProxy_NoRouteIs404(t *testing.T) {
	router := newProxyGateway(t, "http://movies:8082", []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassPublic},
	}, &fakeValidator{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/torrents", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeNotFound, body.Error)
	assert.Equal(t, "/torrents", body.Path)
}

func TestHealth_ReportsBreakerStates(t *testing.T) {
	// Exhaust a dead upstream first so a breaker exists
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	router := newProxyGateway(t, deadURL, []config.RouteConfig{
		{Path: "/movies", Prefix: true, Upstream: "movies", Class: ClassPublic},
	}, &fakeValidator{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/movies/popular", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status   string            `json:"status"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "UP", health.Status)
	assert.Contains(t, health.Breakers, "movies")
}
