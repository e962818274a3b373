// ABOUTME: End-to-end tests for the local /auth/* API through the router
// ABOUTME: Real SQLite store and token service; no upstreams involved

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypertube/gateway/internal/config"
	"github.com/hypertube/gateway/internal/identity"
	"github.com/hypertube/gateway/internal/store"
	"github.com/hypertube/gateway/internal/token"
)

type authFixture struct {
	router http.Handler
	store  store.Store
	tokens *token.Service
}

func newAuthFixture(t *testing.T, requireVerified bool) *authFixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "gateway-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	codec := token.NewCodec([]byte("test-secret-key-for-jwt-signing"))
	tokens := token.NewService(codec, s, time.Hour, 30*24*time.Hour)

	providers, err := identity.BuildProviders([]config.OAuth2ProviderConfig{
		{
			Name:         "google",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
			Scopes:       []string{"openid", "email", "profile"},
		},
	}, "http://localhost:8080")
	require.NoError(t, err)

	flow := identity.NewFlow(providers, s)
	t.Cleanup(flow.Close)

	handler := NewAuthHandler(s, tokens, flow, "http://localhost:3000", requireVerified)

	table, err := NewRouteTable(nil, nil)
	require.NoError(t, err)
	chain, limiter := testChain()

	g := New(table, chain, limiter, handler, tokens)
	return &authFixture{router: g.Router(), store: s, tokens: tokens}
}

func (f *authFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *authFixture) signup(t *testing.T, username, email string) {
	t.Helper()
	rec := f.do(t, "POST", "/auth/signup",
		`{"username":"`+username+`","email":"`+email+`","password":"hunter2hunter2","firstName":"Test","lastName":"User"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *authFixture) signin(t *testing.T, usernameOrEmail string) jwtResponse {
	t.Helper()
	rec := f.do(t, "POST", "/auth/signin",
		`{"usernameOrEmail":"`+usernameOrEmail+`","password":"hunter2hunter2"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp jwtResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestAuthAPI_SignupSigninRefreshSignout(t *testing.T) {
	f := newAuthFixture(t, false)

	f.signup(t, "alice", "alice@example.com")
	creds := f.signin(t, "alice")

	assert.Equal(t, "Bearer", creds.Type)
	assert.Equal(t, "alice", creds.Username)
	assert.Equal(t, []string{store.RoleUser}, creds.Roles)
	assert.NotEmpty(t, creds.Token)
	assert.NotEmpty(t, creds.RefreshToken)

	// Access token works for protected endpoints
	rec := f.do(t, "GET", "/auth/me", "", map[string]string{"Authorization": "Bearer " + creds.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var me map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "alice", me["username"])

	// Refresh echoes the same refresh token and mints a new access token
	rec = f.do(t, "POST", "/auth/refresh-token", `{"refreshToken":"`+creds.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&refreshed))
	assert.NotEmpty(t, refreshed["accessToken"])
	assert.Equal(t, creds.RefreshToken, refreshed["refreshToken"])

	// Signout revokes every session
	rec = f.do(t, "POST", "/auth/signout", "", map[string]string{"Authorization": "Bearer " + creds.Token})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "POST", "/auth/refresh-token", `{"refreshToken":"`+creds.RefreshToken+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, decodeError(t, rec).Error)
}

func TestAuthAPI_SignupConflicts(t *testing.T) {
	f := newAuthFixture(t, false)
	f.signup(t, "alice", "alice@example.com")

	rec := f.do(t, "POST", "/auth/signup",
		`{"username":"alice","email":"other@example.com","password":"hunter2hunter2"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeUserExists, decodeError(t, rec).Error)

	rec = f.do(t, "POST", "/auth/signup",
		`{"username":"bob","email":"alice@example.com","password":"hunter2hunter2"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeEmailExists, decodeError(t, rec).Error)
}

func TestAuthAPI_SignupValidation(t *testing.T) {
	f := newAuthFixture(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"missing username", `{"email":"a@b.c","password":"hunter2hunter2"}`},
		{"bad email", `{"username":"a","email":"not-an-email","password":"hunter2hunter2"}`},
		{"short password", `{"username":"a","email":"a@b.c","password":"short"}`},
		{"not json", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/auth/signup", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeValidation, decodeError(t, rec).Error)
		})
	}
}

func TestAuthAPI_SigninRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t, false)
	f.signup(t, "alice", "alice@example.com")

	rec := f.do(t, "POST", "/auth/signin",
		`{"usernameOrEmail":"alice","password":"wrong-password"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidCredentials, decodeError(t, rec).Error)

	rec = f.do(t, "POST", "/auth/signin",
		`{"usernameOrEmail":"nobody","password":"hunter2hunter2"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidCredentials, decodeError(t, rec).Error, "lookup misses read the same as mismatches")
}

func TestAuthAPI_SigninByEmail(t *testing.T) {
	f := newAuthFixture(t, false)
	f.signup(t, "alice", "alice@example.com")

	creds := f.signin(t, "alice@example.com")
	assert.Equal(t, "alice", creds.Username)
}

func TestAuthAPI_UnverifiedEmailBlockedWhenEnforced(t *testing.T) {
	f := newAuthFixture(t, true)
	f.signup(t, "alice", "alice@example.com")

	rec := f.do(t, "POST", "/auth/signin",
		`{"usernameOrEmail":"alice","password":"hunter2hunter2"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeEmailNotVerified, decodeError(t, rec).Error)
}

func TestAuthAPI_VerifyEmailFlow(t *testing.T) {
	f := newAuthFixture(t, true)
	f.signup(t, "alice", "alice@example.com")

	account, err := f.store.GetAccountByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, account.VerificationToken)

	rec := f.do(t, "GET", "/auth/verify-email?token="+account.VerificationToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Verification unblocks sign-in
	f.signin(t, "alice")

	rec = f.do(t, "GET", "/auth/verify-email?token=bogus-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, decodeError(t, rec).Error)
}

func TestAuthAPI_ValidateEndpoint(t *testing.T) {
	f := newAuthFixture(t, false)
	f.signup(t, "alice", "alice@example.com")
	creds := f.signin(t, "alice")

	rec := f.do(t, "GET", "/auth/validate?token="+url.QueryEscape(creds.Token), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "alice", body["username"])

	rec = f.do(t, "GET", "/auth/validate?token=garbage", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// A refresh token is not a valid bearer credential
	rec = f.do(t, "GET", "/auth/validate?token="+url.QueryEscape(creds.RefreshToken), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, decodeError(t, rec).Error)
}

func TestAuthAPI_PasswordResetFlow(t *testing.T) {
	f := newAuthFixture(t, false)
	f.signup(t, "alice", "alice@example.com")
	creds := f.signin(t, "alice")

	// Request a reset; response must not reveal account existence
	rec := f.do(t, "POST", "/auth/forgot-password", `{"email":"alice@example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, "POST", "/auth/forgot-password", `{"email":"nobody@example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	account, err := f.store.GetAccountByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, account.ResetToken)

	rec = f.do(t, "POST", "/auth/reset-password",
		`{"token":"`+account.ResetToken+`","password":"new-password-123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Old password is gone, old sessions are revoked
	rec = f.do(t, "POST", "/auth/signin",
		`{"usernameOrEmail":"alice","password":"hunter2hunter2"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "POST", "/auth/refresh-token", `{"refreshToken":"`+creds.RefreshToken+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, "POST", "/auth/signin",
		`{"usernameOrEmail":"alice","password":"new-password-123"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAPI_OAuth2Providers(t *testing.T) {
	f := newAuthFixture(t, false)

	rec := f.do(t, "GET", "/auth/oauth2/providers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var providers []identity.Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "google", providers[0].Name)
	assert.Equal(t, "Google", providers[0].DisplayName)
	assert.Equal(t, "/auth/oauth2/authorize/google", providers[0].AuthorizeURL)
	assert.NotEmpty(t, providers[0].Color)
}

func TestAuthAPI_OAuth2AuthorizeRedirects(t *testing.T) {
	f := newAuthFixture(t, false)

	rec := f.do(t, "GET", "/auth/oauth2/authorize/google", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", loc.Host)
	assert.Equal(t, "client-id", loc.Query().Get("client_id"))
	assert.NotEmpty(t, loc.Query().Get("state"), "redirect carries a state nonce")
}

func TestAuthAPI_OAuth2AuthorizeUnknownProvider(t *testing.T) {
	f := newAuthFixture(t, false)

	rec := f.do(t, "GET", "/auth/oauth2/authorize/myspace", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeError(t, rec).Error)
}

func TestAuthAPI_OAuth2CallbackRejectsBadState(t *testing.T) {
	f := newAuthFixture(t, false)

	rec := f.do(t, "GET", "/auth/oauth2/callback/google?state=forged&code=whatever", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.Equal(t, "/auth/oauth2/redirect", loc.Path)
	assert.Equal(t, CodeInvalidToken, loc.Query().Get("error"))
	assert.Empty(t, loc.Query().Get("token"))
}

func TestAuthAPI_RefreshTokenValidation(t *testing.T) {
	f := newAuthFixture(t, false)

	rec := f.do(t, "POST", "/auth/refresh-token", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "POST", "/auth/refresh-token", `{"refreshToken":"never-issued"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, decodeError(t, rec).Error)
}
