// ABOUTME: Local /auth/* API handlers: credentials, token lifecycle, OAuth2
// ABOUTME: These endpoints are served by the edge itself, not proxied

package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hypertube/gateway/internal/identity"
	"github.com/hypertube/gateway/internal/store"
	"github.com/hypertube/gateway/internal/token"
)

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour

	minPasswordLength = 8
)

// AuthHandler serves the local authentication endpoints
type AuthHandler struct {
	store           store.Store
	tokens          *token.Service
	flow            *identity.Flow
	frontendURL     string
	requireVerified bool
	logger          *slog.Logger
}

// NewAuthHandler creates the handler over the given store and token service.
// flow may be nil when no OAuth2 providers are configured.
func NewAuthHandler(s store.Store, tokens *token.Service, flow *identity.Flow, frontendURL string, requireVerified bool) *AuthHandler {
	return &AuthHandler{
		store:           s,
		tokens:          tokens,
		flow:            flow,
		frontendURL:     strings.TrimRight(frontendURL, "/"),
		requireVerified: requireVerified,
		logger:          slog.Default().With("component", "auth-api"),
	}
}

// jwtResponse is the body returned by signin and OAuth2 completion
type jwtResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refreshToken"`
	Type         string   `json:"type"`
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
}

type signupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Signup registers a local account. The verification token is stored; mail
// delivery is the responsibility of the users service.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if msg := validateSignup(req); msg != "" {
		writeError(w, r, http.StatusBadRequest, CodeValidation, msg)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to process password")
		return
	}

	verificationExpires := time.Now().UTC().Add(verificationTTL)
	account := &store.Account{
		ID:                  uuid.NewString(),
		Username:            req.Username,
		Email:               req.Email,
		PasswordHash:        string(hash),
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		Provider:            store.ProviderLocal,
		Role:                store.RoleUser,
		VerificationToken:   uuid.NewString(),
		VerificationExpires: &verificationExpires,
	}

	if err := h.store.CreateAccount(r.Context(), account); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateUsername):
			writeError(w, r, http.StatusConflict, CodeUserExists, "username is already taken")
		case errors.Is(err, store.ErrDuplicateEmail):
			writeError(w, r, http.StatusConflict, CodeEmailExists, "email is already in use")
		default:
			h.logger.Error("creating account", "error", err)
			writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to create account")
		}
		return
	}

	h.logger.Info("account created", "account_id", account.ID, "username", account.Username)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "account created",
		"id":       account.ID,
		"username": account.Username,
	})
}

func validateSignup(req signupRequest) string {
	switch {
	case req.Username == "":
		return "username is required"
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return "a valid email is required"
	case len(req.Password) < minPasswordLength:
		return "password must be at least 8 characters"
	}
	return ""
}

type signinRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

// Signin exchanges credentials for an access and refresh token pair
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "invalid request body")
		return
	}

	account, err := h.store.GetAccountByUsernameOrEmail(r.Context(), strings.TrimSpace(req.UsernameOrEmail))
	if errors.Is(err, store.ErrNotFound) {
		// Hash anyway so lookup misses cost the same as mismatches
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
			[]byte(req.Password))
		writeError(w, r, http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("looking up account", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "sign in failed")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials")
		return
	}

	if h.requireVerified && account.Provider == store.ProviderLocal && !account.EmailVerified {
		writeError(w, r, http.StatusUnauthorized, CodeEmailNotVerified, "email address is not verified")
		return
	}

	h.issueTokenPair(w, r, account)
}

// issueTokenPair writes a jwtResponse for the account
func (h *AuthHandler) issueTokenPair(w http.ResponseWriter, r *http.Request, account *store.Account) {
	accessToken, err := h.tokens.IssueAccessToken(account)
	if err != nil {
		h.logger.Error("issuing access token", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to issue token")
		return
	}

	refreshToken, _, err := h.tokens.IssueRefreshToken(r.Context(), account, token.ClientMeta{
		UserAgent: r.UserAgent(),
		IPAddress: clientAddr(r),
	})
	if err != nil {
		h.logger.Error("issuing refresh token", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, jwtResponse{
		Token:        accessToken,
		RefreshToken: refreshToken,
		Type:         "Bearer",
		ID:           account.ID,
		Username:     account.Username,
		Email:        account.Email,
		Roles:        strings.Split(account.Role, ","),
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is echoed back unchanged; it stays valid until expiry or
// revocation.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "refreshToken is required")
		return
	}

	accessToken, err := h.tokens.Rotate(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, token.ErrSessionExpired):
		writeError(w, r, http.StatusUnauthorized, CodeTokenExpired, "refresh token has expired")
		return
	case errors.Is(err, token.ErrSessionNotFound):
		writeError(w, r, http.StatusUnauthorized, CodeInvalidToken, "refresh token is invalid")
		return
	case err != nil:
		h.logger.Error("rotating token", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken":  accessToken,
		"refreshToken": req.RefreshToken,
		"type":         "Bearer",
	})
}

// Signout revokes every session of the authenticated account
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFromContext(r.Context())
	if ident == nil {
		writeError(w, r, http.StatusUnauthorized, CodeMissingToken, "authentication required")
		return
	}

	if err := h.tokens.RevokeAllSessions(r.Context(), ident.AccountID); err != nil {
		h.logger.Error("revoking sessions", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "sign out failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// ValidateToken reports whether a token is a valid access token.
// Served publicly so upstreams and the frontend can probe token state.
func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "token query parameter is required")
		return
	}

	ident, err := h.tokens.Validate(tokenString)
	if err != nil {
		code, msg := authErrorCode(err)
		writeError(w, r, http.StatusUnauthorized, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"username": ident.Username,
	})
}

// Me returns the authenticated account's profile
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFromContext(r.Context())
	if ident == nil {
		writeError(w, r, http.StatusUnauthorized, CodeMissingToken, "authentication required")
		return
	}

	account, err := h.store.GetAccount(r.Context(), ident.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidToken, "account no longer exists")
		return
	}
	if err != nil {
		h.logger.Error("loading account", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             account.ID,
		"username":       account.Username,
		"email":          account.Email,
		"firstName":      account.FirstName,
		"lastName":       account.LastName,
		"profilePicture": account.ProfilePicture,
		"provider":       account.Provider,
		"emailVerified":  account.EmailVerified,
		"roles":          strings.Split(account.Role, ","),
	})
}

// VerifyEmail consumes an email verification token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "token query parameter is required")
		return
	}

	account, err := h.store.GetAccountByVerificationToken(r.Context(), tokenString)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidToken, "verification token is invalid")
		return
	}
	if err != nil {
		h.logger.Error("looking up verification token", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "verification failed")
		return
	}

	if account.VerificationExpires != nil && account.VerificationExpires.Before(time.Now()) {
		writeError(w, r, http.StatusUnauthorized, CodeTokenExpired, "verification token has expired")
		return
	}

	if err := h.store.SetAccountVerified(r.Context(), account.ID); err != nil {
		h.logger.Error("marking account verified", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "verification failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "email verified"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword records a reset token for the account. The response never
// reveals whether the email exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "email is required")
		return
	}

	account, err := h.store.GetAccountByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err == nil && account.Provider == store.ProviderLocal {
		expires := time.Now().UTC().Add(resetTTL)
		if err := h.store.SetResetToken(r.Context(), account.ID, uuid.NewString(), expires); err != nil {
			h.logger.Error("setting reset token", "error", err)
		}
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("looking up account for reset", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the email exists, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword consumes a reset token and sets a new password.
// All existing sessions are revoked.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "token and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, CodeValidation, "password must be at least 8 characters")
		return
	}

	account, err := h.store.GetAccountByResetToken(r.Context(), req.Token)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidToken, "reset token is invalid")
		return
	}
	if err != nil {
		h.logger.Error("looking up reset token", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "password reset failed")
		return
	}

	if account.ResetExpires != nil && account.ResetExpires.Before(time.Now()) {
		writeError(w, r, http.StatusUnauthorized, CodeTokenExpired, "reset token has expired")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "failed to process password")
		return
	}

	if err := h.store.UpdateAccountPassword(r.Context(), account.ID, string(hash)); err != nil {
		h.logger.Error("updating password", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "password reset failed")
		return
	}

	if err := h.tokens.RevokeAllSessions(r.Context(), account.ID); err != nil {
		h.logger.Error("revoking sessions after reset", "error", err)
	}

	h.logger.Info("password reset", "account_id", account.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// OAuth2Providers lists the configured external login providers
func (h *AuthHandler) OAuth2Providers(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		writeJSON(w, http.StatusOK, []identity.Info{})
		return
	}
	writeJSON(w, http.StatusOK, h.flow.Providers())
}

// OAuth2Authorize redirects the client to the provider's consent page
func (h *AuthHandler) OAuth2Authorize(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "no oauth2 providers configured")
		return
	}

	authURL, err := h.flow.AuthorizeURL(chi.URLParam(r, "provider"))
	if errors.Is(err, identity.ErrUnknownProvider) {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "unknown oauth2 provider")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "authorization failed")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// OAuth2Callback completes the provider flow and redirects to the frontend
// with a fresh token pair.
func (h *AuthHandler) OAuth2Callback(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "no oauth2 providers configured")
		return
	}

	provider := chi.URLParam(r, "provider")
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	account, err := h.flow.Complete(r.Context(), provider, state, code)
	if err != nil {
		h.redirectWithError(w, r, provider, err)
		return
	}

	accessToken, err := h.tokens.IssueAccessToken(account)
	if err == nil {
		var refreshToken string
		refreshToken, _, err = h.tokens.IssueRefreshToken(r.Context(), account, token.ClientMeta{
			UserAgent: r.UserAgent(),
			IPAddress: clientAddr(r),
		})
		if err == nil {
			redirect := h.frontendURL + "/auth/oauth2/redirect?" + url.Values{
				"token":        {accessToken},
				"refreshToken": {refreshToken},
			}.Encode()
			http.Redirect(w, r, redirect, http.StatusFound)
			return
		}
	}

	h.logger.Error("issuing tokens after oauth2", "provider", provider, "error", err)
	h.redirectWithError(w, r, provider, err)
}

// redirectWithError sends the browser back to the frontend with an error code
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, provider string, err error) {
	code := CodeInternal
	switch {
	case errors.Is(err, identity.ErrProviderConflict):
		code = CodeProviderConflict
	case errors.Is(err, identity.ErrInvalidState):
		code = CodeInvalidToken
	case errors.Is(err, identity.ErrUnknownProvider):
		code = CodeNotFound
	}

	h.logger.Warn("oauth2 callback failed", "provider", provider, "code", code, "error", err)
	redirect := h.frontendURL + "/auth/oauth2/redirect?" + url.Values{"error": {code}}.Encode()
	http.Redirect(w, r, redirect, http.StatusFound)
}
