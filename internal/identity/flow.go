// ABOUTME: OAuth2 authorization-code flow against configured providers
// ABOUTME: Issues redirects with state nonces and completes callbacks

package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hypertube/gateway/internal/store"
)

// ErrInvalidState is returned when a callback carries a state nonce that was
// never issued, already redeemed, or expired.
var ErrInvalidState = errors.New("invalid oauth2 state")

const (
	stateTTL     = 10 * time.Minute
	stateMaxSize = 10000

	userInfoTimeout = 10 * time.Second
)

// Flow drives the authorization-code exchange end to end: redirect with a
// single-use state nonce, code exchange, userinfo fetch, account resolution.
type Flow struct {
	providers map[string]*Provider
	states    *StateStore
	resolver  *Resolver
	logger    *slog.Logger
}

// NewFlow builds a flow over the given provider catalog and account store
func NewFlow(providers map[string]*Provider, accounts AccountStore) *Flow {
	return &Flow{
		providers: providers,
		states:    NewStateStore(stateTTL, stateMaxSize),
		resolver:  NewResolver(accounts),
		logger:    slog.Default().With("component", "oauth2"),
	}
}

// Providers lists the configured providers in frontend listing shape
func (f *Flow) Providers() []Info {
	infos := make([]Info, 0, len(f.providers))
	for _, name := range []string{store.ProviderGoogle, store.ProviderGithub, store.ProviderFortyTwo} {
		p, ok := f.providers[name]
		if !ok {
			continue
		}
		infos = append(infos, Info{
			Name:         p.Name,
			DisplayName:  p.DisplayName,
			AuthorizeURL: "/auth/oauth2/authorize/" + p.Name,
			Color:        p.Color,
			Icon:         p.Icon,
		})
	}
	return infos
}

// AuthorizeURL returns the provider's authorization URL with a fresh state
// nonce bound to this redirect.
func (f *Flow) AuthorizeURL(provider string) (string, error) {
	p, ok := f.providers[provider]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.OAuth.AuthCodeURL(f.states.Issue()), nil
}

// Complete finishes a provider callback: validates the state nonce, exchanges
// the code, fetches the userinfo payload and resolves the local account.
func (f *Flow) Complete(ctx context.Context, provider, state, code string) (*store.Account, error) {
	p, ok := f.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	if !f.states.Redeem(state) {
		return nil, ErrInvalidState
	}

	tok, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	attrs, err := f.fetchUserInfo(ctx, p, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	profile := p.Extract(attrs)
	f.logger.Debug("resolved provider profile",
		"provider", provider,
		"provider_id", profile.ProviderID,
		"username", profile.Username)

	return f.resolver.Resolve(ctx, provider, profile)
}

func (f *Flow) fetchUserInfo(ctx context.Context, p *Provider, accessToken string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, body)
	}

	var attrs map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decoding userinfo response: %w", err)
	}
	return attrs, nil
}

// Close releases the state store's background resources
func (f *Flow) Close() {
	f.states.Close()
}
