// ABOUTME: External login provider catalog and profile extraction
// ABOUTME: Maps provider userinfo payloads onto a normalized Profile

package identity

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hypertube/gateway/internal/config"
	"github.com/hypertube/gateway/internal/store"
)

// ErrUnknownProvider is returned for a provider name that is not configured
var ErrUnknownProvider = fmt.Errorf("unknown oauth2 provider")

// Profile is the normalized identity extracted from a provider's userinfo
// response. ProviderID is the provider-issued stable identifier; Email may
// be empty when the provider withholds it.
type Profile struct {
	ProviderID string
	Username   string
	Email      string
	FirstName  string
	LastName   string
	Picture    string
}

// extractFunc pulls a Profile out of a provider's raw userinfo payload
type extractFunc func(attrs map[string]any) Profile

// Provider bundles the OAuth2 client configuration with the display
// metadata and extraction function for one external login provider.
type Provider struct {
	Name        string
	DisplayName string
	Color       string
	Icon        string
	UserInfoURL string
	OAuth       *oauth2.Config
	Extract     extractFunc
}

// Info is the provider listing shape served to the frontend
type Info struct {
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	AuthorizeURL string `json:"authorizeUrl"`
	Color        string `json:"color"`
	Icon         string `json:"icon"`
}

// display metadata per provider name
var providerMeta = map[string]struct {
	displayName string
	color       string
	icon        string
}{
	store.ProviderGoogle:   {"Google", "#DB4437", "google"},
	store.ProviderGithub:   {"GitHub", "#24292E", "github"},
	store.ProviderFortyTwo: {"42 Intra", "#00BABC", "fortytwo"},
}

var extractors = map[string]extractFunc{
	store.ProviderGoogle:   extractGoogle,
	store.ProviderGithub:   extractGithub,
	store.ProviderFortyTwo: extractFortyTwo,
}

// BuildProviders constructs the provider catalog from configuration.
// Providers without an extractor are rejected rather than silently skipped.
func BuildProviders(cfgs []config.OAuth2ProviderConfig, callbackBase string) (map[string]*Provider, error) {
	providers := make(map[string]*Provider, len(cfgs))
	for _, pc := range cfgs {
		extract, ok := extractors[pc.Name]
		if !ok {
			return nil, fmt.Errorf("oauth2 provider %q has no profile extractor", pc.Name)
		}
		meta := providerMeta[pc.Name]

		providers[pc.Name] = &Provider{
			Name:        pc.Name,
			DisplayName: meta.displayName,
			Color:       meta.color,
			Icon:        meta.icon,
			UserInfoURL: pc.UserInfoURL,
			Extract:     extract,
			OAuth: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Scopes:       pc.Scopes,
				RedirectURL:  fmt.Sprintf("%s/auth/oauth2/callback/%s", callbackBase, pc.Name),
				Endpoint: oauth2.Endpoint{
					AuthURL:  pc.AuthURL,
					TokenURL: pc.TokenURL,
				},
			},
		}
	}
	return providers, nil
}

func extractGoogle(attrs map[string]any) Profile {
	email := stringAttr(attrs, "email")
	return Profile{
		ProviderID: stringAttr(attrs, "sub"),
		Username:   usernameFromEmail(email),
		Email:      email,
		FirstName:  stringAttr(attrs, "given_name"),
		LastName:   stringAttr(attrs, "family_name"),
		Picture:    stringAttr(attrs, "picture"),
	}
}

func extractGithub(attrs map[string]any) Profile {
	// GitHub exposes a single display name; split it on the first space
	first, last := splitName(stringAttr(attrs, "name"))
	return Profile{
		ProviderID: numericAttr(attrs, "id"),
		Username:   stringAttr(attrs, "login"),
		Email:      stringAttr(attrs, "email"),
		FirstName:  first,
		LastName:   last,
		Picture:    stringAttr(attrs, "avatar_url"),
	}
}

func extractFortyTwo(attrs map[string]any) Profile {
	picture := ""
	if image, ok := attrs["image"].(map[string]any); ok {
		picture = stringAttr(image, "link")
	}
	return Profile{
		ProviderID: numericAttr(attrs, "id"),
		Username:   stringAttr(attrs, "login"),
		Email:      stringAttr(attrs, "email"),
		FirstName:  stringAttr(attrs, "first_name"),
		LastName:   stringAttr(attrs, "last_name"),
		Picture:    picture,
	}
}

func stringAttr(attrs map[string]any, key string) string {
	v, _ := attrs[key].(string)
	return v
}

// numericAttr formats a numeric attribute as its integer string form.
// JSON numbers decode as float64; provider ids are never fractional.
func numericAttr(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case float64:
		return fmt.Sprintf("%.0f", v)
	case string:
		return v
	default:
		return ""
	}
}

func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func usernameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
