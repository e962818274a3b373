// ABOUTME: Resolves external provider profiles to local accounts
// ABOUTME: Matches by email, rejects cross-provider takeover, creates on miss

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hypertube/gateway/internal/store"
)

// ErrProviderConflict is returned when a profile's email already belongs to
// an account registered through a different provider (or locally). The
// existing account is never silently taken over.
var ErrProviderConflict = errors.New("account exists with a different provider")

// AccountStore is the subset of store operations the resolver needs
type AccountStore interface {
	GetAccountByUsername(ctx context.Context, username string) (*store.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*store.Account, error)
	CreateAccount(ctx context.Context, account *store.Account) error
	UpdateAccountProfile(ctx context.Context, account *store.Account) error
}

// Resolver maps provider profiles onto local accounts
type Resolver struct {
	accounts AccountStore
	logger   *slog.Logger
}

// NewResolver creates a resolver backed by the given account store
func NewResolver(accounts AccountStore) *Resolver {
	return &Resolver{
		accounts: accounts,
		logger:   slog.Default().With("component", "identity"),
	}
}

// Resolve finds or creates the local account for a provider profile.
//
// An existing account is matched by email (by username when the provider
// withheld the email). A match registered under a different provider yields
// ErrProviderConflict. On a match the mutable profile fields are refreshed.
// On a miss a new account is created with the email already verified and a
// placeholder credential that can never be used for password login.
func (r *Resolver) Resolve(ctx context.Context, provider string, profile Profile) (*store.Account, error) {
	if profile.ProviderID == "" {
		return nil, fmt.Errorf("provider %s returned a profile without an id", provider)
	}

	existing, err := r.lookup(ctx, profile)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	if existing != nil {
		if existing.Provider != provider {
			r.logger.Warn("provider conflict on sign-in",
				"provider", provider,
				"existing_provider", existing.Provider,
				"account_id", existing.ID)
			return nil, ErrProviderConflict
		}
		return r.refresh(ctx, existing, profile)
	}

	return r.create(ctx, provider, profile)
}

func (r *Resolver) lookup(ctx context.Context, profile Profile) (*store.Account, error) {
	if profile.Email != "" {
		return r.accounts.GetAccountByEmail(ctx, profile.Email)
	}
	return r.accounts.GetAccountByUsername(ctx, profile.Username)
}

// refresh updates the fields the provider owns and persists the account
func (r *Resolver) refresh(ctx context.Context, account *store.Account, profile Profile) (*store.Account, error) {
	account.FirstName = profile.FirstName
	account.LastName = profile.LastName
	if profile.Picture != "" {
		account.ProfilePicture = profile.Picture
	}
	account.ProviderID = profile.ProviderID

	if err := r.accounts.UpdateAccountProfile(ctx, account); err != nil {
		return nil, fmt.Errorf("updating account profile: %w", err)
	}
	return account, nil
}

func (r *Resolver) create(ctx context.Context, provider string, profile Profile) (*store.Account, error) {
	// The plaintext is discarded, so password login stays blocked
	placeholder, err := bcrypt.GenerateFromPassword(
		[]byte("oauth2:"+uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generating placeholder credential: %w", err)
	}

	email := profile.Email
	if email == "" {
		email = substituteEmail(profile.Username)
	}

	account := &store.Account{
		ID:             uuid.NewString(),
		Username:       profile.Username,
		Email:          email,
		PasswordHash:   string(placeholder),
		FirstName:      profile.FirstName,
		LastName:       profile.LastName,
		ProfilePicture: profile.Picture,
		Provider:       provider,
		ProviderID:     profile.ProviderID,
		EmailVerified:  true, // the provider already verified it
		Role:           store.RoleUser,
	}

	if err := r.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			// Username collision with an unrelated account; disambiguate once
			account.Username = fmt.Sprintf("%s-%s", profile.Username, shortID(account.ID))
			if retryErr := r.accounts.CreateAccount(ctx, account); retryErr != nil {
				return nil, fmt.Errorf("creating account: %w", retryErr)
			}
		} else {
			return nil, fmt.Errorf("creating account: %w", err)
		}
	}

	r.logger.Info("created account from provider profile",
		"provider", provider,
		"account_id", account.ID,
		"username", account.Username)
	return account, nil
}

func substituteEmail(username string) string {
	return strings.ToLower(username) + "@hypertube.local"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
