// ABOUTME: Token service managing issuance, validation, rotation and revocation
// ABOUTME: Composes the JWT codec with the session store for refresh-token lifecycle

package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hypertube/gateway/internal/store"
)

// Session errors
var (
	// ErrSessionNotFound means no active session exists for the refresh token
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired means the session existed but its expiry has passed
	ErrSessionExpired = errors.New("session expired")

	// ErrWrongTokenKind means a valid token of the wrong kind was presented,
	// such as a refresh token used as a bearer credential
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// SessionStore is the subset of store operations the token service needs
type SessionStore interface {
	GetAccount(ctx context.Context, id string) (*store.Account, error)
	SaveSession(ctx context.Context, session *store.Session) error
	GetSessionByToken(ctx context.Context, token string) (*store.Session, error)
	DeactivateAccountSessions(ctx context.Context, accountID string) error
	DeleteSession(ctx context.Context, token string) (bool, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// ClientMeta records where a session was minted from
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// Service issues, validates, rotates and revokes tokens and sessions
type Service struct {
	codec      *Codec
	sessions   SessionStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewService creates a token service with the given codec, store and lifetimes
func NewService(codec *Codec, sessions SessionStore, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		codec:      codec,
		sessions:   sessions,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     slog.Default().With("component", "token"),
	}
}

// identityFor builds the token identity for an account
func identityFor(account *store.Account) Identity {
	return Identity{
		AccountID: account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Roles:     []string{account.Role},
	}
}

// IssueAccessToken creates a short-lived signed access token for the account
func (s *Service) IssueAccessToken(account *store.Account) (string, error) {
	return s.codec.Sign(identityFor(account), KindAccess, s.accessTTL)
}

// IssueRefreshToken creates a long-lived refresh token and persists its session.
// The returned session records the client metadata for later auditing.
func (s *Service) IssueRefreshToken(ctx context.Context, account *store.Account, meta ClientMeta) (string, *store.Session, error) {
	refreshToken, err := s.codec.Sign(identityFor(account), KindRefresh, s.refreshTTL)
	if err != nil {
		return "", nil, fmt.Errorf("signing refresh token: %w", err)
	}

	session := &store.Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(s.refreshTTL),
		CreatedAt: time.Now(),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		Active:    true,
	}

	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("saving session: %w", err)
	}

	s.logger.Debug("created session", "account_id", account.ID)
	return refreshToken, session, nil
}

// Validate verifies an access token string and returns the identity it
// carries. A refresh token presented as a bearer credential is rejected with
// ErrWrongTokenKind. Other failures surface the codec sentinel errors.
func (s *Service) Validate(tokenString string) (*Identity, error) {
	identity, kind, err := s.codec.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if kind != KindAccess {
		return nil, ErrWrongTokenKind
	}
	return identity, nil
}

// Rotate exchanges a refresh token for a new access token.
// Returns ErrSessionNotFound for an unknown or inactive session.
// Returns ErrSessionExpired for an expired one; the session is deleted as a
// side effect of detection. The refresh token value itself is not rotated.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (string, error) {
	session, err := s.sessions.GetSessionByToken(ctx, refreshToken)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("looking up session: %w", err)
	}

	if !session.Active {
		return "", ErrSessionNotFound
	}

	if session.ExpiresAt.Before(time.Now()) {
		// Two concurrent rotations of the same expired token race here;
		// the conditional delete lets at most one observe the removal.
		if _, err := s.sessions.DeleteSession(ctx, refreshToken); err != nil {
			return "", fmt.Errorf("deleting expired session: %w", err)
		}
		return "", ErrSessionExpired
	}

	account, err := s.sessions.GetAccount(ctx, session.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("looking up session owner: %w", err)
	}

	accessToken, err := s.IssueAccessToken(account)
	if err != nil {
		return "", fmt.Errorf("issuing access token: %w", err)
	}

	s.logger.Debug("rotated access token", "account_id", account.ID)
	return accessToken, nil
}

// RevokeAllSessions marks every session for the account inactive.
// Used on signout and on password reset.
func (s *Service) RevokeAllSessions(ctx context.Context, accountID string) error {
	if err := s.sessions.DeactivateAccountSessions(ctx, accountID); err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	s.logger.Debug("revoked all sessions", "account_id", accountID)
	return nil
}

// SweepExpiredSessions deletes sessions whose expiry has passed
func (s *Service) SweepExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpiredSessions(ctx, time.Now())
}

// RunSweeper periodically sweeps expired sessions until the context is canceled
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpiredSessions(ctx); err != nil {
				s.logger.Warn("session sweep failed", "error", err)
			}
		}
	}
}
