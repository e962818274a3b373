// ABOUTME: Store interface and data types for hypertube-gateway persistence
// ABOUTME: Defines Account, Session structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUsername is returned when creating an account with a taken username
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateEmail is returned when creating an account with a taken email
var ErrDuplicateEmail = errors.New("email already in use")

// ErrDuplicateSession is returned when saving a session whose token value already exists
var ErrDuplicateSession = errors.New("session token already exists")

// Provider constants for account origin
const (
	ProviderLocal    = "local"
	ProviderGoogle   = "google"
	ProviderGithub   = "github"
	ProviderFortyTwo = "fortytwo"
)

// Role constants
const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// Account represents a user account, local or provider-backed
type Account struct {
	ID             string
	Username       string
	Email          string
	PasswordHash   string
	FirstName      string
	LastName       string
	ProfilePicture string
	Provider       string // "local", "google", "github", "fortytwo"
	ProviderID     string // provider-issued id, empty for local accounts
	EmailVerified  bool
	Role           string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Email verification / password reset tokens (delivery handled elsewhere)
	VerificationToken   string
	VerificationExpires *time.Time
	ResetToken          string
	ResetExpires        *time.Time
}

// Session represents a persisted refresh-token record.
// An inactive or expired session is never accepted for rotation.
type Session struct {
	ID        string
	AccountID string
	Token     string // refresh token value, globally unique
	ExpiresAt time.Time
	CreatedAt time.Time
	UserAgent string
	IPAddress string
	Active    bool
}

// Store defines the interface for account and session persistence.
// All reads/writes for a single session token are linearizable with respect
// to other operations on that token.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	GetAccountByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*Account, error)
	GetAccountByProvider(ctx context.Context, provider, providerID string) (*Account, error)
	GetAccountByVerificationToken(ctx context.Context, token string) (*Account, error)
	GetAccountByResetToken(ctx context.Context, token string) (*Account, error)
	UpdateAccountProfile(ctx context.Context, account *Account) error
	UpdateAccountPassword(ctx context.Context, id, passwordHash string) error
	SetAccountVerified(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, id, token string, expires time.Time) error

	// Sessions
	SaveSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	DeactivateAccountSessions(ctx context.Context, accountID string) error
	DeleteSession(ctx context.Context, token string) (bool, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
