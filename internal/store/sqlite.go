// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides account/session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows one writer at a time. A single pooled connection keeps
	// the per-connection pragmas in effect and means concurrent writes queue
	// instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Wait for a lock instead of failing fast when another process holds it
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id                   TEXT PRIMARY KEY,
			username             TEXT NOT NULL UNIQUE,
			email                TEXT NOT NULL UNIQUE,
			password_hash        TEXT NOT NULL,
			first_name           TEXT,
			last_name            TEXT,
			profile_picture      TEXT,
			provider             TEXT NOT NULL DEFAULT 'local',
			provider_id          TEXT,
			email_verified       INTEGER NOT NULL DEFAULT 0,
			role                 TEXT NOT NULL DEFAULT 'ROLE_USER',
			verification_token   TEXT,
			verification_expires TEXT,
			reset_token          TEXT,
			reset_expires        TEXT,
			created_at           TEXT NOT NULL,
			updated_at           TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_provider
			ON accounts(provider, provider_id) WHERE provider_id != '';

		CREATE INDEX IF NOT EXISTS idx_accounts_verification ON accounts(verification_token);
		CREATE INDEX IF NOT EXISTS idx_accounts_reset ON accounts(reset_token);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			token      TEXT NOT NULL UNIQUE,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			user_agent TEXT,
			ip_address TEXT,
			active     INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueConstraintError reports whether err is a SQLite unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

const accountColumns = `id, username, email, password_hash, first_name, last_name,
	profile_picture, provider, provider_id, email_verified, role,
	verification_token, verification_expires, reset_token, reset_expires,
	created_at, updated_at`

// CreateAccount inserts a new account.
// Returns ErrDuplicateUsername or ErrDuplicateEmail on constraint violation.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *Account) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}

	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		account.Email,
		account.PasswordHash,
		account.FirstName,
		account.LastName,
		account.ProfilePicture,
		account.Provider,
		account.ProviderID,
		account.EmailVerified,
		account.Role,
		account.VerificationToken,
		formatTimePtr(account.VerificationExpires),
		account.ResetToken,
		formatTimePtr(account.ResetExpires),
		account.CreatedAt.Format(time.RFC3339),
		account.UpdatedAt.Format(time.RFC3339),
	)

	if isUniqueConstraintError(err) {
		if strings.Contains(err.Error(), "username") {
			return ErrDuplicateUsername
		}
		if strings.Contains(err.Error(), "email") {
			return ErrDuplicateEmail
		}
		return ErrDuplicateUsername
	}
	if err != nil {
		return fmt.Errorf("inserting account: %w", err)
	}

	return nil
}

// scanAccount scans a single account row
func scanAccount(row *sql.Row) (*Account, error) {
	var account Account
	var firstName, lastName, picture, providerID sql.NullString
	var verifToken, verifExpires, resetToken, resetExpires sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&firstName,
		&lastName,
		&picture,
		&account.Provider,
		&providerID,
		&account.EmailVerified,
		&account.Role,
		&verifToken,
		&verifExpires,
		&resetToken,
		&resetExpires,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}

	account.FirstName = firstName.String
	account.LastName = lastName.String
	account.ProfilePicture = picture.String
	account.ProviderID = providerID.String
	account.VerificationToken = verifToken.String
	account.ResetToken = resetToken.String

	account.VerificationExpires, err = parseTimePtr(verifExpires)
	if err != nil {
		return nil, fmt.Errorf("parsing verification_expires: %w", err)
	}
	account.ResetExpires, err = parseTimePtr(resetExpires)
	if err != nil {
		return nil, fmt.Errorf("parsing reset_expires: %w", err)
	}

	account.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	account.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &account, nil
}

// GetAccount retrieves an account by ID.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, id))
}

// GetAccountByUsername retrieves an account by username
func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, username))
}

// GetAccountByEmail retrieves an account by email
func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, email))
}

// GetAccountByUsernameOrEmail retrieves an account matching either field.
// Used by the signin flow, which accepts both.
func (s *SQLiteStore) GetAccountByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = ? OR email = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, usernameOrEmail, usernameOrEmail))
}

// GetAccountByProvider retrieves an account by external provider identity
func (s *SQLiteStore) GetAccountByProvider(ctx context.Context, provider, providerID string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE provider = ? AND provider_id = ?`
	return scanAccount(s.db.QueryRowContext(ctx, query, provider, providerID))
}

// GetAccountByVerificationToken retrieves an account by its email verification token
func (s *SQLiteStore) GetAccountByVerificationToken(ctx context.Context, token string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE verification_token = ? AND verification_token != ''`
	return scanAccount(s.db.QueryRowContext(ctx, query, token))
}

// GetAccountByResetToken retrieves an account by its password reset token
func (s *SQLiteStore) GetAccountByResetToken(ctx context.Context, token string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE reset_token = ? AND reset_token != ''`
	return scanAccount(s.db.QueryRowContext(ctx, query, token))
}

// UpdateAccountProfile updates the mutable profile fields of an account.
// Returns ErrNotFound if the account doesn't exist.
func (s *SQLiteStore) UpdateAccountProfile(ctx context.Context, account *Account) error {
	query := `
		UPDATE accounts
		SET first_name = ?, last_name = ?, profile_picture = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		account.FirstName,
		account.LastName,
		account.ProfilePicture,
		time.Now().UTC().Format(time.RFC3339),
		account.ID,
	)
	if err != nil {
		return fmt.Errorf("updating account profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateAccountPassword replaces the stored password hash and clears any reset token
func (s *SQLiteStore) UpdateAccountPassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = ?, reset_token = '', reset_expires = NULL, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, passwordHash, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating account password: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SetAccountVerified marks the account email as verified and clears the verification token
func (s *SQLiteStore) SetAccountVerified(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET email_verified = 1, verification_token = '', verification_expires = NULL, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("marking account verified: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SetResetToken stores a password reset token with its expiry
func (s *SQLiteStore) SetResetToken(ctx context.Context, id, token string, expires time.Time) error {
	query := `
		UPDATE accounts
		SET reset_token = ?, reset_expires = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		token,
		expires.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("setting reset token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveSession inserts a new session row.
// Returns ErrDuplicateSession if the token value already exists.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, account_id, token, expires_at, created_at, user_agent, ip_address, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.AccountID,
		session.Token,
		session.ExpiresAt.UTC().Format(time.RFC3339),
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.UserAgent,
		session.IPAddress,
		session.Active,
	)

	if isUniqueConstraintError(err) {
		return ErrDuplicateSession
	}
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetSessionByToken retrieves a session by its refresh token value.
// Returns ErrNotFound if no session exists for the token.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*Session, error) {
	query := `
		SELECT id, account_id, token, expires_at, created_at, user_agent, ip_address, active
		FROM sessions
		WHERE token = ?
	`

	var session Session
	var userAgent, ipAddress sql.NullString
	var expiresAtStr, createdAtStr string

	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.AccountID,
		&session.Token,
		&expiresAtStr,
		&createdAtStr,
		&userAgent,
		&ipAddress,
		&session.Active,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	session.UserAgent = userAgent.String
	session.IPAddress = ipAddress.String

	session.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &session, nil
}

// DeactivateAccountSessions flips active=false on every session for the account.
// Used on signout and password reset. Deactivation is one-way.
func (s *SQLiteStore) DeactivateAccountSessions(ctx context.Context, accountID string) error {
	query := `UPDATE sessions SET active = 0 WHERE account_id = ?`

	if _, err := s.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("deactivating sessions: %w", err)
	}

	return nil
}

// DeleteSession removes a session by token value.
// Returns true if a row was deleted. The conditional delete makes concurrent
// expiry handling well-defined: at most one caller observes the deletion.
func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	return rows > 0, nil
}

// DeleteExpiredSessions removes all sessions that expired before the given time.
// Returns the number of sessions removed.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Debug("swept expired sessions", "count", rows)
	}

	return rows, nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// formatTimePtr formats an optional time as RFC3339, or nil
func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTimePtr parses an optional RFC3339 string column
func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
