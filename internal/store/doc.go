// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface covers account and session persistence. SQLiteStore
// implements it on modernc.org/sqlite with WAL mode enabled and automatic
// schema creation on open.
//
// # Data Models
//
//   - Account: local or provider-backed user account. Provider-backed
//     accounts carry the provider name and provider-issued id; the
//     (provider, provider_id) pair is unique.
//   - Session: refresh-token record bound to an account. The token value is
//     globally unique. Sessions are created at login, flipped inactive on
//     signout or password reset, and deleted by the expiry sweep.
//
// # Concurrency
//
// SQLite serializes writes, and session mutations use conditional
// UPDATE/DELETE statements that report affected rows. Two concurrent
// operations on the same session token therefore observe a consistent
// outcome: at most one caller sees a successful conditional delete.
//
// # Errors
//
// Lookups return ErrNotFound for missing rows. Inserts map unique
// constraint violations to ErrDuplicateUsername, ErrDuplicateEmail or
// ErrDuplicateSession so callers can branch without string matching.
package store
