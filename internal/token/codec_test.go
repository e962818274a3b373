// ABOUTME: Unit tests for JWT signing and verification
// ABOUTME: Tests round-trip identity, invalid tokens, and expired tokens

package token

import (
	"errors"
	"testing"
	"time"
)

var testIdentity = Identity{
	AccountID: "account-123",
	Username:  "alice",
	Email:     "alice@example.com",
	Roles:     []string{"ROLE_USER"},
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec([]byte("test-secret-key-for-jwt-signing"))

	signed, err := codec.Sign(testIdentity, KindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	got, kind, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if got.AccountID != testIdentity.AccountID {
		t.Errorf("AccountID = %q, want %q", got.AccountID, testIdentity.AccountID)
	}
	if got.Username != testIdentity.Username {
		t.Errorf("Username = %q, want %q", got.Username, testIdentity.Username)
	}
	if got.Email != testIdentity.Email {
		t.Errorf("Email = %q, want %q", got.Email, testIdentity.Email)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "ROLE_USER" {
		t.Errorf("Roles = %v, want [ROLE_USER]", got.Roles)
	}
	if kind != KindAccess {
		t.Errorf("kind = %q, want %q", kind, KindAccess)
	}
}

func TestCodec_MultipleRoles(t *testing.T) {
	codec := NewCodec([]byte("test-secret-key-for-jwt-signing"))

	identity := testIdentity
	identity.Roles = []string{"ROLE_USER", "ROLE_ADMIN"}

	signed, err := codec.Sign(identity, KindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	got, _, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	if len(got.Roles) != 2 || got.Roles[0] != "ROLE_USER" || got.Roles[1] != "ROLE_ADMIN" {
		t.Errorf("Roles = %v, want [ROLE_USER ROLE_ADMIN]", got.Roles)
	}
}

func TestCodec_InvalidTokens(t *testing.T) {
	codec := NewCodec([]byte("test-secret-key-for-jwt-signing"))

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrMissingToken,
		},
		{
			name:    "garbage token",
			token:   "not-a-jwt-token",
			wantErr: ErrMalformedToken,
		},
		{
			name:    "malformed JWT",
			token:   "header.payload.signature",
			wantErr: ErrMalformedToken,
		},
		{
			name: "wrong secret",
			token: func() string {
				other := NewCodec([]byte("different-secret"))
				signed, _ := other.Sign(testIdentity, KindAccess, time.Hour)
				return signed
			}(),
			wantErr: ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := codec.Verify(tt.token)
			if err == nil {
				t.Fatal("Verify() should have returned an error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodec_ExpiredToken(t *testing.T) {
	codec := NewCodec([]byte("test-secret-key-for-jwt-signing"))

	// Signed an hour in the past
	signed, err := codec.Sign(testIdentity, KindAccess, -time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	_, _, err = codec.Verify(signed)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestCodec_ExpiredToken_ValidSignature(t *testing.T) {
	// Expiry wins even when the signature is perfectly valid
	codec := NewCodec([]byte("test-secret-key-for-jwt-signing"))

	signed, err := codec.Sign(testIdentity, KindRefresh, -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	_, _, err = codec.Verify(signed)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestCodec_BlankSubject(t *testing.T) {
	codec := NewCodec([]byte("test-secret-key-for-jwt-signing"))

	identity := testIdentity
	identity.AccountID = ""

	signed, err := codec.Sign(identity, KindAccess, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	_, _, err = codec.Verify(signed)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}
