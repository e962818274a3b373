// ABOUTME: JWT signing and verification for gateway-issued credentials
// ABOUTME: Uses HS256 signing with a single shared secret

package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors
var (
	ErrMissingToken     = errors.New("missing token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("token expired")
	ErrMissingClaim     = errors.New("missing required claim")
)

// Token kinds
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Identity is the authenticated identity carried by a verified token
type Identity struct {
	AccountID string
	Username  string
	Email     string
	Roles     []string
}

// Codec signs and verifies compact HS256 tokens with a shared secret
type Codec struct {
	secret []byte
}

// NewCodec creates a new codec with the given signing secret
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// Sign creates a signed token for the identity with the given kind and lifetime.
// Every token carries a fresh jti, so two tokens minted for the same identity
// in the same second still differ.
func (c *Codec) Sign(identity Identity, kind string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":      uuid.NewString(),
		"sub":      identity.AccountID,
		"username": identity.Username,
		"email":    identity.Email,
		"roles":    strings.Join(identity.Roles, ","),
		"kind":     kind,
		"iat":      now.Unix(),
		"exp":      now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify validates the token signature and claims, returning the embedded identity.
// Returns one of the package sentinel errors on failure.
func (c *Codec) Verify(tokenString string) (*Identity, string, error) {
	if tokenString == "" {
		return nil, "", ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, "", ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, "", ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, "", ErrMalformedToken
		default:
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}

	if !token.Valid {
		return nil, "", ErrInvalidSignature
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, "", ErrMalformedToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	identity := &Identity{AccountID: sub}
	if username, ok := claims["username"].(string); ok {
		identity.Username = username
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if roles, ok := claims["roles"].(string); ok && roles != "" {
		identity.Roles = strings.Split(roles, ",")
	}

	kind, _ := claims["kind"].(string)

	return identity, kind, nil
}
