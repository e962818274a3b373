// ABOUTME: Request context plumbing for authenticated identity and trace ids
// ABOUTME: Provides WithIdentity/IdentityFromContext used by handlers downstream

package gateway

import (
	"context"

	"github.com/hypertube/gateway/internal/token"
)

// identityKey is the context key type for the authenticated identity
type identityKey struct{}

// traceKey is the context key type for the request trace id
type traceKey struct{}

// WithIdentity returns a new context with the authenticated identity attached
func WithIdentity(ctx context.Context, identity *token.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the authenticated identity, or nil when the
// request did not pass the auth filter.
func IdentityFromContext(ctx context.Context) *token.Identity {
	identity, ok := ctx.Value(identityKey{}).(*token.Identity)
	if !ok {
		return nil
	}
	return identity
}

// withTraceID returns a new context carrying the request trace id
func withTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFromContext retrieves the request trace id, or "" when absent
func TraceIDFromContext(ctx context.Context) string {
	traceID, ok := ctx.Value(traceKey{}).(string)
	if !ok {
		return ""
	}
	return traceID
}
