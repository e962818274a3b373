// Package token implements the credential layer of the gateway.
//
// # Overview
//
// Two pieces:
//
//   - Codec: signs and verifies compact HS256 JWTs against a single shared
//     secret. Claims carry the account id (sub), username, email, a
//     comma-joined role list, and the token kind (access or refresh).
//   - Service: the lifecycle on top of the codec. Access tokens are
//     short-lived and stateless. Refresh tokens are long-lived and tracked
//     as sessions in the store; rotation exchanges a live session for a
//     fresh access token.
//
// # Rotation policy
//
// Rotate reissues only the access token. The refresh token value is kept
// until natural expiry or revocation, matching the upstream service this
// gateway fronts. A stolen refresh token therefore stays valid after
// legitimate use; revocation (signout, password reset) is the mitigation.
//
// # Errors
//
// Verification failures map to a closed set of sentinel errors
// (ErrMissingToken, ErrMalformedToken, ErrInvalidSignature,
// ErrExpiredToken, ErrMissingClaim) and session failures to
// ErrSessionNotFound / ErrSessionExpired, so HTTP handlers can translate
// them to stable response codes without string matching.
package token
