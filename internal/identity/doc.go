// Package identity maps external OAuth2 login providers onto local accounts.
//
// The package has three pieces:
//
//   - Provider catalog: per-provider OAuth2 client configuration plus a
//     profile extraction function that normalizes the provider's userinfo
//     payload into a Profile. Extraction is a plain function table keyed by
//     provider name; adding a provider means adding one entry.
//
//   - Resolver: finds or creates the local account for a Profile. Accounts
//     are matched by email (username when the provider withholds email).
//     A match registered through a different provider is rejected with
//     ErrProviderConflict rather than taken over. New accounts get a
//     pre-verified email and a placeholder credential unusable for
//     password login.
//
//   - Flow: the authorization-code dance itself. Redirects carry a
//     single-use state nonce held in an in-memory TTL store; callbacks
//     redeem the nonce, exchange the code, fetch userinfo and resolve
//     the account.
package identity
