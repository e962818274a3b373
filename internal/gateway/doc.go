// Package gateway assembles the edge HTTP surface.
//
// Local /auth/* endpoints (credential sign-in/up, token refresh, OAuth2,
// verification and reset flows) are served by the gateway itself. Every
// other path runs the proxy pipeline: the ordered route table selects an
// upstream, the auth filter validates the bearer token for protected routes
// and injects trusted identity headers, and the forwarder sends the request
// through the resilience chain (rate limit, circuit breaker, retry).
//
// Error responses carry a stable machine-readable code plus message,
// timestamp, path and status. When an upstream is unreachable the client
// receives that upstream's 503 fallback body instead of a transport error.
//
// Every request gets a locally generated X-Trace-Id on both the forwarded
// request and the response; client-supplied trace ids are never trusted.
package gateway
