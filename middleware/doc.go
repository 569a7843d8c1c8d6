// Package middleware adapts goGate.Gate to net/http.
//
// [Guard] and [GuardPolicy] map each request onto a goGate.Request (client
// scope from the remote address, credentials from the Authorization header),
// call Gate.Evaluate, and write X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset on every response. Denials get a JSON body: 429 with
// rate_limit_exceeded, or 401 with unauthorized and WWW-Authenticate: Bearer.
// Allowed requests carry the Decision on their context; handlers read it
// with goGate.IdentityFromContext.
//
// # What this package must NOT do
//
//   - Verify tokens or passwords directly (delegates to Gate).
//   - Access the counter store.
//   - Tell clients which credential check failed.
package middleware
