// Package token issues and verifies signed, expiring identity tokens.
//
// Tokens are HS256 JWTs whose payload carries the identity id (uid) and an
// absolute expiry (exp, epoch seconds). They are opaque to callers. The
// signing key is a [Secret], created once per process with [NewSecret] or
// loaded with [ParseSecret] when several processes must accept each other's
// tokens. A Secret never prints its key.
package token
