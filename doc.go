// Package goGate is an access-control layer for HTTP and gRPC services. Every
// request passes a fixed-window rate limit charged against a shared counter
// store, then, on protected routes, authentication by signed token or by
// username and Argon2id-hashed password.
//
// A [Gate] is built once with [Builder.Build] and is safe for concurrent use.
// Its pipeline is an explicit ordered list of [Stage] values; each request gets
// a fresh [Evaluation] and yields a [Decision] that always carries the window
// state, so transports can emit X-RateLimit-* headers on every response.
//
// # Failure behavior
//
// The gate fails closed: when the counter store cannot be charged the request
// is throttled. Rejected credentials still consume quota because the rate
// limit is charged first.
//
// # Architecture boundaries
//
// goGate is the public surface. Counter keys and window arithmetic live under
// internal/rate. Token signing lives in token, password hashing in password.
// Transports (middleware, grpcgate) depend on goGate, never the reverse.
package goGate
