package goGate

import "errors"

var (
	// ErrRateLimitExceeded means the caller's window for the endpoint is spent.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrCounterStoreUnavailable means the shared counter could not be charged. The gate fails closed.
	ErrCounterStoreUnavailable = errors.New("counter store unavailable")
	// ErrAuthenticationFailed covers every token and credential failure. Callers never learn which check failed.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMalformedRequest is returned for requests missing required fields.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrIdentityNotFound is returned by a CredentialStore when no identity matches.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrIdentityExists is returned by an IdentityCreator for a taken username.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrGateNotReady is returned when a nil or unbuilt Gate is used.
	ErrGateNotReady = errors.New("gate not initialized")
)
