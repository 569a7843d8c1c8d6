package goGate

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
)

// Identity is a resolved principal. PasswordHash is an encoded Argon2id
// record and is never a plaintext password.
type Identity struct {
	ID           int64
	Username     string
	PasswordHash string
}

// CredentialStore looks up identities. Implementations return
// ErrIdentityNotFound for misses and must be safe for concurrent use.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (Identity, error)
	FindByID(ctx context.Context, id int64) (Identity, error)
}

// IdentityCreator is implemented by stores that accept registrations.
type IdentityCreator interface {
	CreateIdentity(ctx context.Context, username, passwordHash string) (Identity, error)
}

// PasswordHashUpdater is implemented by stores that accept rehashed
// passwords. The gate uses it to upgrade weak hashes after a successful
// password check.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, id int64, passwordHash string) error
}

// CounterStore is the atomic increment-with-expiry primitive behind rate limiting.
type CounterStore = rate.CounterStore

// RateLimitState is the per-request window report carried in headers.
type RateLimitState = rate.State

// RoutePolicy is the limit and auth requirement applied to one endpoint scope.
type RoutePolicy struct {
	Limit       int
	Per         time.Duration
	RequireAuth bool
}

// Request is the transport-neutral view of an inbound call.
//
// BearerToken is an explicit token. Username may itself hold a token, in
// which case Password is ignored; this mirrors clients that send the token
// in the basic-auth username slot.
type Request struct {
	EndpointScope string
	ClientScope   string
	BearerToken   string
	Username      string
	Password      string
}

// Outcome is the terminal state of an evaluation.
type Outcome uint8

const (
	// OutcomeAllowed forwards the request to the protected handler.
	OutcomeAllowed Outcome = iota
	// OutcomeThrottled rejects with 429.
	OutcomeThrottled
	// OutcomeUnauthenticated rejects with 401.
	OutcomeUnauthenticated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeThrottled:
		return "throttled"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Decision is the result of Gate.Evaluate. RateLimit is populated for every
// outcome so transports can always emit rate-limit headers. Err holds the
// internal cause and must not be shown to clients.
type Decision struct {
	Outcome   Outcome
	Identity  *Identity
	RateLimit RateLimitState
	Err       error
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// HTTPStatus maps the outcome to a status code.
func (d Decision) HTTPStatus() int {
	switch d.Outcome {
	case OutcomeAllowed:
		return http.StatusOK
	case OutcomeThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}
