package goGate

import "context"

type clientIPContextKey struct{}
type requestIDContextKey struct{}
type decisionContextKey struct{}

// WithClientIP attaches the caller's address to ctx. Audit events read it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRequestID attaches a correlation id to ctx. Audit events and logs carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// WithDecision stores an allowed or denied decision for downstream handlers.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext returns the decision stored by WithDecision.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	if ctx == nil {
		return Decision{}, false
	}
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	return d, ok
}

// IdentityFromContext returns the identity resolved for this request. It is
// absent on routes that do not require auth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	d, ok := DecisionFromContext(ctx)
	if !ok || d.Identity == nil {
		return Identity{}, false
	}
	return *d.Identity, true
}

// RateLimitFromContext returns the window state charged for this request.
func RateLimitFromContext(ctx context.Context) (RateLimitState, bool) {
	d, ok := DecisionFromContext(ctx)
	if !ok {
		return RateLimitState{}, false
	}
	return d.RateLimit, true
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
