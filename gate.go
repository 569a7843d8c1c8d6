package goGate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/token"
	"go.uber.org/zap"
)

// Gate runs the ordered stage list for each request. Build one with
// [Builder.Build]; a built Gate is safe for concurrent use.
type Gate struct {
	config          Config
	store           CredentialStore
	tokens          *token.Service
	hasher          *password.Argon2
	window          *rate.Window
	stages          []Stage
	logger          *zap.Logger
	metrics         *Metrics
	audit           *auditDispatcher
	now             func() time.Time
	dummyHash       string
	secretGenerated bool
}

// Close flushes queued audit events and stops the dispatcher.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// AuditDropped returns the number of audit events lost to a full queue.
func (g *Gate) AuditDropped() uint64 {
	if g == nil || g.audit == nil {
		return 0
	}
	return g.audit.Dropped()
}

// MetricsSnapshot copies the in-process counters.
func (g *Gate) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return g.metrics.Snapshot()
}

func (g *Gate) metricInc(id MetricID) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.Inc(id)
}

// Stages returns the stage names in execution order.
func (g *Gate) Stages() []string {
	if g == nil {
		return nil
	}
	names := make([]string, 0, len(g.stages))
	for _, s := range g.stages {
		names = append(names, s.Name())
	}
	return names
}

// Policy returns the configured policy for endpoint, falling back to the
// default policy for unlisted endpoints.
func (g *Gate) Policy(endpoint string) RoutePolicy {
	if g == nil {
		return RoutePolicy{}
	}
	if p, ok := g.config.Routes[endpoint]; ok {
		return p
	}
	return g.config.RateLimit.DefaultPolicy
}

// Evaluate charges the caller's window and then authenticates when policy
// requires it. The rate limit is always charged first, so rejected
// credentials still consume quota. The returned Decision always carries the
// window state.
func (g *Gate) Evaluate(ctx context.Context, policy RoutePolicy, req Request) Decision {
	if g == nil || g.window == nil {
		return Decision{Outcome: OutcomeUnauthenticated, Err: ErrGateNotReady}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ev := &Evaluation{
		Policy:  g.normalizePolicy(policy),
		Request: req,
		Started: g.now(),
	}

	var err error
	for _, s := range g.stages {
		if err = s.Run(ctx, ev); err != nil {
			break
		}
	}

	d := Decision{
		Outcome:   OutcomeAllowed,
		RateLimit: ev.RateLimit,
	}
	if err != nil {
		d = g.deny(ctx, ev, err)
	} else {
		g.metricInc(MetricRequestAllowed)
		if ev.Identity != nil {
			id := *ev.Identity
			id.PasswordHash = ""
			d.Identity = &id
		}
	}

	if g.metrics.LatencyEnabled() {
		g.metrics.Observe(MetricEvaluateLatency, g.now().Sub(ev.Started))
	}
	g.emitDecision(ctx, ev, d)
	return d
}

// EvaluateRoute is Evaluate with the configured policy for req.EndpointScope.
func (g *Gate) EvaluateRoute(ctx context.Context, req Request) Decision {
	return g.Evaluate(ctx, g.Policy(req.EndpointScope), req)
}

func (g *Gate) deny(ctx context.Context, ev *Evaluation, err error) Decision {
	d := Decision{RateLimit: ev.RateLimit, Err: err}
	fields := []zap.Field{
		zap.String("endpoint", ev.Request.EndpointScope),
		zap.String("client", ev.Request.ClientScope),
		zap.String("request_id", RequestIDFromContext(ctx)),
	}

	switch {
	case errors.Is(err, ErrCounterStoreUnavailable):
		d.Outcome = OutcomeThrottled
		d.RateLimit.Remaining = 0
		g.metricInc(MetricCounterStoreUnavailable)
		g.metricInc(MetricRequestThrottled)
		g.logger.Warn("counter store unavailable, failing closed", append(fields, zap.Error(err))...)
	case errors.Is(err, ErrRateLimitExceeded):
		d.Outcome = OutcomeThrottled
		g.metricInc(MetricRequestThrottled)
	case errors.Is(err, ErrAuthenticationFailed):
		d.Outcome = OutcomeUnauthenticated
		g.metricInc(MetricRequestUnauthenticated)
		g.logger.Debug("authentication rejected", append(fields, zap.Error(err))...)
	default:
		d.Outcome = OutcomeUnauthenticated
		g.metricInc(MetricStageError)
		g.metricInc(MetricRequestUnauthenticated)
		g.logger.Error("stage failed", append(fields, zap.Error(err))...)
	}
	return d
}

// normalizePolicy replaces an unusable limit or period with the default
// policy's values. RequireAuth is kept as given.
func (g *Gate) normalizePolicy(p RoutePolicy) RoutePolicy {
	if validatePolicy(p) == nil {
		return p
	}
	def := g.config.RateLimit.DefaultPolicy
	return RoutePolicy{Limit: def.Limit, Per: def.Per, RequireAuth: p.RequireAuth}
}

// IssueToken signs a token for identity. A zero ttl uses the configured default.
func (g *Gate) IssueToken(ctx context.Context, identity Identity, ttl time.Duration) (string, error) {
	if g == nil || g.tokens == nil {
		return "", ErrGateNotReady
	}
	tok, err := g.tokens.Issue(identity.ID, ttl)
	if err != nil {
		return "", err
	}
	g.metricInc(MetricTokenIssued)
	g.emitAudit(ctx, auditEventTokenIssued, true, identity.ID, "", "", nil, nil)
	return tok, nil
}

// VerifyToken returns the identity id bound to tok.
func (g *Gate) VerifyToken(tok string) (int64, error) {
	if g == nil || g.tokens == nil {
		return 0, ErrGateNotReady
	}
	return g.tokens.Verify(tok)
}

// TokenTTL returns the lifetime used for IssueToken with a zero ttl.
func (g *Gate) TokenTTL() time.Duration {
	if g == nil || g.tokens == nil {
		return 0
	}
	return g.tokens.DefaultTTL()
}

// HashPassword encodes password with the configured Argon2id parameters.
func (g *Gate) HashPassword(pw string) (string, error) {
	if g == nil || g.hasher == nil {
		return "", ErrGateNotReady
	}
	return g.hasher.Hash(pw)
}

// VerifyPassword reports whether pw matches encoded.
func (g *Gate) VerifyPassword(pw, encoded string) bool {
	if g == nil || g.hasher == nil {
		return false
	}
	return g.hasher.Verify(pw, encoded)
}

// Register hashes password and stores a new identity. The credential store
// must implement IdentityCreator.
func (g *Gate) Register(ctx context.Context, username, pw string) (Identity, error) {
	if g == nil || g.store == nil {
		return Identity{}, ErrGateNotReady
	}
	creator, ok := g.store.(IdentityCreator)
	if !ok {
		return Identity{}, errors.New("credential store does not accept registrations")
	}
	username = strings.TrimSpace(username)
	if username == "" || pw == "" {
		return Identity{}, ErrMalformedRequest
	}

	encoded, err := g.hasher.Hash(pw)
	if err != nil {
		return Identity{}, err
	}
	identity, err := creator.CreateIdentity(ctx, username, encoded)
	if err != nil {
		return Identity{}, err
	}
	identity.PasswordHash = ""
	return identity, nil
}

// LookupIdentity returns the identity stored under id without its
// password hash.
func (g *Gate) LookupIdentity(ctx context.Context, id int64) (Identity, error) {
	if g == nil || g.store == nil {
		return Identity{}, ErrGateNotReady
	}
	identity, err := g.store.FindByID(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	identity.PasswordHash = ""
	return identity, nil
}
