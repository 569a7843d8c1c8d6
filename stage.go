package goGate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Evaluation is the request-scoped state threaded through the stage list.
// Each Evaluate call owns a fresh Evaluation; stages may read and write it
// but must not retain it.
type Evaluation struct {
	Policy     RoutePolicy
	Request    Request
	RateLimit  RateLimitState
	Identity   *Identity
	AuthMethod string
	Started    time.Time
}

// Stage is one step of the gate pipeline. Returning a non-nil error stops
// the pipeline. Errors wrapping ErrRateLimitExceeded or
// ErrCounterStoreUnavailable become 429 decisions; every other error
// becomes a 401 decision.
type Stage interface {
	Name() string
	Run(ctx context.Context, ev *Evaluation) error
}

type funcStage struct {
	name string
	fn   func(ctx context.Context, ev *Evaluation) error
}

// NewStage adapts fn into a Stage.
func NewStage(name string, fn func(ctx context.Context, ev *Evaluation) error) Stage {
	return funcStage{name: name, fn: fn}
}

func (s funcStage) Name() string { return s.name }

func (s funcStage) Run(ctx context.Context, ev *Evaluation) error { return s.fn(ctx, ev) }

const (
	stageRateLimit    = "ratelimit"
	stageAuthenticate = "authenticate"

	authMethodToken    = "token"
	authMethodPassword = "password"
)

// rateLimitStage charges one unit against the caller's window.
type rateLimitStage struct {
	gate *Gate
}

func (rateLimitStage) Name() string { return stageRateLimit }

func (s rateLimitStage) Run(ctx context.Context, ev *Evaluation) error {
	st, err := s.gate.window.Charge(ctx, ev.Request.EndpointScope, ev.Request.ClientScope, ev.Policy.Limit, ev.Policy.Per)
	ev.RateLimit = st
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCounterStoreUnavailable, err)
	}
	if st.Exceeded() {
		return ErrRateLimitExceeded
	}
	return nil
}

// authStage resolves an identity for routes that require one. A bearer
// token is authoritative when present. Otherwise the username is tried as a
// token first, then as a username with the password.
type authStage struct {
	gate *Gate
}

func (authStage) Name() string { return stageAuthenticate }

func (s authStage) Run(ctx context.Context, ev *Evaluation) error {
	if !ev.Policy.RequireAuth {
		return nil
	}
	req := ev.Request

	if req.BearerToken != "" {
		uid, err := s.gate.tokens.Verify(req.BearerToken)
		if err != nil {
			s.gate.metricInc(MetricTokenRejected)
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return s.byToken(ctx, ev, uid)
	}
	if req.Username == "" {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrMalformedRequest)
	}
	if uid, err := s.gate.tokens.Verify(req.Username); err == nil {
		return s.byToken(ctx, ev, uid)
	}
	return s.byPassword(ctx, ev, req.Username, req.Password)
}

func (s authStage) byToken(ctx context.Context, ev *Evaluation, uid int64) error {
	g := s.gate

	identity, err := g.store.FindByID(ctx, uid)
	if err != nil {
		g.metricInc(MetricTokenRejected)
		return s.storeFailure(err, "find_by_id")
	}

	g.metricInc(MetricTokenAccepted)
	ev.Identity = &identity
	ev.AuthMethod = authMethodToken
	return nil
}

func (s authStage) byPassword(ctx context.Context, ev *Evaluation, username, password string) error {
	g := s.gate
	identity, err := g.store.FindByUsername(ctx, username)
	if err != nil {
		g.metricInc(MetricPasswordRejected)
		if errors.Is(err, ErrIdentityNotFound) {
			// Burn one verification so unknown usernames cost the same as wrong passwords.
			g.hasher.Verify(password, g.dummyHash)
		}
		return s.storeFailure(err, "find_by_username")
	}

	if !g.hasher.Verify(password, identity.PasswordHash) {
		g.metricInc(MetricPasswordRejected)
		return ErrAuthenticationFailed
	}

	g.metricInc(MetricPasswordAccepted)
	g.upgradePasswordHash(ctx, &identity, password)
	ev.Identity = &identity
	ev.AuthMethod = authMethodPassword
	return nil
}

func (s authStage) storeFailure(err error, op string) error {
	if errors.Is(err, ErrIdentityNotFound) {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, ErrIdentityNotFound)
	}
	s.gate.logger.Warn("credential store lookup failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: credential store: %v", ErrAuthenticationFailed, err)
}

// upgradePasswordHash rehashes with current parameters when the stored
// record is weaker. Failures are logged and never affect the decision.
func (g *Gate) upgradePasswordHash(ctx context.Context, identity *Identity, password string) {
	if !g.config.Password.UpgradeOnVerify {
		return
	}
	updater, ok := g.store.(PasswordHashUpdater)
	if !ok {
		return
	}
	needs, err := g.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !needs {
		return
	}

	next, err := g.hasher.Hash(password)
	if err != nil {
		g.logger.Warn("password rehash failed", zap.Int64("identity_id", identity.ID), zap.Error(err))
		return
	}
	if err := updater.UpdatePasswordHash(ctx, identity.ID, next); err != nil {
		g.logger.Warn("password hash update failed", zap.Int64("identity_id", identity.ID), zap.Error(err))
		return
	}

	identity.PasswordHash = next
	g.metricInc(MetricPasswordRehashed)
	g.emitAudit(ctx, auditEventPasswordRehashed, true, identity.ID, "", "", nil, nil)
}
