package goGate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestClock starts one second into the current minute. Counter expiry is
// tracked in real time by miniredis, so the fake clock must stay near it.
func newTestClock() *testClock {
	now := time.Now().Unix()
	return &testClock{t: time.Unix(now-now%60+1, 0)}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type memCreds struct {
	mu      sync.Mutex
	next    int64
	byID    map[int64]Identity
	byName  map[string]int64
	updates atomic.Int64
	failAll error
}

func newMemCreds() *memCreds {
	return &memCreds{byID: map[int64]Identity{}, byName: map[string]int64{}}
}

func (s *memCreds) FindByUsername(_ context.Context, username string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return Identity{}, s.failAll
	}
	id, ok := s.byName[username]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return s.byID[id], nil
}

func (s *memCreds) FindByID(_ context.Context, id int64) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return Identity{}, s.failAll
	}
	identity, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrIdentityNotFound
	}
	return identity, nil
}

func (s *memCreds) CreateIdentity(_ context.Context, username, passwordHash string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return Identity{}, ErrIdentityExists
	}
	s.next++
	identity := Identity{ID: s.next, Username: username, PasswordHash: passwordHash}
	s.byID[identity.ID] = identity
	s.byName[username] = identity.ID
	return identity, nil
}

func (s *memCreds) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	identity.PasswordHash = passwordHash
	s.byID[id] = identity
	s.updates.Add(1)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Metrics.Enabled = true
	return cfg
}

type testGate struct {
	gate  *Gate
	mr    *miniredis.Miniredis
	clock *testClock
	creds *memCreds
}

func buildTestGate(t *testing.T, cfg Config, opts ...func(*Builder)) testGate {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock()
	creds := newMemCreds()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(creds).
		WithClock(clock.Now).
		WithRoute("/widgets", RoutePolicy{Limit: 3, Per: time.Minute}).
		WithRoute("/private", RoutePolicy{Limit: 10, Per: time.Minute, RequireAuth: true})
	for _, opt := range opts {
		opt(b)
	}

	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(g.Close)
	return testGate{gate: g, mr: mr, clock: clock, creds: creds}
}

func TestEvaluateCountsDownThenThrottles(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	g := tg.gate
	ctx := context.Background()
	req := Request{EndpointScope: "/widgets", ClientScope: "203.0.113.7"}

	for i, want := range []int{2, 1, 0} {
		d := g.EvaluateRoute(ctx, req)
		if !d.Allowed() {
			t.Fatalf("request %d: expected allowed, got %s (%v)", i+1, d.Outcome, d.Err)
		}
		if d.RateLimit.Remaining != want {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, want, d.RateLimit.Remaining)
		}
		if d.RateLimit.Limit != 3 {
			t.Fatalf("expected limit 3, got %d", d.RateLimit.Limit)
		}
	}

	d := g.EvaluateRoute(ctx, req)
	if d.Outcome != OutcomeThrottled {
		t.Fatalf("expected throttled, got %s", d.Outcome)
	}
	if d.HTTPStatus() != 429 {
		t.Fatalf("expected 429, got %d", d.HTTPStatus())
	}
	if !errors.Is(d.Err, ErrRateLimitExceeded) {
		t.Fatalf("expected ErrRateLimitExceeded, got %v", d.Err)
	}
	if d.RateLimit.Remaining != 0 || d.RateLimit.Current != 3 {
		t.Fatalf("unexpected state after limit: %+v", d.RateLimit)
	}

	wantReset := tg.clock.Now().Unix() - tg.clock.Now().Unix()%60 + 60
	if d.RateLimit.Reset != wantReset {
		t.Fatalf("expected reset %d, got %d", wantReset, d.RateLimit.Reset)
	}

	other := g.EvaluateRoute(ctx, Request{EndpointScope: "/widgets", ClientScope: "203.0.113.8"})
	if !other.Allowed() {
		t.Fatal("expected another client to have its own window")
	}

	snap := g.MetricsSnapshot()
	if snap.Counters[MetricRequestAllowed] != 4 || snap.Counters[MetricRequestThrottled] != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestEvaluateUnlistedRouteUsesDefaultPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.DefaultPolicy = RoutePolicy{Limit: 7, Per: 30 * time.Second}
	tg := buildTestGate(t, cfg)

	d := tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/other", ClientScope: "c"})
	if !d.Allowed() || d.RateLimit.Limit != 7 || d.RateLimit.Remaining != 6 {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestEvaluateNormalizesInvalidPolicy(t *testing.T) {
	tg := buildTestGate(t, testConfig())

	d := tg.gate.Evaluate(context.Background(), RoutePolicy{Limit: 0, Per: 0}, Request{EndpointScope: "/x", ClientScope: "c"})
	if !d.Allowed() {
		t.Fatalf("expected allowed, got %s (%v)", d.Outcome, d.Err)
	}
	if d.RateLimit.Limit != DefaultConfig().RateLimit.DefaultPolicy.Limit {
		t.Fatalf("expected default limit, got %d", d.RateLimit.Limit)
	}

	d = tg.gate.Evaluate(context.Background(), RoutePolicy{Limit: -1, RequireAuth: true}, Request{EndpointScope: "/x", ClientScope: "c"})
	if d.Outcome != OutcomeUnauthenticated {
		t.Fatalf("expected RequireAuth to survive normalization, got %s", d.Outcome)
	}
}

func TestEvaluateFailsClosedWhenStoreUnavailable(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	tg.mr.Close()

	d := tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/widgets", ClientScope: "c"})
	if d.Outcome != OutcomeThrottled {
		t.Fatalf("expected throttled when store is down, got %s", d.Outcome)
	}
	if !errors.Is(d.Err, ErrCounterStoreUnavailable) {
		t.Fatalf("expected ErrCounterStoreUnavailable, got %v", d.Err)
	}
	if d.RateLimit.Limit != 3 || d.RateLimit.Remaining != 0 || d.RateLimit.Reset == 0 {
		t.Fatalf("expected header state on store failure, got %+v", d.RateLimit)
	}
	if tg.gate.MetricsSnapshot().Counters[MetricCounterStoreUnavailable] != 1 {
		t.Fatal("expected store-unavailable counter to increment")
	}
}

func TestEvaluatePasswordAuthentication(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	g := tg.gate
	ctx := context.Background()

	alice, err := g.Register(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if alice.PasswordHash != "" {
		t.Fatal("expected Register to strip the password hash")
	}

	d := g.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", Username: "alice", Password: "secret"})
	if !d.Allowed() {
		t.Fatalf("expected allowed, got %s (%v)", d.Outcome, d.Err)
	}
	if d.Identity == nil || d.Identity.ID != alice.ID || d.Identity.Username != "alice" {
		t.Fatalf("unexpected identity: %+v", d.Identity)
	}
	if d.Identity.PasswordHash != "" {
		t.Fatal("expected decision identity without password hash")
	}

	cases := []Request{
		{Username: "alice", Password: "wrong"},
		{Username: "bob", Password: "secret"},
		{},
		{Password: "secret"},
	}
	for _, req := range cases {
		req.EndpointScope = "/private"
		req.ClientScope = "c"
		d := g.EvaluateRoute(ctx, req)
		if d.Outcome != OutcomeUnauthenticated || d.HTTPStatus() != 401 {
			t.Fatalf("expected 401 for %+v, got %s", req, d.Outcome)
		}
		if !errors.Is(d.Err, ErrAuthenticationFailed) {
			t.Fatalf("expected ErrAuthenticationFailed, got %v", d.Err)
		}
		if d.RateLimit.Limit != 10 {
			t.Fatal("expected rate state on auth failure")
		}
	}

	if _, err := g.Register(ctx, "alice", "other"); !errors.Is(err, ErrIdentityExists) {
		t.Fatalf("expected ErrIdentityExists, got %v", err)
	}
	if _, err := g.Register(ctx, " ", "x"); !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}

	found, err := g.LookupIdentity(ctx, alice.ID)
	if err != nil || found.Username != "alice" || found.PasswordHash != "" {
		t.Fatalf("LookupIdentity: %+v, %v", found, err)
	}
	if _, err := g.LookupIdentity(ctx, alice.ID+100); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestEvaluateRateLimitChargedBeforeAuth(t *testing.T) {
	tg := buildTestGate(t, testConfig(), func(b *Builder) {
		b.WithRoute("/login", RoutePolicy{Limit: 2, Per: time.Minute, RequireAuth: true})
	})
	g := tg.gate
	req := Request{EndpointScope: "/login", ClientScope: "c", Username: "ghost", Password: "x"}

	for i := 0; i < 2; i++ {
		if d := g.EvaluateRoute(context.Background(), req); d.Outcome != OutcomeUnauthenticated {
			t.Fatalf("attempt %d: expected 401, got %s", i+1, d.Outcome)
		}
	}
	if d := g.EvaluateRoute(context.Background(), req); d.Outcome != OutcomeThrottled {
		t.Fatalf("expected failed logins to exhaust quota, got %s", d.Outcome)
	}
}

func TestEvaluateTokenAuthentication(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	g := tg.gate
	ctx := context.Background()

	alice, err := g.Register(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	tok, err := g.IssueToken(ctx, alice, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	d := g.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", BearerToken: tok})
	if !d.Allowed() || d.Identity == nil || d.Identity.ID != alice.ID {
		t.Fatalf("expected bearer token to authenticate, got %s (%v)", d.Outcome, d.Err)
	}

	d = g.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", Username: tok})
	if !d.Allowed() || d.Identity.ID != alice.ID {
		t.Fatalf("expected token in username slot to authenticate, got %s (%v)", d.Outcome, d.Err)
	}

	snap := g.MetricsSnapshot()
	if snap.Counters[MetricTokenIssued] != 1 || snap.Counters[MetricTokenAccepted] != 2 {
		t.Fatalf("unexpected token counters: %+v", snap.Counters)
	}
}

func TestEvaluateTokenWinsOverCredentials(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	g := tg.gate
	ctx := context.Background()

	alice, _ := g.Register(ctx, "alice", "secret")
	if _, err := g.Register(ctx, "bob", "hunter2"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	tok, err := g.IssueToken(ctx, alice, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	d := g.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", BearerToken: tok, Username: "bob", Password: "hunter2"})
	if !d.Allowed() || d.Identity.Username != "alice" {
		t.Fatalf("expected token identity to win, got %+v", d.Identity)
	}

	d = g.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", BearerToken: tok + "x", Username: "bob", Password: "hunter2"})
	if d.Outcome != OutcomeUnauthenticated {
		t.Fatalf("expected a bad bearer token to be final, got %s", d.Outcome)
	}
}

func TestEvaluateExpiredToken(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	g := tg.gate
	ctx := context.Background()

	alice, _ := g.Register(ctx, "alice", "secret")
	tok, err := g.IssueToken(ctx, alice, time.Second)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	tg.clock.Advance(2 * time.Second)
	d := g.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", BearerToken: tok})
	if d.Outcome != OutcomeUnauthenticated {
		t.Fatalf("expected 401 for expired token, got %s", d.Outcome)
	}
	if !errors.Is(d.Err, token.ErrExpired) {
		t.Fatalf("expected token.ErrExpired, got %v", d.Err)
	}
}

func TestEvaluateTokenForDeletedIdentity(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	g := tg.gate

	tok, err := g.IssueToken(context.Background(), Identity{ID: 99}, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	d := g.EvaluateRoute(context.Background(), Request{EndpointScope: "/private", ClientScope: "c", BearerToken: tok})
	if d.Outcome != OutcomeUnauthenticated || !errors.Is(d.Err, ErrIdentityNotFound) {
		t.Fatalf("expected 401 with ErrIdentityNotFound, got %s (%v)", d.Outcome, d.Err)
	}
}

func TestEvaluateCredentialStoreFailure(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	tg.creds.failAll = errors.New("connection reset")

	d := tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/private", ClientScope: "c", Username: "alice", Password: "x"})
	if d.Outcome != OutcomeUnauthenticated || !errors.Is(d.Err, ErrAuthenticationFailed) {
		t.Fatalf("expected 401 on store failure, got %s (%v)", d.Outcome, d.Err)
	}
}

func TestEvaluateUpgradesWeakHash(t *testing.T) {
	cfg := testConfig()
	cfg.Password.Time = 2
	tg := buildTestGate(t, cfg)
	ctx := context.Background()

	weak, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	old, err := weak.Hash("secret")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	alice, _ := tg.creds.CreateIdentity(ctx, "alice", old)

	d := tg.gate.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", Username: "alice", Password: "secret"})
	if !d.Allowed() {
		t.Fatalf("expected allowed, got %s (%v)", d.Outcome, d.Err)
	}
	if tg.creds.updates.Load() != 1 {
		t.Fatalf("expected one hash update, got %d", tg.creds.updates.Load())
	}

	stored, _ := tg.creds.FindByID(ctx, alice.ID)
	if stored.PasswordHash == old || !strings.Contains(stored.PasswordHash, "t=2") {
		t.Fatalf("expected upgraded hash, got %q", stored.PasswordHash)
	}
	if !tg.gate.VerifyPassword("secret", stored.PasswordHash) {
		t.Fatal("expected upgraded hash to verify")
	}

	tg.gate.EvaluateRoute(ctx, Request{EndpointScope: "/private", ClientScope: "c", Username: "alice", Password: "secret"})
	if tg.creds.updates.Load() != 1 {
		t.Fatal("expected no second upgrade for a current hash")
	}
	if tg.gate.MetricsSnapshot().Counters[MetricPasswordRehashed] != 1 {
		t.Fatal("expected rehash counter to increment once")
	}
}

func TestCustomStagesRunAfterBuiltins(t *testing.T) {
	var calls atomic.Int64
	block := errors.New("blocked by policy")
	tg := buildTestGate(t, testConfig(), func(b *Builder) {
		b.WithStage(NewStage("deny-bob", func(_ context.Context, ev *Evaluation) error {
			calls.Add(1)
			if ev.RateLimit.Limit == 0 {
				return errors.New("rate stage did not run first")
			}
			if ev.Request.ClientScope == "bob" {
				return block
			}
			return nil
		}))
	})

	if got := tg.gate.Stages(); strings.Join(got, ",") != "ratelimit,authenticate,deny-bob" {
		t.Fatalf("unexpected stage order: %v", got)
	}

	d := tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/widgets", ClientScope: "alice"})
	if !d.Allowed() {
		t.Fatalf("expected allowed, got %s (%v)", d.Outcome, d.Err)
	}

	d = tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/widgets", ClientScope: "bob"})
	if d.Outcome != OutcomeUnauthenticated || !errors.Is(d.Err, block) {
		t.Fatalf("expected custom stage denial, got %s (%v)", d.Outcome, d.Err)
	}
	if tg.gate.MetricsSnapshot().Counters[MetricStageError] != 1 {
		t.Fatal("expected stage error counter to increment")
	}

	for i := 0; i < 3; i++ {
		tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/widgets", ClientScope: "alice"})
	}
	if calls.Load() != 4 {
		t.Fatalf("expected custom stage skipped after throttling, got %d calls", calls.Load())
	}
}

func TestCustomStageCanThrottle(t *testing.T) {
	tg := buildTestGate(t, testConfig(), func(b *Builder) {
		b.WithStage(NewStage("quota", func(context.Context, *Evaluation) error {
			return ErrRateLimitExceeded
		}))
	})

	d := tg.gate.EvaluateRoute(context.Background(), Request{EndpointScope: "/widgets", ClientScope: "c"})
	if d.Outcome != OutcomeThrottled {
		t.Fatalf("expected throttled, got %s", d.Outcome)
	}
}

func TestBuildRequiresStores(t *testing.T) {
	if _, err := New().WithCredentialStore(newMemCreds()).Build(); err == nil {
		t.Fatal("expected error without counter store")
	}
	if _, err := New().WithCounterStore(NewMemoryCounterStore()).Build(); err == nil {
		t.Fatal("expected error without credential store")
	}

	b := New().WithConfig(testConfig()).WithCounterStore(NewMemoryCounterStore()).WithCredentialStore(newMemCreds())
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer g.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuildGeneratesSecretWhenMissing(t *testing.T) {
	g, err := New().WithConfig(testConfig()).WithCounterStore(NewMemoryCounterStore()).WithCredentialStore(newMemCreds()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer g.Close()
	if !g.SecurityReport().SecretGenerated {
		t.Fatal("expected generated secret to be reported")
	}

	secret, err := token.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	shared, err := token.ParseSecret(secret.Encode())
	if err != nil {
		t.Fatalf("ParseSecret failed: %v", err)
	}

	a, _ := New().WithConfig(testConfig()).WithSecret(shared).WithCounterStore(NewMemoryCounterStore()).WithCredentialStore(newMemCreds()).Build()
	b, _ := New().WithConfig(testConfig()).WithSecret(shared).WithCounterStore(NewMemoryCounterStore()).WithCredentialStore(newMemCreds()).Build()
	defer a.Close()
	defer b.Close()

	tok, err := a.IssueToken(context.Background(), Identity{ID: 5}, 0)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if id, err := b.VerifyToken(tok); err != nil || id != 5 {
		t.Fatalf("expected peer gate to accept token, got %d %v", id, err)
	}
	if a.SecurityReport().SecretGenerated {
		t.Fatal("expected injected secret not to be reported as generated")
	}
}

func TestNilGateIsSafe(t *testing.T) {
	var g *Gate
	d := g.Evaluate(context.Background(), RoutePolicy{}, Request{})
	if d.Allowed() || !errors.Is(d.Err, ErrGateNotReady) {
		t.Fatalf("expected ErrGateNotReady, got %+v", d)
	}
	if _, err := g.IssueToken(context.Background(), Identity{}, 0); !errors.Is(err, ErrGateNotReady) {
		t.Fatalf("expected ErrGateNotReady, got %v", err)
	}
	g.Close()
	if g.AuditDropped() != 0 {
		t.Fatal("expected zero drops on nil gate")
	}
}

func TestSecurityReport(t *testing.T) {
	tg := buildTestGate(t, testConfig())
	r := tg.gate.SecurityReport()

	if r.TokenAlgorithm != "HS256" || r.TokenTTL != 600*time.Second {
		t.Fatalf("unexpected token report: %+v", r)
	}
	if !r.FailClosed || r.RouteCount != 2 || r.KeyPrefix != "rate-limit" {
		t.Fatalf("unexpected rate report: %+v", r)
	}
	if r.Argon2.Memory != 8*1024 || !r.MetricsEnabled || r.AuditEnabled {
		t.Fatalf("unexpected report: %+v", r)
	}
	if len(r.Stages) != 2 {
		t.Fatalf("expected builtin stages, got %v", r.Stages)
	}
}

func TestDecisionContextRoundTrip(t *testing.T) {
	d := Decision{Outcome: OutcomeAllowed, Identity: &Identity{ID: 3, Username: "carol"}, RateLimit: RateLimitState{Limit: 5, Remaining: 4}}
	ctx := WithDecision(WithRequestID(context.Background(), "req-1"), d)

	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.Username != "carol" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	st, ok := RateLimitFromContext(ctx)
	if !ok || st.Remaining != 4 {
		t.Fatalf("unexpected rate state: %+v", st)
	}
	if RequestIDFromContext(ctx) != "req-1" {
		t.Fatal("expected request id")
	}
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity on empty context")
	}
}
