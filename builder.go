package goGate

import (
	"errors"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a Gate. Configure it during initialization, call Build
// once, then discard it.
type Builder struct {
	config Config
	secret token.Secret
	store  CounterStore
	creds  CredentialStore
	logger *zap.Logger
	clock  func() time.Time

	auditSink AuditSink
	stages    []Stage

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the token signing secret. Without one, Build generates a
// random secret and tokens do not survive a restart.
func (b *Builder) WithSecret(secret token.Secret) *Builder {
	b.secret = secret
	return b
}

// WithCounterStore sets the shared counter used for rate limiting.
func (b *Builder) WithCounterStore(store CounterStore) *Builder {
	b.store = store
	return b
}

// WithRedis uses client as the counter store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	if client == nil {
		b.store = nil
		return b
	}
	b.store = NewRedisCounterStore(client)
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithStage appends a stage after rate limiting and authentication.
func (b *Builder) WithStage(s Stage) *Builder {
	if s != nil {
		b.stages = append(b.stages, s)
	}
	return b
}

// WithRoute sets the policy for one endpoint scope.
func (b *Builder) WithRoute(endpoint string, policy RoutePolicy) *Builder {
	if b.config.Routes == nil {
		b.config.Routes = make(map[string]RoutePolicy)
	}
	b.config.Routes[endpoint] = policy
	return b
}

// WithClock replaces time.Now for window alignment and token expiry.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the stage list:
// rate limiting, then authentication, then any stages added with WithStage.
func (b *Builder) Build() (*Gate, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("counter store required")
	}
	if b.creds == nil {
		return nil, errors.New("credential store required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	// -------- SECRET --------
	secret := b.secret
	if secret.IsZero() {
		generated, err := token.NewSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		logger.Info("no token secret configured, generated a random one; tokens will not survive restart")
	}

	// -------- PRIMITIVES --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewService(secret, token.Config{
		DefaultTTL: cfg.Token.DefaultTTL,
		Issuer:     cfg.Token.Issuer,
	}, token.WithClock(now))
	if err != nil {
		return nil, err
	}

	window := rate.New(b.store, rate.Config{
		Prefix:           cfg.RateLimit.KeyPrefix,
		ExpirationWindow: cfg.RateLimit.ExpirationWindow,
	}, rate.WithClock(now))

	dummy, err := hasher.Hash("gogate-dummy-password")
	if err != nil {
		return nil, err
	}

	g := &Gate{
		config:          cfg,
		store:           b.creds,
		tokens:          tokens,
		hasher:          hasher,
		window:          window,
		logger:          logger,
		now:             now,
		dummyHash:       dummy,
		secretGenerated: secret.Generated(),
	}

	// -------- STAGES --------
	g.stages = make([]Stage, 0, 2+len(b.stages))
	g.stages = append(g.stages, rateLimitStage{gate: g}, authStage{gate: g})
	g.stages = append(g.stages, b.stages...)

	g.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	g.metrics = NewMetrics(cfg.Metrics)

	b.built = true
	return g, nil
}

// NewRedisCounterStore returns a CounterStore backed by client. It works
// with single-node, cluster and failover clients.
func NewRedisCounterStore(client redis.UniversalClient) CounterStore {
	return rate.NewRedisCounter(client)
}

// NewMemoryCounterStore returns a process-local CounterStore. It is only
// correct for a single gate instance.
func NewMemoryCounterStore() CounterStore {
	return rate.NewMemoryCounter()
}
