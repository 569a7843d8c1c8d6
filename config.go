package goGate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/token"
)

// Config holds every tunable of a Gate. Treat it as immutable after Build.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	RateLimit RateLimitConfig
	Routes    map[string]RoutePolicy
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls issued tokens.
type TokenConfig struct {
	DefaultTTL time.Duration
	Issuer     string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters for new hashes.
type PasswordConfig struct {
	Memory          uint32 // in KiB
	Time            uint32
	Parallelism     uint8
	SaltLength      uint32
	KeyLength       uint32
	UpgradeOnVerify bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig controls counter keys and the policy for unlisted routes.
// KeyPrefix may be empty.
type RateLimitConfig struct {
	KeyPrefix        string
	ExpirationWindow time.Duration
	DefaultPolicy    RoutePolicy
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	EmitAllowed  bool
	EmitThrottle bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns 300 requests per minute on every route, 600s tokens
// and interactive Argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			DefaultTTL: token.DefaultTTL,
		},
		Password: PasswordConfig{
			Memory:          65536,
			Time:            3,
			Parallelism:     2,
			SaltLength:      16,
			KeyLength:       32,
			UpgradeOnVerify: true,
		},
		RateLimit: RateLimitConfig{
			KeyPrefix:        rate.DefaultPrefix,
			ExpirationWindow: rate.DefaultExpirationWindow,
			DefaultPolicy: RoutePolicy{
				Limit: 300,
				Per:   time.Minute,
			},
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			EmitThrottle: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Routes != nil {
		out.Routes = make(map[string]RoutePolicy, len(cfg.Routes))
		for k, v := range cfg.Routes {
			out.Routes[k] = v
		}
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if c.Token.DefaultTTL < time.Second {
		return errors.New("Token DefaultTTL must be >= 1s")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	if c.RateLimit.ExpirationWindow < 0 {
		return errors.New("RateLimit ExpirationWindow must be >= 0")
	}
	if strings.Contains(c.RateLimit.KeyPrefix, " ") {
		return errors.New("RateLimit KeyPrefix must not contain spaces")
	}
	if err := validatePolicy(c.RateLimit.DefaultPolicy); err != nil {
		return fmt.Errorf("RateLimit DefaultPolicy: %w", err)
	}
	for name, p := range c.Routes {
		if strings.TrimSpace(name) == "" {
			return errors.New("Routes contains an empty endpoint name")
		}
		if err := validatePolicy(p); err != nil {
			return fmt.Errorf("Routes[%s]: %w", name, err)
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

func validatePolicy(p RoutePolicy) error {
	if p.Limit < 1 {
		return errors.New("limit must be >= 1")
	}
	if p.Per < time.Second || p.Per%time.Second != 0 {
		return errors.New("period must be a whole number of seconds >= 1s")
	}
	return nil
}
