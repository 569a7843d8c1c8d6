// Package config loads gate-server settings from a YAML file and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/token"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Precedence, lowest first: defaults,
// YAML file, environment (including .env), command-line flags.
type Config struct {
	HTTP      HTTPConfig             `yaml:"http"`
	GRPC      GRPCConfig             `yaml:"grpc"`
	Redis     RedisConfig            `yaml:"redis"`
	Database  DatabaseConfig         `yaml:"database"`
	Kafka     KafkaConfig            `yaml:"kafka"`
	Token     TokenConfig            `yaml:"token"`
	RateLimit RateLimitConfig        `yaml:"rate_limit"`
	Routes    map[string]RouteConfig `yaml:"routes"`
	Debug     bool                   `yaml:"debug"`
}

type HTTPConfig struct {
	Addr                  string        `yaml:"addr"`
	TrustForwardedHeaders bool          `yaml:"trust_forwarded_headers"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig is disabled when Addr is empty.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig falls back to an embedded miniredis when Addr is empty.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig falls back to the in-memory credential store when URL is
// empty.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// KafkaConfig falls back to logging audit events when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TokenConfig struct {
	// Secret is base64. Empty generates a per-process secret.
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	KeyPrefix string        `yaml:"key_prefix"`
	Limit     int           `yaml:"limit"`
	Per       time.Duration `yaml:"per"`
}

type RouteConfig struct {
	Limit       int           `yaml:"limit"`
	Per         time.Duration `yaml:"per"`
	RequireAuth bool          `yaml:"require_auth"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	gc := goGate.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Kafka: KafkaConfig{Topic: "gogate-audit"},
		Token: TokenConfig{TTL: gc.Token.DefaultTTL},
		RateLimit: RateLimitConfig{
			KeyPrefix: gc.RateLimit.KeyPrefix,
			Limit:     gc.RateLimit.DefaultPolicy.Limit,
			Per:       gc.RateLimit.DefaultPolicy.Per,
		},
	}
}

// Load reads path (optional), then .env and the process environment, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, err
		}
	}

	_ = godotenv.Load()

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decodeYAML(bytes.NewReader(data), &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("GATE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("GATE_GRPC_ADDR", &cfg.GRPC.Addr)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("DATABASE_URL", &cfg.Database.URL)
	str("KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("GATE_TOKEN_SECRET", &cfg.Token.Secret)

	if v, ok := lookup("KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		cfg.Kafka.Brokers = splitList(v)
	}

	if v, ok := lookup("REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := lookup("GATE_RATE_LIMIT"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid GATE_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.Limit = n
	}
	if v, ok := lookup("GATE_RATE_PER"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid GATE_RATE_PER: %w", err)
		}
		cfg.RateLimit.Per = d
	}
	if v, ok := lookup("GATE_TOKEN_TTL"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid GATE_TOKEN_TTL: %w", err)
		}
		cfg.Token.TTL = d
	}
	if v, ok := lookup("GATE_DEBUG"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid GATE_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks process-level settings and the derived gate config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if c.HTTP.ShutdownTimeout < 0 {
		return errors.New("http.shutdown_timeout must be >= 0")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	if c.Token.Secret != "" {
		if _, err := token.ParseSecret(c.Token.Secret); err != nil {
			return fmt.Errorf("token.secret: %w", err)
		}
	}
	gc := c.GateConfig()
	if err := gc.Validate(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	return nil
}

// GateConfig maps the file settings onto goGate.DefaultConfig. Metrics
// and audit are always on for the server.
func (c Config) GateConfig() goGate.Config {
	gc := goGate.DefaultConfig()
	gc.Token.DefaultTTL = c.Token.TTL
	gc.RateLimit.KeyPrefix = c.RateLimit.KeyPrefix
	gc.RateLimit.DefaultPolicy = goGate.RoutePolicy{Limit: c.RateLimit.Limit, Per: c.RateLimit.Per}
	gc.Metrics.Enabled = true
	gc.Metrics.EnableLatencyHistograms = true
	gc.Audit.Enabled = true

	if len(c.Routes) > 0 {
		gc.Routes = make(map[string]goGate.RoutePolicy, len(c.Routes))
		for name, r := range c.Routes {
			p := goGate.RoutePolicy{Limit: r.Limit, Per: r.Per, RequireAuth: r.RequireAuth}
			if p.Limit == 0 {
				p.Limit = c.RateLimit.Limit
			}
			if p.Per == 0 {
				p.Per = c.RateLimit.Per
			}
			gc.Routes[name] = p
		}
	}
	return gc
}
