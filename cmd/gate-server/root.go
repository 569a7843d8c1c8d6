package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MrEthical07/goGate/internal/config"
	"github.com/spf13/cobra"
)

type flagValues struct {
	configPath   string
	httpAddr     string
	grpcAddr     string
	redisAddr    string
	databaseURL  string
	kafkaBrokers string
	trustProxy   bool
	debug        bool
}

func newRootCommand() *cobra.Command {
	return buildRootCommand(&flagValues{})
}

func buildRootCommand(fv *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gate-server",
		Short:        "Rate-limited, authenticated HTTP and gRPC API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(fv.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, fv, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&fv.configPath, "config", os.Getenv("GATE_CONFIG"), "Path to YAML config file")
	f.StringVar(&fv.httpAddr, "http-addr", "", "HTTP listen address")
	f.StringVar(&fv.grpcAddr, "grpc-addr", "", "gRPC listen address; empty disables gRPC")
	f.StringVar(&fv.redisAddr, "redis-addr", "", "Redis address; empty starts an embedded miniredis")
	f.StringVar(&fv.databaseURL, "database-url", "", "Postgres URL; empty uses an in-memory credential store")
	f.StringVar(&fv.kafkaBrokers, "kafka-brokers", "", "Comma-separated Kafka brokers for audit events; empty logs them")
	f.BoolVar(&fv.trustProxy, "trust-forwarded-headers", false, "Take the client address from X-Forwarded-For")
	f.BoolVar(&fv.debug, "debug", false, "Development logging at debug level")

	return cmd
}

// applyFlags overlays flags the user set explicitly.
func applyFlags(cmd *cobra.Command, fv *flagValues, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("http-addr") {
		cfg.HTTP.Addr = fv.httpAddr
	}
	if changed("grpc-addr") {
		cfg.GRPC.Addr = fv.grpcAddr
	}
	if changed("redis-addr") {
		cfg.Redis.Addr = fv.redisAddr
	}
	if changed("database-url") {
		cfg.Database.URL = fv.databaseURL
	}
	if changed("kafka-brokers") {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(fv.kafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	if changed("trust-forwarded-headers") {
		cfg.HTTP.TrustForwardedHeaders = fv.trustProxy
	}
	if changed("debug") {
		cfg.Debug = fv.debug
	}
}
