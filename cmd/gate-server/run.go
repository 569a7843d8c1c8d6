package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/auditsink"
	"github.com/MrEthical07/goGate/credstore"
	"github.com/MrEthical07/goGate/grpcgate"
	"github.com/MrEthical07/goGate/internal/config"
	"github.com/MrEthical07/goGate/internal/server"
	promexport "github.com/MrEthical07/goGate/metrics/export/prometheus"
	"github.com/MrEthical07/goGate/token"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// closer runs cleanup in reverse registration order.
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var cleanup closer
	defer cleanup.run()

	rdb, err := openRedis(ctx, cfg.Redis, logger, &cleanup)
	if err != nil {
		return err
	}

	creds, err := openCredentials(ctx, cfg.Database, logger, &cleanup)
	if err != nil {
		return err
	}

	sink, err := openAuditSink(cfg.Kafka, logger, &cleanup)
	if err != nil {
		return err
	}

	b := goGate.New().
		WithConfig(cfg.GateConfig()).
		WithRedis(rdb).
		WithCredentialStore(creds).
		WithLogger(logger).
		WithAuditSink(sink)
	if cfg.Token.Secret != "" {
		secret, err := token.ParseSecret(cfg.Token.Secret)
		if err != nil {
			return fmt.Errorf("token secret: %w", err)
		}
		b.WithSecret(secret)
	}
	gate, err := b.Build()
	if err != nil {
		return fmt.Errorf("build gate: %w", err)
	}
	cleanup.add(gate.Close)

	report := gate.SecurityReport()
	logger.Info("gate ready",
		zap.Strings("stages", report.Stages),
		zap.Duration("token_ttl", report.TokenTTL),
		zap.Bool("secret_generated", report.SecretGenerated),
		zap.Int("routes", report.RouteCount))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		promexport.NewCollector(gate),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: server.NewRouter(server.Deps{
			Gate:                  gate,
			Logger:                logger,
			Metrics:               promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			TrustForwardedHeaders: cfg.HTTP.TrustForwardedHeaders,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(grpcgate.UnaryServerInterceptor(gate, grpcgate.Options{})))
		healthpb.RegisterHealthServer(grpcSrv, health.NewServer())
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger, cleanup *closer) (redis.UniversalClient, error) {
	addr := cfg.Addr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		cleanup.add(mr.Close)
		addr = mr.Addr()
		logger.Warn("no redis configured, using embedded miniredis; counters are not shared", zap.String("addr", addr))
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	cleanup.add(func() { _ = rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func openCredentials(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, cleanup *closer) (goGate.CredentialStore, error) {
	if cfg.URL == "" {
		logger.Warn("no database configured, identities are kept in memory")
		return credstore.NewMemory(), nil
	}
	db, err := credstore.Open(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	cleanup.add(func() { _ = db.Close() })
	return credstore.NewPostgres(db), nil
}

func openAuditSink(cfg config.KafkaConfig, logger *zap.Logger, cleanup *closer) (goGate.AuditSink, error) {
	if len(cfg.Brokers) == 0 {
		return auditsink.NewZapSink(logger), nil
	}
	sink, err := auditsink.NewKafkaSink(auditsink.KafkaConfig{Brokers: cfg.Brokers, Topic: cfg.Topic}, logger)
	if err != nil {
		return nil, fmt.Errorf("kafka audit sink: %w", err)
	}
	cleanup.add(func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing kafka sink", zap.Error(err))
		}
	})
	return sink, nil
}
