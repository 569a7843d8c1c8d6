// Command gate-loadtest drives one rate-limit window from many goroutines
// and checks that exactly limit requests were admitted, then measures
// token issue and verify throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/credstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type options struct {
	requests    int
	limit       int
	concurrency int
	tokenOps    int
	redisAddr   string
	prefix      string
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:          "gate-loadtest",
		Short:        "Concurrency check for the fixed-window limiter",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.requests <= 0 || opts.limit <= 0 || opts.concurrency <= 0 {
				return errors.New("requests, limit and concurrency must be > 0")
			}
			if opts.redisAddr == "" {
				opts.redisAddr = os.Getenv("REDIS_ADDR")
			}
			return run(cmd.Context(), opts, out)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.requests, "requests", 20000, "requests charged against one window")
	f.IntVar(&opts.limit, "limit", 1000, "window limit")
	f.IntVar(&opts.concurrency, "concurrency", 256, "number of concurrent workers")
	f.IntVar(&opts.tokenOps, "token-ops", 50000, "token issue+verify operations; 0 skips the phase")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	f.StringVar(&opts.prefix, "prefix", "loadtest", "counter key prefix")
	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	client, cleanup, err := openRedis(opts.redisAddr, out)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := goGate.DefaultConfig()
	cfg.RateLimit.KeyPrefix = fmt.Sprintf("%s-%d", opts.prefix, time.Now().UnixNano())
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true

	gate, err := goGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(credstore.NewMemory()).
		Build()
	if err != nil {
		return err
	}
	defer gate.Close()

	// An hour-long window keeps the whole run inside one reset boundary.
	policy := goGate.RoutePolicy{Limit: opts.limit, Per: time.Hour}
	admitted, stats := runChargePhase(ctx, gate, policy, opts.requests, opts.concurrency)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "charge", stats)
	want := opts.limit
	if opts.requests < want {
		want = opts.requests
	}
	fmt.Fprintf(out, "admitted=%d expected=%d\n", admitted, want)

	if opts.tokenOps > 0 {
		printStats(out, "token", runTokenPhase(ctx, gate, opts.tokenOps, opts.concurrency))
	}

	if admitted != int64(want) {
		return fmt.Errorf("limiter admitted %d requests, expected %d", admitted, want)
	}
	return nil
}

func openRedis(addr string, out io.Writer) (redis.UniversalClient, func(), error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Fprintf(out, "using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func runChargePhase(ctx context.Context, gate *goGate.Gate, policy goGate.RoutePolicy, ops, concurrency int) (int64, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		admitted  int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)
	req := goGate.Request{EndpointScope: "loadtest", ClientScope: "client-1"}

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				d := gate.Evaluate(ctx, policy, req)
				elapsed := time.Since(t0)
				switch {
				case d.Allowed():
					atomic.AddInt64(&admitted, 1)
				case errors.Is(d.Err, goGate.ErrCounterStoreUnavailable):
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return admitted, computeStats(time.Since(start), latencies, failures)
}

func runTokenPhase(ctx context.Context, gate *goGate.Gate, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			identity := goGate.Identity{ID: int64(worker + 1)}
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				tok, err := gate.IssueToken(ctx, identity, 0)
				if err == nil {
					var uid int64
					uid, err = gate.VerifyToken(tok)
					if err == nil && uid != identity.ID {
						err = errors.New("uid mismatch")
					}
				}
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
