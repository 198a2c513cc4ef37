package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/yanlnery/glowing-docs-portal-sub000/ratelimit"
)

type loadtestOptions struct {
	identities  int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

func newLoadtestCommand() *cobra.Command {
	var opts loadtestOptions

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Hammer the Redis-backed login limiter from concurrent workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runLoadtest(ctx, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.identities, "identities", 10000, "Number of distinct emails to spread attempts over")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "Number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 100000, "Total login checks to perform")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "Redis address; if empty, STOREAUTH_REDIS_ADDR or miniredis is used")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "sa:loadtest", "Key prefix for limiter entries")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	if opts.identities <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return errors.New("identities, concurrency and ops must be > 0")
	}

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("STOREAUTH_REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	cfg := ratelimit.DefaultConfig()
	limiter, err := ratelimit.New(cfg, ratelimit.NewRedisStore(client, opts.prefix, cfg.IdleRetention))
	if err != nil {
		return err
	}

	identities := make([]string, opts.identities)
	for i := range identities {
		identities[i] = fmt.Sprintf("customer-%d@example.com", i)
	}

	stats := runLoginPhase(ctx, limiter, identities, opts.ops, opts.concurrency)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "check_login", stats)
	return nil
}

func runLoginPhase(ctx context.Context, limiter *ratelimit.Limiter, identities []string, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		allowed   int64
		denied    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				identity := identities[r.Intn(len(identities))]
				t0 := time.Now()
				d, err := limiter.CheckLogin(ctx, identity)
				elapsed := time.Since(t0)
				switch {
				case err != nil:
					atomic.AddInt64(&failures, 1)
				case d.Allowed:
					atomic.AddInt64(&allowed, 1)
				default:
					atomic.AddInt64(&denied, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	stats := computeStats(time.Since(start), latencies, failures)
	stats.allowed = allowed
	stats.denied = denied
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	allowed  int64
	denied   int64
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
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
	fmt.Fprintf(out, "%s: ops=%d allowed=%d denied=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.allowed,
		s.denied,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
