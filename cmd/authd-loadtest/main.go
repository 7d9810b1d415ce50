// Command authd-loadtest measures session-store latency for token
// verification and issue/revoke churn against Redis or an embedded miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/sessionauth/internal"
	"github.com/MrEthical07/sessionauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type seeded struct {
	token  string
	userID string
}

func main() {
	var (
		tokens      = flag.Int("tokens", 100000, "number of tokens to seed")
		users       = flag.Int("users", 1000, "number of distinct token owners")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (verify + churn)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "sa", "session key prefix")
	)
	flag.Parse()

	if *tokens <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "tokens, users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	store := session.NewStore(client, *prefix)

	states := make([]seeded, *tokens)
	fmt.Printf("seeding %d tokens for %d users...\n", *tokens, *users)
	startSeed := time.Now()
	for i := range states {
		userID := fmt.Sprintf("user-%d", i%*users)
		token, err := internal.NewToken(internal.DefaultTokenBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "token generation failed: %v\n", err)
			os.Exit(1)
		}
		if err := store.Put(ctx, token, newRecord(userID, 0)); err != nil {
			fmt.Fprintf(os.Stderr, "put failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = seeded{token: token, userID: userID}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := store.Get(ctx, states[r.Intn(len(states))].token)
		return err
	})

	churnStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		userID := states[r.Intn(len(states))].userID
		epoch, err := store.Epoch(ctx, userID)
		if err != nil {
			return err
		}
		token, err := internal.NewToken(internal.DefaultTokenBytes)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, token, newRecord(userID, epoch)); err != nil {
			return err
		}
		_, err = store.Delete(ctx, token)
		return err
	})

	fmt.Println("---- results ----")
	fmt.Printf("verify: %s\n", verifyStats)
	fmt.Printf("churn:  %s\n", churnStats)
}

func newRecord(userID string, epoch uint64) *session.Record {
	now := time.Now()
	return &session.Record{
		UserID:    userID,
		Email:     userID + "@load.test",
		Epoch:     epoch,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	}
}

// runPhase splits ops calls of op across concurrency workers. Each worker
// keeps its own latency samples, merged once the phase ends.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		next     atomic.Int64
		failures atomic.Int64
		g        errgroup.Group
	)
	perWorker := make([][]time.Duration, concurrency)

	start := time.Now()
	for w := range concurrency {
		g.Go(func() error {
			r := rand.New(rand.NewSource(start.UnixNano() ^ int64(w+1)*7919))
			samples := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(next.Add(1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(r, i); err != nil {
					failures.Add(1)
				}
				samples = append(samples, time.Since(t0))
			}
			perWorker[w] = samples
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	return summarize(elapsed, slices.Concat(perWorker...), failures.Load())
}

type phaseStats struct {
	elapsed  time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
}

func summarize(elapsed time.Duration, samples []time.Duration, failures int64) phaseStats {
	slices.Sort(samples)
	return phaseStats{
		elapsed:  elapsed,
		ops:      len(samples),
		failures: failures,
		p50:      quantile(samples, 0.50),
		p95:      quantile(samples, 0.95),
		p99:      quantile(samples, 0.99),
	}
}

// quantile expects sorted samples.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func (s phaseStats) String() string {
	rate := 0.0
	if s.elapsed > 0 {
		rate = float64(s.ops) / s.elapsed.Seconds()
	}
	return fmt.Sprintf("ops=%d failures=%d elapsed=%s ops/sec=%.0f p50=%s p95=%s p99=%s",
		s.ops, s.failures, s.elapsed.Round(time.Millisecond), rate,
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond), s.p99.Round(time.Microsecond))
}
