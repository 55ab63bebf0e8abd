package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smartbag/authgate"
	"github.com/smartbag/authgate/credential"
)

const (
	loadIdentity = "load@example.com"
	loadSecret   = "load-test-secret"
)

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 2000, "number of sessions to open")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "agload", "redis key prefix")
		strict      = flag.Bool("strict", false, "validate access tokens against the denylist")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := authgate.DefaultConfig()
	cfg.JWT.Secret = []byte("load-test-signing-key")
	cfg.Password.Cost = 4
	cfg.RateLimit.PerMinute = 1 << 30
	cfg.RateLimit.LoginLimit = 0
	cfg.Session.RedisPrefix = *prefix
	cfg.Audit.Enabled = false
	if *strict {
		cfg.ValidationMode = authgate.ModeStrict
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	gate, err := authgate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialRepository(credential.NewMemoryRepository()).
		WithLogger(log).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build gate: %v\n", err)
		os.Exit(1)
	}
	defer gate.Close()

	if _, err := gate.Credentials().Register(ctx, loadIdentity, loadSecret, "member"); err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	states := make([]sessionState, *sessions)
	fmt.Printf("opening %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range states {
		pair, err := gate.Login(ctx, loadIdentity, loadSecret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].access = pair.AccessToken
		states[i].refresh = pair.RefreshToken
	}
	fmt.Printf("opened in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		token := s.access
		s.mu.Unlock()
		_, err := gate.Authenticate(ctx, token)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := gate.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access = pair.AccessToken
		s.refresh = pair.RefreshToken
		return nil
	})

	admitStats := runPhase(*ops, *concurrency, 4099, func(r *rand.Rand, _ int) error {
		key := "client-" + strconv.Itoa(r.Intn(len(states)))
		_, err := gate.Admit(authgate.WithClientKey(ctx, key), authgate.ClassMutation)
		return err
	})

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("refresh", refreshStats)
	printStats("admit", admitStats)

	snapshot := gate.MetricsSnapshot()
	fmt.Printf("replays=%d rate_limited=%d login_rate_limited=%d\n",
		snapshot.Counters[authgate.MetricReplayDetected],
		snapshot.Counters[authgate.MetricRateLimited],
		snapshot.Counters[authgate.MetricLoginRateLimited],
	)
}

// runPhase spreads ops calls of fn across concurrency workers.
func runPhase(ops, concurrency int, seed int64, fn func(r *rand.Rand, i int) error) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r, i)
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
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
