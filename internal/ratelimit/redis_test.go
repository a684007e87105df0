package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisForTest connects to LMLABS_TEST_REDIS_ADDR when set, otherwise to an
// in-process miniredis so the scripts and transactions always run.
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("LMLABS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = miniredis.RunT(t).Addr()
	}
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s unavailable: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestRedis(t *testing.T, opts ...RedisOption) (*Redis, *fakeClock) {
	c := redisForTest(t)
	clk := newFakeClock()
	prefix := "ratelimit-test:" + uuid.NewString() + ":"
	return NewRedis(c, append([]RedisOption{WithKeyPrefix(prefix), WithRedisClock(clk.Now)}, opts...)...), clk
}

func TestRedis_ContactScenario(t *testing.T) {
	r, clk := newTestRedis(t)
	ctx := context.Background()
	key := Key(PurposeContact, "198.51.100.7")
	base := clk.Now()
	t.Cleanup(func() { _ = r.Reset(context.Background(), key) })

	steps := []struct {
		ms   int64
		want bool
	}{
		{0, true}, {10_000, true}, {20_000, true}, {25_000, false}, {61_000, true},
	}
	for _, s := range steps {
		clk.at(base, s.ms)
		got, err := r.Check(ctx, key, ContactForm)
		if err != nil {
			t.Fatalf("t=%d: %v", s.ms, err)
		}
		if got != s.want {
			t.Fatalf("t=%d: got %v, want %v", s.ms, got, s.want)
		}
	}
}

func TestRedis_WindowStartIsExclusive(t *testing.T) {
	r, clk := newTestRedis(t)
	ctx := context.Background()
	base := clk.Now()

	steps := []struct {
		ms   int64
		want bool
	}{
		{0, true}, {10_000, true}, {20_000, true}, {25_000, false},
		// the t=0 entry sits exactly on the window start and no longer counts
		{60_000, true},
		{60_000, false},
	}
	for _, s := range steps {
		clk.at(base, s.ms)
		got, err := r.Check(ctx, "edge", ContactForm)
		if err != nil {
			t.Fatalf("t=%d: %v", s.ms, err)
		}
		if got != s.want {
			t.Fatalf("t=%d: got %v, want %v", s.ms, got, s.want)
		}
	}
}

func TestRedis_RejectionsDoNotCountAndReset(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()
	p := Policy{Interval: time.Minute, MaxRequests: 2}

	for i := 0; i < 2; i++ {
		if ok, err := r.Check(ctx, "a", p); err != nil || !ok {
			t.Fatalf("call %d: ok=%v err=%v", i, ok, err)
		}
	}
	for i := 0; i < 20; i++ {
		if ok, _ := r.Check(ctx, "a", p); ok {
			t.Fatal("should be rejected")
		}
	}
	if n, err := r.Len(ctx, "a"); err != nil || n != 2 {
		t.Fatalf("len = %d err = %v, want 2", n, err)
	}

	if err := r.Reset(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := r.Reset(ctx, "never-seen"); err != nil {
		t.Fatalf("reset of unknown key: %v", err)
	}
	if ok, _ := r.Check(ctx, "a", p); !ok {
		t.Fatal("a should behave as never seen after reset")
	}
}

func TestRedis_ConcurrentNeverExceedsLimit(t *testing.T) {
	r := NewRedis(redisForTest(t), WithKeyPrefix("ratelimit-test:"+uuid.NewString()+":"))
	p := Policy{Interval: time.Hour, MaxRequests: 10}
	t.Cleanup(func() { _ = r.Reset(context.Background(), "shared") })

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Allow(context.Background(), "shared", p) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != 10 {
		t.Fatalf("allowed = %d, want 10", got)
	}
}

func TestRedis_AllowFailsOpen(t *testing.T) {
	// nothing listens on port 1
	c := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	var gotErr error
	r := NewRedis(c, WithOnError(func(err error) { gotErr = err }), WithRedisTimeout(200*time.Millisecond))

	if !r.Allow(context.Background(), "k", ContactForm) {
		t.Fatal("Allow should fail open when redis is unreachable")
	}
	if gotErr == nil {
		t.Fatal("OnError should receive the store error")
	}
	if _, err := r.Check(context.Background(), "k", ContactForm); err == nil {
		t.Fatal("Check should report the store error")
	} else if errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected cancel: %v", err)
	}
}
