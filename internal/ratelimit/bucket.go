package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
)

const floodRetryAfter = "30"

// visitor is one client's token bucket and last activity
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// first-denial hook already fired, resets when the visitor is evicted
	logged bool
}

// Bucket is the site-wide per-IP flood guard. Each client gets a token
// bucket; idle clients are evicted after the ttl. It protects the process
// from a single address, not from distributed traffic or bandwidth bills,
// which belong to the CDN/WAF in front.
type Bucket struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time

	onDenied      func(ip string)
	onFirstDenied func(ip string)
}

type BucketOption func(*Bucket)

// WithRate sets the refill rate and bucket size. WithRate(10, 30) allows 30
// requests at once, then 10 per second.
func WithRate(perSecond float64, burst int) BucketOption {
	return func(b *Bucket) {
		b.perSecond = rate.Limit(perSecond)
		b.burst = burst
	}
}

// WithTTL controls how long an idle client stays in the map.
func WithTTL(d time.Duration) BucketOption {
	return func(b *Bucket) {
		if d > 0 {
			b.ttl = d
		}
	}
}

// WithBucketClock replaces time.Now for tests.
func WithBucketClock(now func() time.Time) BucketOption {
	return func(b *Bucket) {
		if now != nil {
			b.now = now
		}
	}
}

// WithBucketOnDenied is called on every rejected request, outside the lock.
func WithBucketOnDenied(fn func(ip string)) BucketOption {
	return func(b *Bucket) { b.onDenied = fn }
}

// WithBucketOnFirstDenied is called once per visitor lifetime, outside the lock.
func WithBucketOnFirstDenied(fn func(ip string)) BucketOption {
	return func(b *Bucket) { b.onFirstDenied = fn }
}

// NewBucket creates a flood guard and starts its eviction loop, which stops with ctx.
func NewBucket(ctx context.Context, opts ...BucketOption) *Bucket {
	b := &Bucket{
		visitors:  make(map[string]*visitor),
		perSecond: 10,
		burst:     30,
		ttl:       5 * time.Minute,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	go b.janitor(ctx)
	return b
}

// Allow spends one token for ip.
func (b *Bucket) Allow(ip string) bool {
	b.mu.Lock()
	now := b.now()
	v, ok := b.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(b.perSecond, b.burst)}
		b.visitors[ip] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	b.mu.Unlock()

	if first && b.onFirstDenied != nil {
		b.onFirstDenied(ip)
	}
	if !allowed && b.onDenied != nil {
		b.onDenied(ip)
	}
	return allowed
}

// Visitors returns the number of tracked clients.
func (b *Bucket) Visitors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.visitors)
}

func (b *Bucket) evictIdle(now time.Time) {
	b.mu.Lock()
	for ip, v := range b.visitors {
		if now.Sub(v.lastSeen) > b.ttl {
			delete(b.visitors, ip)
		}
	}
	b.mu.Unlock()
}

func (b *Bucket) janitor(ctx context.Context) {
	t := time.NewTicker(b.ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.evictIdle(b.now())
		}
	}
}

// Middleware rejects clients over their bucket with 429. The response says
// nothing about the budget or refill time.
func (b *Bucket) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Retry-After", floodRetryAfter)
			httpmw.WriteError(w, http.StatusTooManyRequests, TooManyRequestsMessage)
			return
		}
		next.ServeHTTP(w, r)
	})
}
