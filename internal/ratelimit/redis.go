package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// slidingWindowScript counts and records in one round trip so concurrent
// replicas cannot both see room for the last slot.
//
// KEYS[1] sorted set, score = request time in ms
// ARGV[1] now ms, ARGV[2] window start ms, ARGV[3] max requests,
// ARGV[4] ttl ms, ARGV[5] unique member
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// Redis is the sliding window on a shared sorted set. Expired windows are
// pruned by the script and idle keys expire after the retention ceiling, so
// there is no sweep.
type Redis struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	onError   func(err error)
}

type RedisOption func(*Redis)

// WithKeyPrefix namespaces keys, default "ratelimit:".
func WithKeyPrefix(p string) RedisOption {
	return func(r *Redis) {
		if p != "" {
			r.prefix = p
		}
	}
}

// WithRedisRetention sets the idle expiry of a key.
func WithRedisRetention(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retention = d
		}
	}
}

// WithRedisTimeout bounds each Allow round trip, default 2s.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRedisClock replaces time.Now. Scores come from this clock, not the server's.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

// WithOnError receives errors swallowed by Allow.
func WithOnError(fn func(err error)) RedisOption {
	return func(r *Redis) { r.onError = fn }
}

func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		prefix:    "ratelimit:",
		retention: DefaultRetention,
		timeout:   2 * time.Second,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Check has the same contract as Window.Check and reports store errors.
func (r *Redis) Check(ctx context.Context, key string, p Policy) (bool, error) {
	now := r.now()
	ttl := r.retention
	if p.Interval > ttl {
		ttl = p.Interval
	}
	res, err := slidingWindowScript.Run(ctx, r.client, []string{r.key(key)},
		now.UnixMilli(),
		now.Add(-p.Interval).UnixMilli(),
		p.MaxRequests,
		ttl.Milliseconds(),
		strconv.FormatInt(now.UnixMilli(), 10)+"-"+uuid.NewString(),
	).Int()
	if err != nil {
		return false, xerrors.Wrapf(err, "ratelimit script for %q", key)
	}
	return res == 1, nil
}

// Reset deletes the key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return xerrors.Wrapf(err, "ratelimit reset %q", key)
	}
	return nil
}

// Len returns the number of requests recorded for key, including ones outside
// any window that have not been pruned yet.
func (r *Redis) Len(ctx context.Context, key string) (int64, error) {
	n, err := r.client.ZCard(ctx, r.key(key)).Result()
	if err != nil {
		return 0, xerrors.Wrapf(err, "ratelimit len %q", key)
	}
	return n, nil
}

// Allow implements Checker. It fails open: a redis outage must not take the
// contact form or the github proxy down with it.
func (r *Redis) Allow(ctx context.Context, key string, p Policy) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := r.Check(ctx, key, p)
	if err != nil {
		if r.onError != nil {
			r.onError(err)
		}
		return true
	}
	return ok
}
