package playground

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// DefaultRedisKey holds the whole project list as one json array.
const DefaultRedisKey = "playground:projects"

// ErrConflict is returned when optimistic retries are exhausted.
var ErrConflict = errors.New("playground: concurrent update, retries exhausted")

const maxTxRetries = 5

// RedisStore keeps the project list under one key and rewrites it with
// WATCH/MULTI, so concurrent saves never drop each other's projects.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	stamper
}

type RedisOption func(*RedisStore)

func WithRedisKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, key: DefaultRedisKey, stamper: defaultStamper()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) List(ctx context.Context) ([]Project, error) {
	list, err := s.load(ctx, s.client)
	if err != nil {
		return nil, err
	}
	return sorted(list), nil
}

func (s *RedisStore) Save(ctx context.Context, p Project) (Project, error) {
	p = s.stamp(p)
	err := s.update(ctx, func(list []Project) []Project { return upsert(list, p) })
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.update(ctx, func(list []Project) []Project { return remove(list, id) })
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable) ([]Project, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Wrapf(err, "redis get %s", s.key)
	}
	var list []Project
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, xerrors.Wrapf(err, "decode %s", s.key)
	}
	return list, nil
}

func (s *RedisStore) update(ctx context.Context, fn func([]Project) []Project) error {
	txf := func(tx *redis.Tx) error {
		list, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		b, err := json.Marshal(fn(list))
		if err != nil {
			return xerrors.Wrap(err, "encode projects")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, b, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return xerrors.Wrapf(err, "update %s", s.key)
	}
	return xerrors.WithStack(ErrConflict)
}
