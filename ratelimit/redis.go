package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "sa:rl"
	maxTxRetries       = 8
)

// RedisStore keeps entries in Redis hashes so several storefront instances
// share one budget. Idle expiry is delegated to key TTLs; Sweep is a no-op.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore. ttl should be the limiter's
// IdleRetention; prefix defaults to "sa:rl".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultConfig().IdleRetention
	}
	return &RedisStore{redis: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(class Class, key string) string {
	return s.prefix + ":" + string(class) + ":" + key
}

func (s *RedisStore) Update(ctx context.Context, class Class, key string, fn UpdateFunc) error {
	k := s.key(class, key)

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, k).Result()
		if err != nil {
			return err
		}
		cur, ok, err := decodeEntry(vals)
		if err != nil {
			return err
		}

		next, write := fn(cur, ok)
		if !write {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, k,
				"count", next.Count,
				"first", next.FirstAttempt.UnixMilli(),
				"last", next.LastAttempt.UnixMilli(),
			)
			p.PExpire(ctx, k, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ErrContention
}

func (s *RedisStore) Delete(ctx context.Context, class Class, key string) error {
	if err := s.redis.Del(ctx, s.key(class, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Sweep returns 0; Redis expires idle keys on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func decodeEntry(vals map[string]string) (Entry, bool, error) {
	if len(vals) == 0 {
		return Entry{}, false, nil
	}

	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return Entry{}, false, fmt.Errorf("decode count: %w", err)
	}
	first, err := strconv.ParseInt(vals["first"], 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("decode first: %w", err)
	}
	last, err := strconv.ParseInt(vals["last"], 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("decode last: %w", err)
	}

	return Entry{
		Count:        count,
		FirstAttempt: time.UnixMilli(first),
		LastAttempt:  time.UnixMilli(last),
	}, true, nil
}
