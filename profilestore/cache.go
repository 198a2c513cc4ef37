package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a cached row may lag the backing store.
const DefaultCacheTTL = 5 * time.Minute

// RedisCache is a read-through cache in front of another ProfileStore.
// Redis failures are logged and the backing store is used directly.
type RedisCache struct {
	next   storeauth.ProfileStore
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps next. ttl <= 0 selects DefaultCacheTTL; logger may be
// nil.
func NewRedisCache(next storeauth.ProfileStore, client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if prefix == "" {
		prefix = "sa:profile"
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{next: next, client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + ":" + userID
}

func (c *RedisCache) FetchProfile(ctx context.Context, userID string) (*storeauth.Profile, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	switch {
	case err == nil:
		var prof storeauth.Profile
		if jerr := json.Unmarshal(raw, &prof); jerr == nil {
			return &prof, nil
		}
		c.logger.Warn("discarding undecodable cached profile", zap.String("user_id", userID))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("profile cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	prof, err := c.next.FetchProfile(ctx, userID)
	if err != nil || prof == nil {
		return prof, err
	}
	c.store(ctx, prof)
	return prof, nil
}

func (c *RedisCache) UpdateProfile(ctx context.Context, userID string, update storeauth.ProfileUpdate) (*storeauth.Profile, error) {
	prof, err := c.next.UpdateProfile(ctx, userID, update)
	if err != nil {
		if derr := c.client.Del(ctx, c.key(userID)).Err(); derr != nil {
			c.logger.Warn("profile cache invalidate failed", zap.String("user_id", userID), zap.Error(derr))
		}
		return nil, err
	}
	if prof != nil {
		c.store(ctx, prof)
	}
	return prof, nil
}

func (c *RedisCache) store(ctx context.Context, prof *storeauth.Profile) {
	raw, err := json.Marshal(prof)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(prof.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("profile cache write failed", zap.String("user_id", prof.ID), zap.Error(err))
	}
}
