package caption

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Cache stores captions by image digest.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, caption string, ttl time.Duration) error
}

// RedisCache keeps captions in Redis under caption:<sha256>.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, "caption:"+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, caption string, ttl time.Duration) error {
	return c.client.Set(ctx, "caption:"+key, caption, ttl).Err()
}

// Cached answers repeated uploads of the same photo from the cache. Cache
// faults are logged and bypassed.
type Cached struct {
	next   Captioner
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCached(next Captioner, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, logger: zap.NewNop()}
}

func (c *Cached) WithLogger(logger *zap.Logger) *Cached {
	c.logger = logger
	return c
}

func (c *Cached) Caption(ctx context.Context, image []byte) (string, error) {
	if err := checkImage(image); err != nil {
		return "", err
	}
	key := Digest(image)

	if text, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("caption cache read failed", zap.String("digest", key), zap.Error(err))
	} else if ok {
		return text, nil
	}

	text, err := c.next.Caption(ctx, image)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, text, c.ttl); err != nil {
		c.logger.Warn("caption cache write failed", zap.String("digest", key), zap.Error(err))
	}
	return text, nil
}

// Digest returns the cache key used for image.
func Digest(image []byte) string {
	sum := sha256.Sum256(image)
	return fmt.Sprintf("%x", sum)
}
