package utils

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cppla/minblog/models"
)

const (
	// single-post responses are cached at most this long unless configured otherwise
	defaultCacheTTL = 10 * time.Minute
	cacheOpTimeout  = 2 * time.Second
)

// RedisPostCache is a short-TTL cache for single-post reads, keyed by post id.
type RedisPostCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPostCache returns a cache storing entries under prefix+"cache:post:".
func NewRedisPostCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisPostCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisPostCache{rc: rc, prefix: prefix + "cache:post:", ttl: ttl}
}

func (c *RedisPostCache) key(id string) string {
	return c.prefix + id
}

// GetPost returns the cached post. Misses and Redis errors both report false.
func (c *RedisPostCache) GetPost(ctx context.Context, id string) (*models.Post, bool) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	b, err := c.rc.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			Sugar.Debugf("cache get failed key=%s err=%v", c.key(id), err)
		}
		return nil, false
	}
	var post models.Post
	if err := json.Unmarshal(b, &post); err != nil {
		return nil, false
	}
	return &post, true
}

// SetPost stores post; failures are logged and otherwise ignored.
func (c *RedisPostCache) SetPost(ctx context.Context, post *models.Post) {
	b, err := json.Marshal(post)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.rc.Set(ctx, c.key(post.ID), b, c.ttl).Err(); err != nil {
		Sugar.Warnf("cache set failed key=%s err=%v", c.key(post.ID), err)
	}
}

// InvalidatePost drops the cached entry for id.
func (c *RedisPostCache) InvalidatePost(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	return c.rc.Del(ctx, c.key(id)).Err()
}
