package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linkforty/linkforty/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TTL bounds how stale a cached link may get without re-validation.
const TTL = 300 * time.Second

// LinkCache caches serialized links in Redis keyed by short code. A nil
// client disables the cache; every operation degrades to a miss. Cache
// failures are logged warnings, never fatal.
type LinkCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewLinkCache creates a link cache. client may be nil.
func NewLinkCache(client *redis.Client, logger *zap.Logger) *LinkCache {
	return &LinkCache{
		client: client,
		logger: logger,
		ttl:    TTL,
	}
}

// Key builds the cache key for a code, optionally scoped by template slug.
func Key(slug, code string) string {
	if slug != "" {
		return "link:" + slug + ":" + code
	}
	return "link:" + code
}

// Get returns the cached link for (slug, code), or nil on miss.
func (c *LinkCache) Get(ctx context.Context, slug, code string) *models.Link {
	if c.client == nil {
		return nil
	}

	key := Key(slug, code)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		c.logger.Warn("link cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}

	var link models.Link
	if err := json.Unmarshal(raw, &link); err != nil {
		c.logger.Warn("link cache entry corrupt, dropping", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, key)
		return nil
	}
	return &link
}

// Set writes the serialized link back to cache with the configured TTL.
func (c *LinkCache) Set(ctx context.Context, slug string, link *models.Link) {
	if c.client == nil {
		return
	}

	raw, err := json.Marshal(link)
	if err != nil {
		c.logger.Warn("link cache serialization failed", zap.Error(err))
		return
	}

	key := Key(slug, link.ShortCode)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("link cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes both the bare and the slug-scoped keys for a link.
// Called on every link update and delete; skipping it would leave up to
// five minutes of staleness.
func (c *LinkCache) Invalidate(ctx context.Context, link *models.Link) {
	if c.client == nil {
		return
	}

	keys := []string{Key("", link.ShortCode)}
	if link.TemplateSlug != nil && *link.TemplateSlug != "" {
		keys = append(keys, Key(*link.TemplateSlug, link.ShortCode))
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("link cache invalidation failed",
			zap.Strings("keys", keys), zap.Error(err))
	}
}
