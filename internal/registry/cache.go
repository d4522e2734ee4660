package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "carelink/internal/platform/redis"
	id "carelink/pkg/domain"
)

// CachedRegistry is a read-through cache in front of the registry. The TTL
// bounds how long denormalized registry data may live outside the registry;
// cache failures fall back to direct lookups.
type CachedRegistry struct {
	next   Registry
	redis  *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Registry, redisClient *platformredis.Client, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	return &CachedRegistry{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func (c *CachedRegistry) Lookup(ctx context.Context, clientID id.ClientRef) (Client, error) {
	key := cacheKey(clientID)

	cached, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var client Client
		if err := json.Unmarshal(cached, &client); err == nil {
			return client, nil
		}
		// Corrupt cache entry; fall through to the registry.
		c.redis.Del(ctx, key)
	} else if !errors.Is(err, goredis.Nil) {
		c.logger.WarnContext(ctx, "registry cache read failed", "error", err)
	}

	client, err := c.next.Lookup(ctx, clientID)
	if err != nil {
		return Client{}, err
	}

	if payload, err := json.Marshal(client); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "registry cache write failed", "error", err)
		}
	}
	return client, nil
}

func cacheKey(clientID id.ClientRef) string {
	return "carelink:registry:client:" + clientID.String()
}
