package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// Cache proxies the cache service to Redis. Keys are namespaced per user.
type Cache struct {
	client redis.Cmdable
}

// NewCache creates the cache adapter
func NewCache(client redis.Cmdable) *Cache {
	return &Cache{client: client}
}

func (c *Cache) ServiceID() string { return domain.ServiceCache }

func (c *Cache) Info() ServiceInfo {
	return ServiceInfo{
		ID:          domain.ServiceCache,
		Name:        domain.ServiceName(domain.ServiceCache),
		Status:      "active",
		Description: "Key-value caching via Redis",
	}
}

// CacheKey is the Redis key holding a user's entry.
func CacheKey(userID int64, key string) string {
	return fmt.Sprintf("user:%d:%s", userID, key)
}

// Call handles get and set. set takes an optional ttl duration parameter.
func (c *Cache) Call(ctx context.Context, userID int64, req Request) (interface{}, error) {
	key := req.Param("key")
	if req.Operation == OpGet || req.Operation == OpSet {
		if key == "" {
			return nil, &domain.InvalidInputError{Field: "key", Reason: "a key is required"}
		}
	}

	switch req.Operation {
	case OpGet:
		value, err := c.client.Get(ctx, CacheKey(userID, key)).Result()
		if errors.Is(err, redis.Nil) {
			return map[string]interface{}{"key": key, "found": false}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("cache get failed: %w", err)
		}
		return map[string]interface{}{"key": key, "found": true, "value": value}, nil

	case OpSet:
		var ttl time.Duration
		if raw := req.Param("ttl"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed < 0 {
				return nil, &domain.InvalidInputError{Field: "ttl", Reason: "must be a non-negative duration"}
			}
			ttl = parsed
		}
		if err := c.client.Set(ctx, CacheKey(userID, key), req.Param("value"), ttl).Err(); err != nil {
			return nil, fmt.Errorf("cache set failed: %w", err)
		}
		return map[string]interface{}{"key": key, "stored": true, "ttl_seconds": int64(ttl.Seconds())}, nil

	default:
		return nil, unsupported(domain.ServiceCache, req.Operation)
	}
}
