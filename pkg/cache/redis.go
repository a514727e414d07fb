// Package cache wraps the Redis client used for distributed locks,
// idempotency keys, seat holds, and matchmaking result caching.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/routecore/platform/internal/config"

	"github.com/go-redis/redis/v8"
)

// Client is a thin wrapper around *redis.Client adding the primitives the
// rest of the platform needs (JSON values, counters, compare-and-delete
// locks).
type Client struct {
	*redis.Client
}

// NewClient creates a new Redis client from configuration.
func NewClient(cfg *config.RedisConfig) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{rdb}
}

// SetJSON sets a value in Redis with a TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

// Get gets a value from Redis.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

// Exists checks if a key exists in Redis.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.Client.Exists(ctx, key).Result()
	return count > 0, err
}

// Delete deletes a key from Redis.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

// SetNX sets key=value with a TTL only if key does not already exist,
// returning whether it won the race.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, value, ttl).Result()
}

// IncrBy increments a key by the specified amount.
func (c *Client) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	return c.Client.IncrBy(ctx, key, value).Result()
}

// GetInt gets an integer value from Redis.
func (c *Client) GetInt(ctx context.Context, key string) (int64, error) {
	return c.Client.Get(ctx, key).Int64()
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.Client.SAdd(ctx, key, members...).Err()
}

// SMembers returns the members of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.Client.SMembers(ctx, key).Result()
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) error {
	return c.Client.SRem(ctx, key, members...).Err()
}

// Keys returns all keys matching a glob pattern.
func (c *Client) Keys(ctx context.Context, pattern string) ([]string, error) {
	return c.Client.Keys(ctx, pattern).Result()
}

// compareAndDeleteScript deletes key only if its value still matches token,
// so a lock holder never releases a lease it no longer owns (e.g. after its
// lease expired and someone else acquired it).
var compareAndDeleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// CompareAndDelete deletes key if and only if its current value equals
// token. Returns true if the key was deleted.
func (c *Client) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	res, err := compareAndDeleteScript.Run(ctx, c.Client, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Ping checks Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
