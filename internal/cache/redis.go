// ABOUTME: Redis-backed implementation of the cache Store for multi-node deployments.
// ABOUTME: Uses mcp_cache:{tool}:{argsHash} keys with native Redis TTL expiry.

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mcp_cache:"

// Redis is a Store backed by a shared Redis instance, so a fleet of gateways
// can share one result cache.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis cache store and verifies connectivity with a ping.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}

	return &Redis{client: client}, nil
}

func redisKey(tool, argsHash string) string {
	return redisKeyPrefix + tool + ":" + argsHash
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, tool, argsHash string) (json.RawMessage, bool, error) {
	data, err := r.client.Get(ctx, redisKey(tool, argsHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return json.RawMessage(data), true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, tool, argsHash string, payload json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.client.Set(ctx, redisKey(tool, argsHash), []byte(payload), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Purge implements Store. Uses SCAN rather than KEYS so a large purge does
// not block the Redis server.
func (r *Redis) Purge(ctx context.Context, toolPrefix string) (int, error) {
	pattern := redisKeyPrefix + toolPrefix + "*"
	removed := 0

	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("redis del: %w", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.client.Close()
}
