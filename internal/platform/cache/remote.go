package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by the remote cache when a key is absent.
var ErrNotFound = errors.New("cache: key not found")

// RemoteCache is an optional Redis-backed second level for serialized
// quotes, shared across engine replicas. The in-process TTLCache stays
// authoritative; this layer only widens the hit rate.
type RemoteCache struct {
	client *redis.Client
}

// NewRemoteCache connects to Redis and verifies the connection.
func NewRemoteCache(addr, password string, db int) (*RemoteCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RemoteCache{client: client}, nil
}

// GetJSON fetches a key and unmarshals it into dst.
func (r *RemoteCache) GetJSON(ctx context.Context, key string, dst interface{}) error {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("redis get error: %w", err)
	}

	if err := json.Unmarshal([]byte(val), dst); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

// SetJSON marshals value and stores it with the given TTL.
func (r *RemoteCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a key.
func (r *RemoteCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RemoteCache) Close() error {
	return r.client.Close()
}
