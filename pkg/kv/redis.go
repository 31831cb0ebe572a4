/*
Copyright 2025 The memcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisAddress = "redis://127.0.0.1:6379"
	// redisScanBatch is the SCAN page size used by Iterate.
	redisScanBatch = 100
)

// RedisConfig holds the configuration for the RedisStore.
type RedisConfig struct {
	Address string `json:"address,omitempty"` // Redis server address
}

// DefaultRedisConfig returns a default configuration for the RedisStore.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address: defaultRedisAddress,
	}
}

// NewRedisStore creates a new RedisStore instance.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	redisClient, err := NewRedisClient(cfg.Address)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redisClient}, nil
}

// NewRedisClient dials a Redis server and verifies the connection. Bare
// host:port addresses are accepted alongside redis:// URLs.
func NewRedisClient(address string) (*redis.Client, error) {
	if !strings.HasPrefix(address, "redis://") &&
		!strings.HasPrefix(address, "rediss://") &&
		!strings.HasPrefix(address, "unix://") {
		address = "redis://" + address
	}

	redisOpt, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redisURL: %w", err)
	}

	redisClient := redis.NewClient(redisOpt)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return redisClient, nil
}

// NewRedisStoreFromClient wraps an existing client, typically the cluster's
// shared cache connection.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, shared: true}
}

// RedisStore implements the Store interface using Redis as the backend.
// Keys pass through unchanged; there is no expiration.
type RedisStore struct {
	client *redis.Client
	// shared marks a client owned by the caller; Close leaves it open.
	shared bool
}

var _ Store = &RedisStore{}

// Get returns the most recently written value for key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get failed for key %q: %w", key, err)
	}
	if len(value) == 0 {
		return nil, false, nil
	}
	return value, true, nil
}

// Put makes subsequent Gets of key return value.
func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether a value was present.
func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del failed for key %q: %w", key, err)
	}
	return removed > 0, nil
}

// BatchGet returns every requested key whose value is present, in a single
// MGET round trip.
func (r *RedisStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	for idx, raw := range values {
		if raw == nil {
			continue
		}
		str, ok := raw.(string)
		if !ok || str == "" {
			continue
		}
		out[keys[idx]] = []byte(str)
	}
	return out, nil
}

// BatchDelete removes the given keys and returns the count actually removed.
func (r *RedisStore) BatchDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del failed: %w", err)
	}
	return int(removed), nil
}

// Iterate walks the keyspace with cursor SCAN in batches of 100. SCAN
// tolerates concurrent mutation but gives weaker snapshot semantics than the
// in-memory store.
func (r *RedisStore) Iterate(ctx context.Context, fn func(key string, value []byte) bool) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "*", redisScanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			values, err := r.BatchGet(ctx, keys)
			if err != nil {
				return err
			}
			for _, key := range keys {
				value, ok := values[key]
				if !ok {
					continue // deleted between SCAN and MGET, or tombstone
				}
				if !fn(key, value) {
					return nil
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the client unless it is shared with the cluster cache.
func (r *RedisStore) Close(_ context.Context) error {
	if r.shared {
		return nil
	}
	return r.client.Close()
}
