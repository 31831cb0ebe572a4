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

// Package kv implements the pluggable key-value substrate that holds the
// authoritative Full bodies of every dual-stored document.
//
// Keys are opaque strings; values are opaque byte strings (JSON in
// practice). Three interchangeable backends are provided: a process-local
// in-memory map, a Redis-backed store, and a chain-backed store driven
// through an external command-line client.
package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/metrics"
	"github.com/lumora-ai/memcore/pkg/utils/env"
)

// Storage type names accepted in KV_STORAGE_TYPE.
const (
	StorageTypeInMemory = "inmemory"
	StorageTypeRedis    = "redis"
	StorageTypeZeroG    = "zerog"
)

// Store is the key-value substrate contract.
//
// Store operations are thread-safe and can be performed concurrently.
// Implementations must treat an empty value as a tombstone: Iterate skips
// such entries and BatchGet omits them.
type Store interface {
	// Get returns the most recently written value for key, and whether a
	// value is present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put makes subsequent Gets of key return value. Overwrites.
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key and reports whether a value was present.
	Delete(ctx context.Context, key string) (bool, error)
	// BatchGet returns a map containing every requested key whose value is
	// present; missing keys are omitted.
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)
	// BatchDelete removes the given keys and returns the count actually
	// removed.
	BatchDelete(ctx context.Context, keys []string) (int, error)
	// Iterate yields every live (key, value) pair exactly once. Returning
	// false from fn stops the iteration.
	Iterate(ctx context.Context, fn func(key string, value []byte) bool) error
	// Close releases the backend. For the chain-backed store this flushes
	// the uploader first; skipping Close loses queued writes.
	Close(ctx context.Context) error
}

// Config holds the configuration for the KV substrate. It may configure
// several backends; if multiple backends are configured, only the first one
// will be used.
type Config struct {
	InMemoryConfig *InMemoryConfig `json:"inMemoryConfig"`
	RedisConfig    *RedisConfig    `json:"redisConfig"`
	ZeroGConfig    *ZeroGConfig    `json:"zeroGConfig"`

	// EnableMetrics toggles whether substrate operations are counted.
	EnableMetrics bool `json:"enableMetrics"`
}

// DefaultConfig returns a default configuration for the KV substrate.
func DefaultConfig() *Config {
	return &Config{
		InMemoryConfig: &InMemoryConfig{},
	}
}

// ConfigFromEnv builds a Config from KV_STORAGE_TYPE and the backend's own
// environment variables. An unknown storage type falls back to the
// in-memory backend with a warning.
func ConfigFromEnv(ctx context.Context) *Config {
	storageType := strings.ToLower(env.GetString("KV_STORAGE_TYPE", StorageTypeInMemory))

	switch storageType {
	case StorageTypeInMemory:
		return DefaultConfig()
	case StorageTypeRedis:
		return &Config{
			RedisConfig: &RedisConfig{
				Address: env.GetString("REDIS_ADDRESS", defaultRedisAddress),
			},
		}
	case StorageTypeZeroG:
		return &Config{
			ZeroGConfig: ZeroGConfigFromEnv(),
		}
	default:
		klog.FromContext(ctx).WithName("kv").Info(
			"unknown KV_STORAGE_TYPE, falling back to in-memory store",
			"storageType", storageType)
		return DefaultConfig()
	}
}

// NewStore creates a Store given a Config.
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var store Store
	var err error

	switch {
	case cfg.InMemoryConfig != nil:
		store = NewInMemoryStore(cfg.InMemoryConfig)
	case cfg.RedisConfig != nil:
		store, err = NewRedisStore(cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis store: %w", err)
		}
	case cfg.ZeroGConfig != nil:
		store, err = NewZeroGStore(ctx, cfg.ZeroGConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create 0G store: %w", err)
		}
	default:
		return nil, fmt.Errorf("no valid KV store configuration provided")
	}

	if cfg.EnableMetrics {
		metrics.Register()
		store = NewInstrumentedStore(store)
	}

	return store, nil
}

// requireTimeout derives the timeout to apply to a backend call from the
// caller's deadline, bounded by fallback.
func requireTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < fallback {
			return remaining
		}
	}
	return fallback
}
