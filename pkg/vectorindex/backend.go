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

// Package vectorindex holds the vector side of the index substrate: a
// pluggable ANN backend storing lite rows, and a dual-storage proxy that
// keeps the complete document body in the KV.
package vectorindex

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Row is one lite projection stored in the vector backend. Fields holds
// the scalar lite attributes; everything else lives in the KV body.
type Row struct {
	ID     string
	Vector []float32
	Fields map[string]any
}

// Hit is one search result with its similarity score.
type Hit struct {
	Row
	Score float32
}

// Match is a flat equality filter over lite fields. Backends translate it
// to their native expression language.
type Match map[string]any

// Backend is the vector store the proxy writes lite rows to.
type Backend interface {
	// Upsert writes rows, replacing rows with the same id.
	Upsert(ctx context.Context, rows []Row) error
	// Search runs an ANN query constrained by match.
	Search(ctx context.Context, vector []float32, match Match, limit int) ([]Hit, error)
	// Query returns lite rows matching match without a vector.
	Query(ctx context.Context, match Match, limit int) ([]Row, error)
	// Delete removes rows by id.
	Delete(ctx context.Context, ids []string) error
	// ListIDs returns every row id. The startup validator diffs this
	// against the KV population.
	ListIDs(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Config selects a vector backend. The first non-nil backend config wins;
// with none set the in-memory backend is used.
type Config struct {
	MilvusConfig *MilvusConfig
	// CacheSize bounds the proxy's read-through cache over KV bodies.
	// Zero disables the cache.
	CacheSize int
}

// NewDefaultConfig returns an in-memory-backed configuration.
func NewDefaultConfig() *Config {
	return &Config{}
}

// NewBackend creates the configured backend.
func NewBackend(ctx context.Context, collection string, cfg *Config) (Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.MilvusConfig != nil {
		backend, err := NewMilvusBackend(ctx, collection, cfg.MilvusConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Milvus backend: %w", err)
		}
		return backend, nil
	}

	klog.FromContext(ctx).Info("no vector backend configured, using in-memory",
		"collection", collection)
	return NewInMemoryBackend(), nil
}
