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

// Package textindex holds the full-text side of the index substrate: a
// pluggable search backend storing lite documents, and a dual-storage
// proxy that keeps the complete body in the KV.
package textindex

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Doc is one lite document stored in the text backend. Text is the
// analyzed field; Fields holds the scalar lite attributes used for
// filtering.
type Doc struct {
	ID     string
	Text   string
	Fields map[string]any
}

// Hit is one search result with its relevance score.
type Hit struct {
	Doc
	Score float32
}

// Match is a flat equality filter over lite fields.
type Match map[string]any

// Backend is the text store the proxy writes lite documents to.
type Backend interface {
	// Index writes docs, replacing documents with the same id.
	Index(ctx context.Context, docs []Doc) error
	// Search runs a relevance query constrained by match.
	Search(ctx context.Context, query string, match Match, limit int) ([]Hit, error)
	// Delete removes documents by id.
	Delete(ctx context.Context, ids []string) error
	// ListIDs returns every document id for reconciliation.
	ListIDs(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Config selects a text backend. The first non-nil backend config wins;
// with none set the in-memory backend is used.
type Config struct {
	ElasticsearchConfig *ElasticsearchConfig
	// CacheSize bounds the proxy's read-through cache over KV bodies.
	// Zero disables the cache.
	CacheSize int
}

// NewDefaultConfig returns an in-memory-backed configuration.
func NewDefaultConfig() *Config {
	return &Config{}
}

// NewBackend creates the configured backend for index.
func NewBackend(ctx context.Context, index string, cfg *Config) (Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.ElasticsearchConfig != nil {
		backend, err := NewElasticsearchBackend(ctx, index, cfg.ElasticsearchConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Elasticsearch backend: %w", err)
		}
		return backend, nil
	}

	klog.FromContext(ctx).Info("no text backend configured, using in-memory",
		"index", index)
	return NewInMemoryBackend(), nil
}
