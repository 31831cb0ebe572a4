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

// Package memcore wires the persistence substrate together: one primary
// KV, the document store with a dual proxy per class, the vector and
// text index proxies, the accumulation window, the request-status
// channel, and the startup validator.
package memcore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/datasync"
	"github.com/lumora-ai/memcore/pkg/docstore"
	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/metrics"
	"github.com/lumora-ai/memcore/pkg/models"
	"github.com/lumora-ai/memcore/pkg/textindex"
	"github.com/lumora-ai/memcore/pkg/utils/env"
	"github.com/lumora-ai/memcore/pkg/vectorindex"
	"github.com/lumora-ai/memcore/pkg/window"
)

// vectorClasses are the document classes mirrored into the vector index.
var vectorClasses = []string{
	models.ClassEpisodicMemory,
	models.ClassEventLog,
	models.ClassForesight,
}

// textClasses maps text-indexed classes to their analyzed field.
var textClasses = map[string]string{
	models.ClassEpisodicMemory: "episode",
	models.ClassEventLog:       "atomic_fact",
	models.ClassForesight:      "content",
}

// Config holds the configuration for the Service module. The
// configuration covers the different components found in the Service.
type Config struct {
	KVConfig       *kv.Config          `json:"kvConfig"`
	DocstoreConfig *docstore.Config    `json:"docstoreConfig"`
	VectorConfig   *vectorindex.Config `json:"vectorConfig"`
	TextConfig     *textindex.Config   `json:"textConfig"`
	DataSyncConfig *datasync.Config    `json:"dataSyncConfig"`

	// StatusRedisAddress dials the request-status channel. Empty disables
	// the channel.
	StatusRedisAddress string `json:"statusRedisAddress,omitempty"`

	// MetricsLoggingInterval enables the periodic metrics beat when
	// positive.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval,omitempty"`
}

// NewDefaultConfig returns a default configuration for the Service.
func NewDefaultConfig() *Config {
	return &Config{
		KVConfig:       kv.DefaultConfig(),
		DocstoreConfig: docstore.DefaultConfig(),
		VectorConfig:   vectorindex.NewDefaultConfig(),
		TextConfig:     textindex.NewDefaultConfig(),
		DataSyncConfig: datasync.NewDefaultConfig(),
	}
}

// ConfigFromEnv assembles the configuration from environment variables.
func ConfigFromEnv(ctx context.Context) *Config {
	cfg := NewDefaultConfig()
	cfg.KVConfig = kv.ConfigFromEnv(ctx)
	cfg.DocstoreConfig = &docstore.Config{
		Path:        env.GetString("DOCSTORE_PATH", "memcore.db"),
		FullStorage: env.GetBool("FULL_STORAGE_MODE", true),
	}
	cfg.VectorConfig = &vectorindex.Config{
		MilvusConfig: vectorindex.MilvusConfigFromEnv(),
		CacheSize:    env.GetInt("INDEX_CACHE_SIZE", 0),
	}
	cfg.TextConfig = &textindex.Config{
		ElasticsearchConfig: textindex.ElasticsearchConfigFromEnv(),
		CacheSize:           env.GetInt("INDEX_CACHE_SIZE", 0),
	}
	cfg.DataSyncConfig = datasync.ConfigFromEnv()
	cfg.StatusRedisAddress = env.GetString("REQUEST_STATUS_REDIS_ADDR", "")
	return cfg
}

// Service is the assembled persistence substrate.
type Service struct {
	config *Config

	kv       kv.Store
	docStore *docstore.Store

	docProxies    map[string]*docstore.Proxy
	vectorProxies map[string]*vectorindex.Proxy
	textProxies   map[string]*textindex.Proxy

	logRepo       *window.LogRepository
	statusChannel *window.StatusChannel
	statusClient  *redis.Client

	validator *datasync.Validator
}

// NewService creates a Service given a Config. Components come up in
// dependency order: KV first, stores over it, orchestration last.
func NewService(ctx context.Context, config *Config) (*Service, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	metrics.Register()

	kvStore, err := kv.NewStore(ctx, config.KVConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create KV store: %w", err)
	}

	docStore, err := docstore.Open(ctx, config.DocstoreConfig)
	if err != nil {
		_ = kvStore.Close(ctx)
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	s := &Service{
		config:        config,
		kv:            kvStore,
		docStore:      docStore,
		docProxies:    make(map[string]*docstore.Proxy),
		vectorProxies: make(map[string]*vectorindex.Proxy),
		textProxies:   make(map[string]*textindex.Proxy),
		validator:     datasync.NewValidator(config.DataSyncConfig, kvStore),
	}

	if err := s.buildStores(ctx); err != nil {
		_ = s.Shutdown(ctx)
		return nil, err
	}

	s.logRepo = window.NewLogRepository(s.docProxies[models.ClassRequestLog])

	if config.StatusRedisAddress != "" {
		client, err := kv.NewRedisClient(config.StatusRedisAddress)
		if err != nil {
			_ = s.Shutdown(ctx)
			return nil, fmt.Errorf("failed to dial status channel: %w", err)
		}
		s.statusClient = client
		s.statusChannel = window.NewStatusChannel(client, nil)
	}

	return s, nil
}

func (s *Service) buildStores(ctx context.Context) error {
	for _, schema := range models.AllSchemas() {
		coll, err := s.docStore.Collection(ctx, schema)
		if err != nil {
			return fmt.Errorf("failed to register class %q: %w", schema.Name, err)
		}
		proxy := docstore.NewProxy(coll, s.kv)
		s.docProxies[schema.Name] = proxy
		s.validator.RegisterDocstore(proxy)
	}

	for _, class := range vectorClasses {
		backend, err := vectorindex.NewBackend(ctx, class, s.config.VectorConfig)
		if err != nil {
			return fmt.Errorf("failed to create vector backend for %q: %w", class, err)
		}
		proxy, err := vectorindex.NewProxy(backend, s.kv, class,
			schemaFields(class), s.config.VectorConfig.CacheSize)
		if err != nil {
			return fmt.Errorf("failed to create vector proxy for %q: %w", class, err)
		}
		s.vectorProxies[class] = proxy
		s.validator.RegisterVector(proxy)
	}

	for class, textField := range textClasses {
		backend, err := textindex.NewBackend(ctx, class, s.config.TextConfig)
		if err != nil {
			return fmt.Errorf("failed to create text backend for %q: %w", class, err)
		}
		proxy, err := textindex.NewProxy(backend, s.kv, class, textField,
			schemaFields(class), s.config.TextConfig.CacheSize)
		if err != nil {
			return fmt.Errorf("failed to create text proxy for %q: %w", class, err)
		}
		s.textProxies[class] = proxy
		s.validator.RegisterText(proxy)
	}
	return nil
}

// Run starts the background machinery: the metrics beat and the detached
// startup validation.
func (s *Service) Run(ctx context.Context) {
	if s.config.MetricsLoggingInterval > 0 {
		metrics.StartMetricsLogging(ctx, s.config.MetricsLoggingInterval)
	}
	s.validator.Start(ctx)
}

// Shutdown closes components in reverse dependency order. The KV goes
// last so pending chain uploads flush before the process exits.
func (s *Service) Shutdown(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("memcore")
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for class, proxy := range s.vectorProxies {
		if err := proxy.Close(ctx); err != nil {
			logger.Error(err, "failed to close vector proxy", "class", class)
			keep(err)
		}
	}
	for class, proxy := range s.textProxies {
		if err := proxy.Close(ctx); err != nil {
			logger.Error(err, "failed to close text proxy", "class", class)
			keep(err)
		}
	}
	if s.statusClient != nil {
		keep(s.statusClient.Close())
	}
	if s.docStore != nil {
		keep(s.docStore.Close())
	}
	if s.kv != nil {
		keep(s.kv.Close(ctx))
	}
	return firstErr
}

// KV returns the primary KV singleton.
func (s *Service) KV() kv.Store {
	return s.kv
}

// Docstore returns the dual proxy of a registered class, or nil.
func (s *Service) Docstore(class string) *docstore.Proxy {
	return s.docProxies[class]
}

// Vector returns the vector-index proxy of a class, or nil.
func (s *Service) Vector(class string) *vectorindex.Proxy {
	return s.vectorProxies[class]
}

// Text returns the text-index proxy of a class, or nil.
func (s *Service) Text(class string) *textindex.Proxy {
	return s.textProxies[class]
}

// Window returns the accumulation-log repository.
func (s *Service) Window() *window.LogRepository {
	return s.logRepo
}

// Status returns the request-status channel, nil when not configured.
func (s *Service) Status() *window.StatusChannel {
	return s.statusChannel
}

// Validator returns the startup validator.
func (s *Service) Validator() *datasync.Validator {
	return s.validator
}

func schemaFields(class string) sets.Set[string] {
	for _, schema := range models.AllSchemas() {
		if schema.Name == class {
			return schema.LiteFieldSet()
		}
	}
	return sets.New[string]()
}
