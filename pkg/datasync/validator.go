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

// Package datasync reconciles the indexed stores against the KV at
// startup. The KV is the source of truth: missing index rows are rebuilt
// from KV bodies, missing KV bodies are reported and never fabricated.
package datasync

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/docstore"
	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/metrics"
	"github.com/lumora-ai/memcore/pkg/textindex"
	"github.com/lumora-ai/memcore/pkg/utils/env"
	"github.com/lumora-ai/memcore/pkg/vectorindex"
)

// Config controls the startup validation run.
type Config struct {
	// Enabled gates the whole run.
	Enabled bool
	// BootstrapMode skips validation on a fresh deployment.
	BootstrapMode bool
	// Days scopes validation to documents created in the last N days.
	// Zero means a full scan.
	Days int
	// VectorEnabled and TextEnabled gate the index passes.
	VectorEnabled bool
	TextEnabled   bool
	// PageSize bounds one docstore id listing.
	PageSize int
}

// NewDefaultConfig returns the validation defaults: enabled, last 30
// days, all targets.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		Days:          30,
		VectorEnabled: true,
		TextEnabled:   true,
		PageSize:      500,
	}
}

// ConfigFromEnv reads the STARTUP_SYNC_* and BOOTSTRAP_MODE variables.
func ConfigFromEnv() *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = env.GetBool("STARTUP_SYNC_ENABLED", cfg.Enabled)
	cfg.BootstrapMode = env.GetBool("BOOTSTRAP_MODE", cfg.BootstrapMode)
	cfg.Days = env.GetInt("STARTUP_SYNC_DAYS", cfg.Days)
	cfg.VectorEnabled = env.GetBool("STARTUP_SYNC_MILVUS", cfg.VectorEnabled)
	cfg.TextEnabled = env.GetBool("STARTUP_SYNC_ES", cfg.TextEnabled)
	return cfg
}

// SyncResult summarizes one reconciliation pass over one target/class
// pair.
type SyncResult struct {
	Target       string        `json:"target"`
	DocType      string        `json:"doc_type"`
	TotalChecked int           `json:"total_checked"`
	MissingCount int           `json:"missing_count"`
	SyncedCount  int           `json:"synced_count"`
	ErrorCount   int           `json:"error_count"`
	ElapsedTime  time.Duration `json:"elapsed_time"`
}

// Validator runs one reconciliation pass per registered target. Passes
// run concurrently and independently; one failing pass never stops the
// others, and the whole run is detached from request serving.
type Validator struct {
	cfg *Config
	kv  kv.Store

	docProxies    []*docstore.Proxy
	vectorProxies []*vectorindex.Proxy
	textProxies   []*textindex.Proxy
}

// NewValidator builds a validator over the primary KV.
func NewValidator(cfg *Config, store kv.Store) *Validator {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	return &Validator{cfg: cfg, kv: store}
}

// RegisterDocstore adds a document-store class to the run.
func (v *Validator) RegisterDocstore(proxy *docstore.Proxy) {
	v.docProxies = append(v.docProxies, proxy)
}

// RegisterVector adds a vector-indexed class to the run.
func (v *Validator) RegisterVector(proxy *vectorindex.Proxy) {
	v.vectorProxies = append(v.vectorProxies, proxy)
}

// RegisterText adds a text-indexed class to the run.
func (v *Validator) RegisterText(proxy *textindex.Proxy) {
	v.textProxies = append(v.textProxies, proxy)
}

// Start kicks Run on its own goroutine and returns immediately.
func (v *Validator) Start(ctx context.Context) {
	go func() {
		_ = v.Run(ctx)
	}()
}

// Run executes every enabled pass and returns their results. Each result
// is also logged as one structured line.
func (v *Validator) Run(ctx context.Context) []SyncResult {
	logger := klog.FromContext(ctx).WithName("datasync")

	if !v.cfg.Enabled {
		logger.Info("startup validation disabled, skipping")
		return nil
	}
	if v.cfg.BootstrapMode {
		logger.Info("bootstrap mode, skipping startup validation")
		return nil
	}

	var since time.Time
	if v.cfg.Days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -v.cfg.Days)
		logger.Info("starting data validation", "days", v.cfg.Days, "since", since)
	} else {
		logger.Info("STARTUP_SYNC_DAYS is 0: validating the FULL dataset, this can take a long time")
	}

	var (
		mu      sync.Mutex
		results []SyncResult
	)
	collect := func(res SyncResult) {
		metrics.SyncPassDuration.Observe(res.ElapsedTime.Seconds())
		logger.Info("validation pass finished",
			"target", res.Target, "doc_type", res.DocType,
			"total_checked", res.TotalChecked, "missing_count", res.MissingCount,
			"synced_count", res.SyncedCount, "error_count", res.ErrorCount,
			"elapsed_time", res.ElapsedTime)
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, proxy := range v.docProxies {
		group.Go(func() error {
			collect(v.validateDocstore(groupCtx, proxy, since))
			return nil
		})
	}
	if v.cfg.VectorEnabled {
		for _, proxy := range v.vectorProxies {
			group.Go(func() error {
				collect(v.validateVector(groupCtx, proxy, since))
				return nil
			})
		}
	}
	if v.cfg.TextEnabled {
		for _, proxy := range v.textProxies {
			group.Go(func() error {
				collect(v.validateText(groupCtx, proxy, since))
				return nil
			})
		}
	}
	_ = group.Wait()
	return results
}

// validateDocstore reconciles one class in both directions: every lite
// row in scope must have its KV body (a missing body cannot be rebuilt
// and is reported as an error), and every KV body of the class must have
// its lite row (a missing row is rebuilt from the body).
func (v *Validator) validateDocstore(ctx context.Context, proxy *docstore.Proxy, since time.Time) SyncResult {
	logger := klog.FromContext(ctx).WithName("datasync")
	start := time.Now()
	res := SyncResult{Target: "docstore", DocType: proxy.Schema().Name}

	have := sets.New[string]()
	for offset := 0; ; offset += v.cfg.PageSize {
		ids, err := proxy.Collection().ListIDsSince(ctx, since, v.cfg.PageSize, offset)
		if err != nil {
			logger.Error(err, "failed to list lite rows", "doc_type", res.DocType)
			res.ErrorCount++
			break
		}
		if len(ids) == 0 {
			break
		}
		res.TotalChecked += len(ids)
		have.Insert(ids...)

		bodies, err := v.kv.BatchGet(ctx, ids)
		if err != nil {
			logger.Error(err, "KV batch read failed", "doc_type", res.DocType)
			res.ErrorCount += len(ids)
			continue
		}
		for _, id := range ids {
			if _, ok := bodies[id]; ok {
				continue
			}
			res.MissingCount++
			res.ErrorCount++
			logger.Error(nil, "KV body missing for lite row, cannot rebuild",
				"doc_type", res.DocType, "id", id)
			metrics.DriftDetected.WithLabelValues("docstore").Inc()
		}

		if len(ids) < v.cfg.PageSize {
			break
		}
	}

	// Docstore bodies live under bare-id keys; the doc_class field inside
	// the body attributes each key to its class.
	err := v.kv.Iterate(ctx, func(key string, value []byte) bool {
		if strings.Contains(key, ":") {
			return true
		}
		var doc map[string]any
		if json.Unmarshal(value, &doc) != nil {
			return true
		}
		if class, _ := doc[docstore.FieldDocClass].(string); class != res.DocType {
			return true
		}
		if !inScope(doc, since) {
			return true
		}
		if have.Has(key) {
			return true
		}

		res.TotalChecked++
		res.MissingCount++
		if _, err := proxy.RebuildFromBody(ctx, value); err != nil {
			logger.Error(err, "failed to rebuild lite row", "doc_type", res.DocType, "id", key)
			res.ErrorCount++
			return true
		}
		res.SyncedCount++
		metrics.DriftRepaired.WithLabelValues("docstore").Inc()
		return true
	})
	if err != nil {
		logger.Error(err, "KV iteration failed", "doc_type", res.DocType)
		res.ErrorCount++
	}

	res.ElapsedTime = time.Since(start)
	return res
}

// validateVector rebuilds vector-index rows missing for KV bodies in
// scope.
func (v *Validator) validateVector(ctx context.Context, proxy *vectorindex.Proxy, since time.Time) SyncResult {
	logger := klog.FromContext(ctx).WithName("datasync")
	start := time.Now()
	res := SyncResult{Target: "vector", DocType: proxy.Class()}

	indexed, err := proxy.Backend().ListIDs(ctx)
	if err != nil {
		logger.Error(err, "failed to list vector index ids", "doc_type", res.DocType)
		res.ErrorCount++
		res.ElapsedTime = time.Since(start)
		return res
	}
	have := sets.New(indexed...)

	prefix := proxy.Class() + ":"
	err = v.kv.Iterate(ctx, func(key string, value []byte) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		id := strings.TrimPrefix(key, prefix)
		doc, ok := decodeBody(ctx, value, res.DocType, id, &res)
		if !ok {
			return true
		}
		if !inScope(doc, since) {
			return true
		}
		res.TotalChecked++
		if have.Has(id) {
			return true
		}

		res.MissingCount++
		row := proxy.LiteRow(id, vectorFromDoc(doc), doc)
		if err := proxy.Backend().Upsert(ctx, []vectorindex.Row{row}); err != nil {
			logger.Error(err, "failed to rebuild vector row", "doc_type", res.DocType, "id", id)
			res.ErrorCount++
			return true
		}
		res.SyncedCount++
		metrics.DriftRepaired.WithLabelValues("vectorindex").Inc()
		return true
	})
	if err != nil {
		logger.Error(err, "KV iteration failed", "doc_type", res.DocType)
		res.ErrorCount++
	}

	res.ElapsedTime = time.Since(start)
	return res
}

// validateText rebuilds text-index documents missing for KV bodies in
// scope.
func (v *Validator) validateText(ctx context.Context, proxy *textindex.Proxy, since time.Time) SyncResult {
	logger := klog.FromContext(ctx).WithName("datasync")
	start := time.Now()
	res := SyncResult{Target: "text", DocType: proxy.Class()}

	indexed, err := proxy.Backend().ListIDs(ctx)
	if err != nil {
		logger.Error(err, "failed to list text index ids", "doc_type", res.DocType)
		res.ErrorCount++
		res.ElapsedTime = time.Since(start)
		return res
	}
	have := sets.New(indexed...)

	prefix := proxy.Class() + ":"
	err = v.kv.Iterate(ctx, func(key string, value []byte) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		id := strings.TrimPrefix(key, prefix)
		doc, ok := decodeBody(ctx, value, res.DocType, id, &res)
		if !ok {
			return true
		}
		if !inScope(doc, since) {
			return true
		}
		res.TotalChecked++
		if have.Has(id) {
			return true
		}

		res.MissingCount++
		if err := proxy.Backend().Index(ctx, []textindex.Doc{proxy.LiteDoc(id, doc)}); err != nil {
			logger.Error(err, "failed to rebuild text document", "doc_type", res.DocType, "id", id)
			res.ErrorCount++
			return true
		}
		res.SyncedCount++
		metrics.DriftRepaired.WithLabelValues("textindex").Inc()
		return true
	})
	if err != nil {
		logger.Error(err, "KV iteration failed", "doc_type", res.DocType)
		res.ErrorCount++
	}

	res.ElapsedTime = time.Since(start)
	return res
}
