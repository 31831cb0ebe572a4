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

package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/metrics"
	"github.com/lumora-ai/memcore/pkg/utils"
)

// SearchResult is one materialized full document with its similarity
// score.
type SearchResult struct {
	Document map[string]any
	Score    float32
}

// Proxy enforces the dual-storage discipline for one vector-indexed
// class: the lite projection (scalar fields plus embedding) goes to the
// backend, the complete body goes to the KV under "{class}:{id}".
//
// Reads merge the KV body over the backend row; a backend row whose body
// is missing is served from its lite fields alone and logged as drift.
type Proxy struct {
	backend    Backend
	kv         kv.Store
	class      string
	liteFields sets.Set[string]
	cache      *lru.Cache[string, []byte]
}

// NewProxy builds a proxy for class. liteFields names the scalar fields
// mirrored into the backend. cacheSize > 0 enables a read-through LRU
// over KV bodies.
func NewProxy(backend Backend, store kv.Store, class string, liteFields sets.Set[string], cacheSize int) (*Proxy, error) {
	p := &Proxy{
		backend:    backend,
		kv:         store,
		class:      class,
		liteFields: liteFields,
	}
	if cacheSize > 0 {
		cache, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create read cache: %w", err)
		}
		p.cache = cache
	}
	return p, nil
}

// Backend exposes the underlying vector backend. The startup validator
// uses it to enumerate and rebuild rows.
func (p *Proxy) Backend() Backend {
	return p.backend
}

// Class returns the document class this proxy serves.
func (p *Proxy) Class() string {
	return p.class
}

// Key returns the KV key of a document's full body.
func (p *Proxy) Key(id string) string {
	return p.class + ":" + id
}

// LiteRow projects a full document to its backend row.
func (p *Proxy) LiteRow(id string, vector []float32, doc map[string]any) Row {
	fields := make(map[string]any)
	for k, v := range doc {
		if p.liteFields.Has(k) {
			fields[k] = v
		}
	}
	fields["id"] = id
	return Row{ID: id, Vector: vector, Fields: fields}
}

// Insert writes the lite row to the backend, then the full body to the
// KV. A KV failure is logged and surfaced; the backend row is not rolled
// back.
func (p *Proxy) Insert(ctx context.Context, id string, vector []float32, doc map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	if err := p.backend.Upsert(ctx, []Row{p.LiteRow(id, vector, doc)}); err != nil {
		return "", fmt.Errorf("class %q: backend upsert for %q failed: %w", p.class, id, err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("class %q: failed to encode full body: %w", p.class, err)
	}
	if err := p.kv.Put(ctx, p.Key(id), body); err != nil {
		klog.FromContext(ctx).Error(err, "failed to write full body to KV",
			"class", p.class, "id", id)
		metrics.DriftDetected.WithLabelValues("vectorindex").Inc()
		return "", fmt.Errorf("class %q: KV write for %q failed: %w", p.class, id, err)
	}
	if p.cache != nil {
		p.cache.Add(p.Key(id), body)
	}
	return id, nil
}

// Search runs the ANN query and materializes each hit's full body.
func (p *Proxy) Search(ctx context.Context, vector []float32, match Match, limit int) ([]SearchResult, error) {
	hits, err := p.backend.Search(ctx, vector, match, limit)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, len(hits))
	for i, hit := range hits {
		rows[i] = hit.Row
	}
	docs := p.materialize(ctx, rows)

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{Document: docs[i], Score: hit.Score}
	}
	return results, nil
}

// Query materializes rows matching match without a vector.
func (p *Proxy) Query(ctx context.Context, match Match, limit int) ([]map[string]any, error) {
	rows, err := p.backend.Query(ctx, match, limit)
	if err != nil {
		return nil, err
	}
	return p.materialize(ctx, rows), nil
}

// Delete removes rows from the backend first, their KV bodies second.
func (p *Proxy) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.backend.Delete(ctx, ids); err != nil {
		return fmt.Errorf("class %q: backend delete failed: %w", p.class, err)
	}

	keys := utils.SliceMap(ids, p.Key)
	if p.cache != nil {
		for _, key := range keys {
			p.cache.Remove(key)
		}
	}
	if _, err := p.kv.BatchDelete(ctx, keys); err != nil {
		klog.FromContext(ctx).Error(err, "failed to batch-delete full bodies from KV",
			"class", p.class, "count", len(ids))
	}
	return nil
}

// Close closes the backend. The KV is shared and stays open.
func (p *Proxy) Close(ctx context.Context) error {
	return p.backend.Close(ctx)
}

// materialize merges each row's KV body over its lite fields, preserving
// the backend's order. Missing bodies degrade to lite fields and log as
// drift.
func (p *Proxy) materialize(ctx context.Context, rows []Row) []map[string]any {
	missing := make([]string, 0, len(rows))
	bodies := make(map[string][]byte, len(rows))
	for _, row := range rows {
		key := p.Key(row.ID)
		if p.cache != nil {
			if body, ok := p.cache.Get(key); ok {
				bodies[key] = body
				continue
			}
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		fetched, err := p.kv.BatchGet(ctx, missing)
		if err != nil {
			klog.FromContext(ctx).Error(err, "KV batch read failed",
				"class", p.class, "count", len(missing))
		} else {
			for key, body := range fetched {
				bodies[key] = body
				if p.cache != nil {
					p.cache.Add(key, body)
				}
			}
		}
	}

	docs := make([]map[string]any, len(rows))
	for i, row := range rows {
		body, ok := bodies[p.Key(row.ID)]
		if !ok {
			klog.FromContext(ctx).Error(nil, "drift: index row present but KV body missing",
				"class", p.class, "id", row.ID)
			metrics.DriftDetected.WithLabelValues("vectorindex").Inc()
			docs[i] = liteDocument(row)
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			klog.FromContext(ctx).Error(err, "failed to decode full body",
				"class", p.class, "id", row.ID)
			docs[i] = liteDocument(row)
			continue
		}
		doc["id"] = row.ID
		docs[i] = doc
	}
	return docs
}

func liteDocument(row Row) map[string]any {
	doc := make(map[string]any, len(row.Fields)+1)
	for k, v := range row.Fields {
		doc[k] = v
	}
	doc["id"] = row.ID
	return doc
}
