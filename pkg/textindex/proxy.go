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

package textindex

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

// SearchResult is one materialized full document with its relevance
// score.
type SearchResult struct {
	Document map[string]any
	Score    float32
}

// Proxy enforces the dual-storage discipline for one text-indexed class:
// the lite document (analyzed text plus scalar fields) goes to the
// backend, the complete body goes to the KV under "{class}:{id}".
type Proxy struct {
	backend    Backend
	kv         kv.Store
	class      string
	textField  string
	liteFields sets.Set[string]
	cache      *lru.Cache[string, []byte]
}

// NewProxy builds a proxy for class. textField names the document field
// fed to the analyzer; liteFields names the scalar fields mirrored into
// the backend. cacheSize > 0 enables a read-through LRU over KV bodies.
func NewProxy(backend Backend, store kv.Store, class, textField string, liteFields sets.Set[string], cacheSize int) (*Proxy, error) {
	p := &Proxy{
		backend:    backend,
		kv:         store,
		class:      class,
		textField:  textField,
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

// Backend exposes the underlying text backend for reconciliation.
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

// LiteDoc projects a full document to its backend form.
func (p *Proxy) LiteDoc(id string, doc map[string]any) Doc {
	fields := make(map[string]any)
	for k, v := range doc {
		if p.liteFields.Has(k) {
			fields[k] = v
		}
	}
	fields["id"] = id

	text, _ := doc[p.textField].(string)
	return Doc{ID: id, Text: text, Fields: fields}
}

// Insert writes the lite document to the backend, then the full body to
// the KV. A KV failure is logged and surfaced; the backend document is
// not rolled back.
func (p *Proxy) Insert(ctx context.Context, id string, doc map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}

	if err := p.backend.Index(ctx, []Doc{p.LiteDoc(id, doc)}); err != nil {
		return "", fmt.Errorf("class %q: backend index for %q failed: %w", p.class, id, err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("class %q: failed to encode full body: %w", p.class, err)
	}
	if err := p.kv.Put(ctx, p.Key(id), body); err != nil {
		klog.FromContext(ctx).Error(err, "failed to write full body to KV",
			"class", p.class, "id", id)
		metrics.DriftDetected.WithLabelValues("textindex").Inc()
		return "", fmt.Errorf("class %q: KV write for %q failed: %w", p.class, id, err)
	}
	if p.cache != nil {
		p.cache.Add(p.Key(id), body)
	}
	return id, nil
}

// Search runs the relevance query and materializes each hit's full body.
func (p *Proxy) Search(ctx context.Context, query string, match Match, limit int) ([]SearchResult, error) {
	hits, err := p.backend.Search(ctx, query, match, limit)
	if err != nil {
		return nil, err
	}

	docs := p.materialize(ctx, hits)
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{Document: docs[i], Score: hit.Score}
	}
	return results, nil
}

// Delete removes documents from the backend first, their KV bodies
// second.
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

func (p *Proxy) materialize(ctx context.Context, hits []Hit) []map[string]any {
	missing := make([]string, 0, len(hits))
	bodies := make(map[string][]byte, len(hits))
	for _, hit := range hits {
		key := p.Key(hit.ID)
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

	docs := make([]map[string]any, len(hits))
	for i, hit := range hits {
		body, ok := bodies[p.Key(hit.ID)]
		if !ok {
			klog.FromContext(ctx).Error(nil, "drift: index document present but KV body missing",
				"class", p.class, "id", hit.ID)
			metrics.DriftDetected.WithLabelValues("textindex").Inc()
			docs[i] = liteDocument(hit.Doc)
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			klog.FromContext(ctx).Error(err, "failed to decode full body",
				"class", p.class, "id", hit.ID)
			docs[i] = liteDocument(hit.Doc)
			continue
		}
		doc["id"] = hit.ID
		docs[i] = doc
	}
	return docs
}

func liteDocument(doc Doc) map[string]any {
	out := make(map[string]any, len(doc.Fields)+2)
	for k, v := range doc.Fields {
		out[k] = v
	}
	out["id"] = doc.ID
	return out
}
