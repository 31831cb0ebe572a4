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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	elasticsearch8 "github.com/elastic/go-elasticsearch/v8"
	esapi8 "github.com/elastic/go-elasticsearch/v8/esapi"
	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/utils/env"
)

const esTextField = "text"

// ElasticsearchConfig configures the Elasticsearch-backed text backend.
type ElasticsearchConfig struct {
	Addresses []string `json:"addresses"`
	Username  string   `json:"username"`
	Password  string   `json:"-"`
}

// ElasticsearchConfigFromEnv reads ES_ADDRESSES and friends. Returns nil
// when no address is set.
func ElasticsearchConfigFromEnv() *ElasticsearchConfig {
	addresses := env.GetStringSlice("ES_ADDRESSES")
	if len(addresses) == 0 {
		return nil
	}
	return &ElasticsearchConfig{
		Addresses: addresses,
		Username:  env.GetString("ES_USERNAME", ""),
		Password:  env.GetString("ES_PASSWORD", ""),
	}
}

// ElasticsearchBackend stores lite documents in one index. The analyzed
// text sits in the "text" field; scalar lite fields are indexed alongside
// it as keyword-ish fields used in filter clauses.
type ElasticsearchBackend struct {
	client *elasticsearch8.Client
	index  string
}

var _ Backend = &ElasticsearchBackend{}

// NewElasticsearchBackend connects and verifies the cluster is reachable.
func NewElasticsearchBackend(ctx context.Context, index string, cfg *ElasticsearchConfig) (*ElasticsearchBackend, error) {
	if cfg == nil || len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are required")
	}

	client, err := elasticsearch8.NewClient(elasticsearch8.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	if err := drainResponse(res, nil); err != nil {
		return nil, fmt.Errorf("elasticsearch ping failed: %w", err)
	}

	klog.FromContext(ctx).WithName("textindex").Info("connected to Elasticsearch",
		"addresses", cfg.Addresses, "index", index)
	return &ElasticsearchBackend{client: client, index: index}, nil
}

func (b *ElasticsearchBackend) Index(ctx context.Context, docs []Doc) error {
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document without id")
		}
		source := make(map[string]any, len(doc.Fields)+1)
		for k, v := range doc.Fields {
			source[k] = v
		}
		source[esTextField] = doc.Text

		body, err := json.Marshal(source)
		if err != nil {
			return fmt.Errorf("failed to encode document %q: %w", doc.ID, err)
		}
		res, err := b.client.Index(b.index, bytes.NewReader(body),
			b.client.Index.WithDocumentID(doc.ID),
			b.client.Index.WithContext(ctx),
		)
		if err != nil {
			return fmt.Errorf("elasticsearch index of %q failed: %w", doc.ID, err)
		}
		if err := drainResponse(res, nil); err != nil {
			return fmt.Errorf("elasticsearch index of %q failed: %w", doc.ID, err)
		}
	}
	return nil
}

func (b *ElasticsearchBackend) Search(ctx context.Context, query string, match Match, limit int) ([]Hit, error) {
	bool_ := map[string]any{}
	if query != "" {
		bool_["must"] = []any{
			map[string]any{"match": map[string]any{esTextField: query}},
		}
	}
	if len(match) > 0 {
		filters := make([]any, 0, len(match))
		for field, value := range match {
			filters = append(filters, map[string]any{
				"term": map[string]any{field: value},
			})
		}
		bool_["filter"] = filters
	}

	searchBody := map[string]any{
		"query": map[string]any{"bool": bool_},
	}
	raw, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search body: %w", err)
	}

	opts := []func(*esapi8.SearchRequest){
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(bytes.NewReader(raw)),
	}
	if limit > 0 {
		opts = append(opts, b.client.Search.WithSize(limit))
	}

	res, err := b.client.Search(opts...)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}

	var parsed esSearchResponse
	if err := drainResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		doc := Doc{ID: h.ID, Fields: h.Source}
		if text, ok := h.Source[esTextField].(string); ok {
			doc.Text = text
			delete(h.Source, esTextField)
		}
		hits = append(hits, Hit{Doc: doc, Score: h.Score})
	}
	return hits, nil
}

func (b *ElasticsearchBackend) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		res, err := b.client.Delete(b.index, id, b.client.Delete.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("elasticsearch delete of %q failed: %w", id, err)
		}
		// 404 means the document is already gone; not an error here.
		if res.StatusCode != 404 {
			if err := drainResponse(res, nil); err != nil {
				return fmt.Errorf("elasticsearch delete of %q failed: %w", id, err)
			}
			continue
		}
		_ = res.Body.Close()
	}
	return nil
}

func (b *ElasticsearchBackend) ListIDs(ctx context.Context) ([]string, error) {
	searchBody := map[string]any{
		"query":   map[string]any{"match_all": map[string]any{}},
		"_source": false,
	}
	raw, err := json.Marshal(searchBody)
	if err != nil {
		return nil, err
	}

	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.index),
		b.client.Search.WithBody(bytes.NewReader(raw)),
		b.client.Search.WithSize(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch id listing failed: %w", err)
	}

	var parsed esSearchResponse
	if err := drainResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("elasticsearch id listing failed: %w", err)
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (b *ElasticsearchBackend) Close(context.Context) error {
	return nil
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float32        `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// drainResponse surfaces API-level errors and optionally decodes the body
// into out. The body reader is always closed.
func drainResponse(res *esapi8.Response, out any) error {
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(raw))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
