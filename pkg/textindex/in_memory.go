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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InMemoryBackend keeps documents in a map and scores searches by naive
// term overlap. Single-process only.
type InMemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]Doc
}

var _ Backend = &InMemoryBackend{}

// NewInMemoryBackend creates an empty in-memory text backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{docs: make(map[string]Doc)}
}

func (b *InMemoryBackend) Index(_ context.Context, docs []Doc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document without id")
		}
		b.docs[doc.ID] = doc
	}
	return nil
}

func (b *InMemoryBackend) Search(_ context.Context, query string, match Match, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	hits := make([]Hit, 0)
	for _, doc := range b.docs {
		if !docMatches(doc, match) {
			continue
		}
		score := termOverlap(strings.ToLower(doc.Text), terms)
		if len(terms) > 0 && score == 0 {
			continue
		}
		hits = append(hits, Hit{Doc: doc, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (b *InMemoryBackend) Delete(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		delete(b.docs, id)
	}
	return nil
}

func (b *InMemoryBackend) ListIDs(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.docs))
	for id := range b.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *InMemoryBackend) Close(context.Context) error {
	return nil
}

func docMatches(doc Doc, match Match) bool {
	for field, want := range match {
		got, ok := doc.Fields[field]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func termOverlap(text string, terms []string) float32 {
	if len(terms) == 0 {
		return 1
	}
	var matched int
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}
