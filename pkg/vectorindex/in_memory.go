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
	"fmt"
	"math"
	"sort"
	"sync"
)

// InMemoryBackend keeps rows in a map and ranks searches by cosine
// similarity. Single-process only.
type InMemoryBackend struct {
	mu   sync.RWMutex
	rows map[string]Row
}

var _ Backend = &InMemoryBackend{}

// NewInMemoryBackend creates an empty in-memory vector backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{rows: make(map[string]Row)}
}

func (b *InMemoryBackend) Upsert(_ context.Context, rows []Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("row without id")
		}
		b.rows[row.ID] = row
	}
	return nil
}

func (b *InMemoryBackend) Search(_ context.Context, vector []float32, match Match, limit int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hits := make([]Hit, 0, limit)
	for _, row := range b.rows {
		if !rowMatches(row, match) {
			continue
		}
		hits = append(hits, Hit{Row: row, Score: cosine(vector, row.Vector)})
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

func (b *InMemoryBackend) Query(_ context.Context, match Match, limit int) ([]Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := make([]Row, 0)
	for _, row := range b.rows {
		if !rowMatches(row, match) {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (b *InMemoryBackend) Delete(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range ids {
		delete(b.rows, id)
	}
	return nil
}

func (b *InMemoryBackend) ListIDs(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.rows))
	for id := range b.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *InMemoryBackend) Close(context.Context) error {
	return nil
}

func rowMatches(row Row, match Match) bool {
	for field, want := range match {
		got, ok := row.Fields[field]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
