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

package vectorindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/vectorindex"
)

func newTestProxy(t *testing.T, cacheSize int) (*vectorindex.Proxy, kv.Store) {
	t.Helper()

	store := kv.NewInMemoryStore(nil)
	proxy, err := vectorindex.NewProxy(vectorindex.NewInMemoryBackend(), store,
		"episodic_memory", sets.New("user_id", "group_id"), cacheSize)
	require.NoError(t, err)
	return proxy, store
}

func TestProxyInsertAndSearch(t *testing.T) {
	proxy, store := newTestProxy(t, 0)

	id, err := proxy.Insert(t.Context(), "", []float32{1, 0},
		map[string]any{"user_id": "u1", "group_id": "g1", "episode": "full-only"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The body sits under the namespaced key, not the bare id.
	_, ok, err := store.Get(t.Context(), "episodic_memory:"+id)
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := proxy.Search(t.Context(), []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "full-only", results[0].Document["episode"])
	assert.Equal(t, id, results[0].Document["id"])
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestProxySearchRanksBySimilarity(t *testing.T) {
	proxy, _ := newTestProxy(t, 0)

	_, err := proxy.Insert(t.Context(), "near", []float32{1, 0},
		map[string]any{"user_id": "u1", "episode": "near"})
	require.NoError(t, err)
	_, err = proxy.Insert(t.Context(), "far", []float32{0, 1},
		map[string]any{"user_id": "u1", "episode": "far"})
	require.NoError(t, err)

	results, err := proxy.Search(t.Context(), []float32{1, 0.1}, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Document["episode"])
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestProxySearchAppliesMatch(t *testing.T) {
	proxy, _ := newTestProxy(t, 0)

	for _, user := range []string{"u1", "u2"} {
		_, err := proxy.Insert(t.Context(), "", []float32{1, 0},
			map[string]any{"user_id": user, "group_id": "g1"})
		require.NoError(t, err)
	}

	results, err := proxy.Search(t.Context(), []float32{1, 0},
		vectorindex.Match{"user_id": "u2"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "u2", results[0].Document["user_id"])
}

func TestProxyDriftDegradesToLiteRow(t *testing.T) {
	proxy, store := newTestProxy(t, 0)

	id, err := proxy.Insert(t.Context(), "", []float32{1, 0},
		map[string]any{"user_id": "u1", "episode": "full-only"})
	require.NoError(t, err)

	// Remove the KV body behind the proxy's back.
	_, err = store.Delete(t.Context(), "episodic_memory:"+id)
	require.NoError(t, err)

	results, err := proxy.Search(t.Context(), []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// The lite row survives; the full-only field is gone.
	assert.Equal(t, "u1", results[0].Document["user_id"])
	assert.NotContains(t, results[0].Document, "episode")
}

func TestProxyCacheServesEvictedKV(t *testing.T) {
	proxy, store := newTestProxy(t, 8)

	id, err := proxy.Insert(t.Context(), "", []float32{1, 0},
		map[string]any{"user_id": "u1", "episode": "cached"})
	require.NoError(t, err)

	_, err = store.Delete(t.Context(), "episodic_memory:"+id)
	require.NoError(t, err)

	// The body still materializes from the read cache.
	results, err := proxy.Search(t.Context(), []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cached", results[0].Document["episode"])
}

func TestProxyDeleteRemovesBothStores(t *testing.T) {
	proxy, store := newTestProxy(t, 0)

	id, err := proxy.Insert(t.Context(), "", []float32{1, 0},
		map[string]any{"user_id": "u1"})
	require.NoError(t, err)

	require.NoError(t, proxy.Delete(t.Context(), []string{id}))

	ids, err := proxy.Backend().ListIDs(t.Context())
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, ok, err := store.Get(t.Context(), "episodic_memory:"+id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProxyQueryWithoutVector(t *testing.T) {
	proxy, _ := newTestProxy(t, 0)

	_, err := proxy.Insert(t.Context(), "a", []float32{1, 0},
		map[string]any{"user_id": "u1", "group_id": "g1"})
	require.NoError(t, err)
	_, err = proxy.Insert(t.Context(), "b", []float32{0, 1},
		map[string]any{"user_id": "u1", "group_id": "g2"})
	require.NoError(t, err)

	docs, err := proxy.Query(t.Context(), vectorindex.Match{"group_id": "g2"}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0]["id"])
}
