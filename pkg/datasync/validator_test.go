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

package datasync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/lumora-ai/memcore/pkg/datasync"
	"github.com/lumora-ai/memcore/pkg/docstore"
	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/models"
	"github.com/lumora-ai/memcore/pkg/textindex"
	"github.com/lumora-ai/memcore/pkg/vectorindex"
)

func newDocstoreProxy(t *testing.T, store kv.Store) *docstore.Proxy {
	t.Helper()

	ds, err := docstore.Open(t.Context(), docstore.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ds.Close()
	})

	coll, err := ds.Collection(t.Context(), models.EpisodicMemorySchema)
	require.NoError(t, err)
	return docstore.NewProxy(coll, store)
}

func resultFor(results []datasync.SyncResult, target string) *datasync.SyncResult {
	for i := range results {
		if results[i].Target == target {
			return &results[i]
		}
	}
	return nil
}

func TestValidatorCleanRun(t *testing.T) {
	store := kv.NewInMemoryStore(nil)
	proxy := newDocstoreProxy(t, store)

	_, err := proxy.Insert(t.Context(), docstore.Document{"user_id": "u1", "group_id": "g1"})
	require.NoError(t, err)

	validator := datasync.NewValidator(datasync.NewDefaultConfig(), store)
	validator.RegisterDocstore(proxy)

	results := validator.Run(t.Context())
	require.Len(t, results, 1)
	assert.Equal(t, "docstore", results[0].Target)
	assert.Equal(t, models.ClassEpisodicMemory, results[0].DocType)
	assert.Equal(t, 1, results[0].TotalChecked)
	assert.Zero(t, results[0].MissingCount)
	assert.Zero(t, results[0].ErrorCount)
}

func TestValidatorReportsMissingKVBody(t *testing.T) {
	store := kv.NewInMemoryStore(nil)
	proxy := newDocstoreProxy(t, store)

	inserted, err := proxy.Insert(t.Context(), docstore.Document{"user_id": "u1"})
	require.NoError(t, err)
	_, err = store.Delete(t.Context(), inserted.ID())
	require.NoError(t, err)

	validator := datasync.NewValidator(datasync.NewDefaultConfig(), store)
	validator.RegisterDocstore(proxy)

	results := validator.Run(t.Context())
	require.Len(t, results, 1)
	// Missing bodies are reported, never fabricated.
	assert.Equal(t, 1, results[0].MissingCount)
	assert.Equal(t, 1, results[0].ErrorCount)
	assert.Zero(t, results[0].SyncedCount)
}

func TestValidatorRebuildsLiteRows(t *testing.T) {
	store := kv.NewInMemoryStore(nil)
	proxy := newDocstoreProxy(t, store)

	inserted, err := proxy.Insert(t.Context(), docstore.Document{
		"user_id":  "u1",
		"group_id": "g1",
		"episode":  "full body survives",
	})
	require.NoError(t, err)

	// Drop the lite row; the KV body survives.
	removed, err := proxy.Collection().DeleteByID(t.Context(), inserted.ID())
	require.NoError(t, err)
	require.True(t, removed)

	validator := datasync.NewValidator(datasync.NewDefaultConfig(), store)
	validator.RegisterDocstore(proxy)

	results := validator.Run(t.Context())
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].MissingCount)
	assert.Equal(t, 1, results[0].SyncedCount)
	assert.Zero(t, results[0].ErrorCount)

	// The document reads whole again, body and lite row agreeing.
	doc, found, err := proxy.GetByID(t.Context(), inserted.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "full body survives", doc["episode"])
	assert.Equal(t, inserted[docstore.FieldCreatedAt], doc[docstore.FieldCreatedAt])
}

func TestValidatorRebuildsVectorRows(t *testing.T) {
	store := kv.NewInMemoryStore(nil)
	backend := vectorindex.NewInMemoryBackend()
	proxy, err := vectorindex.NewProxy(backend, store, "episodic_memory",
		sets.New("user_id", "group_id"), 0)
	require.NoError(t, err)

	id, err := proxy.Insert(t.Context(), "", []float32{1, 0},
		map[string]any{"user_id": "u1", "group_id": "g1", "vector": []float32{1, 0}})
	require.NoError(t, err)

	// Drop the index row; the KV body survives.
	require.NoError(t, backend.Delete(t.Context(), []string{id}))

	validator := datasync.NewValidator(datasync.NewDefaultConfig(), store)
	validator.RegisterVector(proxy)

	results := validator.Run(t.Context())
	res := resultFor(results, "vector")
	require.NotNil(t, res)
	assert.Equal(t, 1, res.MissingCount)
	assert.Equal(t, 1, res.SyncedCount)
	assert.Zero(t, res.ErrorCount)

	ids, err := backend.ListIDs(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)

	// The rebuilt row carries the lite fields.
	rows, err := backend.Query(t.Context(), vectorindex.Match{"user_id": "u1"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestValidatorRebuildsTextDocs(t *testing.T) {
	store := kv.NewInMemoryStore(nil)
	backend := textindex.NewInMemoryBackend()
	proxy, err := textindex.NewProxy(backend, store, "event_log_record",
		"atomic_fact", sets.New("user_id"), 0)
	require.NoError(t, err)

	id, err := proxy.Insert(t.Context(), "", map[string]any{
		"user_id":     "u1",
		"atomic_fact": "likes coffee",
	})
	require.NoError(t, err)

	require.NoError(t, backend.Delete(t.Context(), []string{id}))

	validator := datasync.NewValidator(datasync.NewDefaultConfig(), store)
	validator.RegisterText(proxy)

	results := validator.Run(t.Context())
	res := resultFor(results, "text")
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SyncedCount)

	hits, err := backend.Search(t.Context(), "coffee", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
}

func TestValidatorSkipsWhenDisabled(t *testing.T) {
	store := kv.NewInMemoryStore(nil)
	proxy := newDocstoreProxy(t, store)

	cfg := datasync.NewDefaultConfig()
	cfg.Enabled = false
	validator := datasync.NewValidator(cfg, store)
	validator.RegisterDocstore(proxy)
	assert.Nil(t, validator.Run(t.Context()))

	cfg = datasync.NewDefaultConfig()
	cfg.BootstrapMode = true
	validator = datasync.NewValidator(cfg, store)
	validator.RegisterDocstore(proxy)
	assert.Nil(t, validator.Run(t.Context()))
}

func TestValidatorGatesIndexPasses(t *testing.T) {
	store := kv.NewInMemoryStore(nil)

	vecProxy, err := vectorindex.NewProxy(vectorindex.NewInMemoryBackend(), store,
		"episodic_memory", sets.New("user_id"), 0)
	require.NoError(t, err)
	textProxy, err := textindex.NewProxy(textindex.NewInMemoryBackend(), store,
		"event_log_record", "atomic_fact", sets.New("user_id"), 0)
	require.NoError(t, err)

	cfg := datasync.NewDefaultConfig()
	cfg.VectorEnabled = false
	cfg.TextEnabled = false

	validator := datasync.NewValidator(cfg, store)
	validator.RegisterVector(vecProxy)
	validator.RegisterText(textProxy)

	assert.Empty(t, validator.Run(t.Context()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("STARTUP_SYNC_ENABLED", "false")
	t.Setenv("STARTUP_SYNC_DAYS", "7")
	t.Setenv("STARTUP_SYNC_MILVUS", "false")
	t.Setenv("BOOTSTRAP_MODE", "true")

	cfg := datasync.ConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.BootstrapMode)
	assert.Equal(t, 7, cfg.Days)
	assert.False(t, cfg.VectorEnabled)
	assert.True(t, cfg.TextEnabled)
}
