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

package memcore_test

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/memcore/pkg/docstore"
	"github.com/lumora-ai/memcore/pkg/memcore"
	"github.com/lumora-ai/memcore/pkg/models"
)

func newTestService(t *testing.T, mutate func(*memcore.Config)) *memcore.Service {
	t.Helper()

	cfg := memcore.NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	service, err := memcore.NewService(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = service.Shutdown(t.Context())
	})
	return service
}

func TestServiceRegistersAllClasses(t *testing.T) {
	service := newTestService(t, nil)

	for _, schema := range models.AllSchemas() {
		assert.NotNil(t, service.Docstore(schema.Name), "class %q", schema.Name)
	}
	assert.NotNil(t, service.Vector(models.ClassEpisodicMemory))
	assert.NotNil(t, service.Text(models.ClassEventLog))
	assert.Nil(t, service.Vector(models.ClassRequestLog))
	assert.NotNil(t, service.Window())
	assert.NotNil(t, service.Validator())
	assert.Nil(t, service.Status())
}

func TestServiceEndToEndWrite(t *testing.T) {
	service := newTestService(t, nil)

	proxy := service.Docstore(models.ClassEpisodicMemory)
	inserted, err := proxy.Insert(t.Context(), docstore.Document{
		"user_id":  "u1",
		"group_id": "g1",
		"episode":  "full-only",
	})
	require.NoError(t, err)

	// The full body lands in the shared KV under the document id.
	_, ok, err := service.KV().Get(t.Context(), inserted.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	doc, found, err := proxy.GetByID(t.Context(), inserted.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "full-only", doc["episode"])
}

func TestServiceStatusChannelWiring(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	service := newTestService(t, func(cfg *memcore.Config) {
		cfg.StatusRedisAddress = server.Addr()
	})
	require.NotNil(t, service.Status())

	service.Status().MarkStart(t.Context(), "req-1", "/api/memorize", "POST")
	status, found, err := service.Status().Get(t.Context(), "req-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "start", status["status"])
}

func TestServiceWindowOverSharedStores(t *testing.T) {
	service := newTestService(t, nil)

	_, err := service.Window().Append(t.Context(), docstore.Document{
		"group_id":   "g1",
		"message_id": "m1",
	})
	require.NoError(t, err)

	pending, err := service.Window().CountPending(t.Context(), "g1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
}
