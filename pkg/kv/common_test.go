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

package kv_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/memcore/pkg/kv"
)

// testCommonStoreBehavior runs the shared behavior suite against a backend.
func testCommonStoreBehavior(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()

	t.Run("put then get", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "k1", []byte(`{"a":1}`)))

		value, ok, err := store.Get(t.Context(), "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`{"a":1}`), value)
	})

	t.Run("put overwrites", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "k1", []byte("v1")))
		require.NoError(t, store.Put(t.Context(), "k1", []byte("v2")))

		value, ok, err := store.Get(t.Context(), "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v2"), value)
	})

	t.Run("get missing is absent", func(t *testing.T) {
		store := newStore(t)

		_, ok, err := store.Get(t.Context(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "k1", []byte("v1")))

		removed, err := store.Delete(t.Context(), "k1")
		require.NoError(t, err)
		assert.True(t, removed)

		_, ok, err := store.Get(t.Context(), "k1")
		require.NoError(t, err)
		assert.False(t, ok)

		removed, err = store.Delete(t.Context(), "k1")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("batch get omits missing keys", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "a", []byte("1")))
		require.NoError(t, store.Put(t.Context(), "b", []byte("2")))

		values, err := store.BatchGet(t.Context(), []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{
			"a": []byte("1"),
			"b": []byte("2"),
		}, values)
	})

	t.Run("empty batches", func(t *testing.T) {
		store := newStore(t)

		values, err := store.BatchGet(t.Context(), nil)
		require.NoError(t, err)
		assert.Empty(t, values)

		removed, err := store.BatchDelete(t.Context(), nil)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("batch delete counts removals", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "a", []byte("1")))
		require.NoError(t, store.Put(t.Context(), "b", []byte("2")))

		removed, err := store.BatchDelete(t.Context(), []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
	})

	t.Run("iterate yields live pairs", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "a", []byte("1")))
		require.NoError(t, store.Put(t.Context(), "b", []byte("2")))
		require.NoError(t, store.Put(t.Context(), "c", []byte("3")))
		_, err := store.Delete(t.Context(), "b")
		require.NoError(t, err)

		var keys []string
		err = store.Iterate(t.Context(), func(key string, value []byte) bool {
			keys = append(keys, key)
			return true
		})
		require.NoError(t, err)

		sort.Strings(keys)
		assert.Equal(t, []string{"a", "c"}, keys)
	})

	t.Run("iterate on empty store yields nothing", func(t *testing.T) {
		store := newStore(t)

		count := 0
		err := store.Iterate(t.Context(), func(string, []byte) bool {
			count++
			return true
		})
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("iterate stop", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Put(t.Context(), "a", []byte("1")))
		require.NoError(t, store.Put(t.Context(), "b", []byte("2")))

		count := 0
		err := store.Iterate(t.Context(), func(string, []byte) bool {
			count++
			return false
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
