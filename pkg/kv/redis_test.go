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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/memcore/pkg/kv"
)

// createRedisStoreForTesting creates a RedisStore backed by a mock Redis
// server.
func createRedisStoreForTesting(t *testing.T) kv.Store {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Close()
	})

	store, err := kv.NewRedisStore(&kv.RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close(t.Context())
	})
	return store
}

func TestRedisStoreBehavior(t *testing.T) {
	testCommonStoreBehavior(t, createRedisStoreForTesting)
}
