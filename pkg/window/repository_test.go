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

package window_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/memcore/pkg/docstore"
	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/models"
	"github.com/lumora-ai/memcore/pkg/window"
)

func newTestRepository(t *testing.T) *window.LogRepository {
	t.Helper()

	store, err := docstore.Open(t.Context(), docstore.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	coll, err := store.Collection(t.Context(), models.RequestLogSchema)
	require.NoError(t, err)

	proxy := docstore.NewProxy(coll, kv.NewInMemoryStore(nil))
	return window.NewLogRepository(proxy)
}

func appendEntry(t *testing.T, repo *window.LogRepository, groupID, messageID string, at time.Time) docstore.Document {
	t.Helper()

	doc, err := repo.Append(t.Context(), docstore.Document{
		"group_id":            groupID,
		"request_id":          "r-" + messageID,
		"user_id":             "u1",
		"message_id":          messageID,
		"message_create_time": at,
		"created_at":          at,
		"content":             "msg " + messageID,
	})
	require.NoError(t, err)
	return doc
}

func TestAppendForcesLoggedStatus(t *testing.T) {
	repo := newTestRepository(t)

	doc, err := repo.Append(t.Context(), docstore.Document{
		"group_id":    "g1",
		"message_id":  "m1",
		"sync_status": models.SyncStatusConsumed, // ignored
	})
	require.NoError(t, err)
	assert.EqualValues(t, models.SyncStatusLogged, doc["sync_status"])

	_, err = repo.Append(t.Context(), docstore.Document{"message_id": "m2"})
	require.Error(t, err)
}

func TestConfirmAccumulationByMessageIDs(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "m1", base)
	appendEntry(t, repo, "g1", "m2", base.Add(time.Second))
	appendEntry(t, repo, "g2", "m1", base) // other group, same message id

	affected, err := repo.ConfirmAccumulationByMessageIDs(t.Context(), "g1", []string{"m1", "m2", "m9"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	// Replaying the confirmation is a no-op.
	affected, err = repo.ConfirmAccumulationByMessageIDs(t.Context(), "g1", []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestConfirmAccumulationByGroupID(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "m1", base)
	appendEntry(t, repo, "g1", "m2", base.Add(time.Second))

	affected, err := repo.ConfirmAccumulationByGroupID(t.Context(), "g1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)
}

func TestMarkAsUsedConsumesLoggedAndAccumulating(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "m1", base)
	appendEntry(t, repo, "g1", "m2", base.Add(time.Second))

	_, err := repo.ConfirmAccumulationByMessageIDs(t.Context(), "g1", []string{"m1"})
	require.NoError(t, err)

	// m1 is accumulating, m2 is still logged; both get consumed.
	affected, err := repo.MarkAsUsedByGroupID(t.Context(), "g1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	pending, err := repo.CountPending(t.Context(), "g1")
	require.NoError(t, err)
	assert.Zero(t, pending)

	// Consumed entries are terminal.
	affected, err = repo.MarkAsUsedByGroupID(t.Context(), "g1", nil)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestMarkAsUsedExcludesMessageIDs(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "m1", base)
	appendEntry(t, repo, "g1", "m2", base.Add(time.Second))
	appendEntry(t, repo, "g1", "m3", base.Add(2*time.Second))

	// m3 belongs to a window another request is still draining.
	affected, err := repo.MarkAsUsedByGroupID(t.Context(), "g1", []string{"m3"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	docs, err := repo.FetchUnprocessed(t.Context(), "g1", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "m3", docs[0]["message_id"])
}

func TestFetchUnprocessedOrdersByCreation(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "m2", base.Add(time.Second))
	appendEntry(t, repo, "g1", "m1", base)
	appendEntry(t, repo, "g1", "m3", base.Add(2*time.Second))

	_, err := repo.MarkAsUsedByGroupID(t.Context(), "g2", nil) // unrelated group
	require.NoError(t, err)

	docs, err := repo.FetchUnprocessed(t.Context(), "g1", 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "m1", docs[0]["message_id"])
	assert.Equal(t, "m2", docs[1]["message_id"])
	assert.Equal(t, "m3", docs[2]["message_id"])

	limited, err := repo.FetchUnprocessed(t.Context(), "g1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFetchByWindowHalfOpenRange(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "before", base.Add(-time.Minute))
	appendEntry(t, repo, "g1", "start", base)
	appendEntry(t, repo, "g1", "mid", base.Add(30*time.Second))
	appendEntry(t, repo, "g1", "end", base.Add(time.Minute))

	docs, err := repo.FetchByWindow(t.Context(), "g1", base, base.Add(time.Minute), 0, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "start", docs[0]["message_id"])
	assert.Equal(t, "mid", docs[1]["message_id"])
}

func TestFetchByWindowLimitAndExclude(t *testing.T) {
	repo := newTestRepository(t)

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	appendEntry(t, repo, "g1", "m1", base)
	appendEntry(t, repo, "g1", "m2", base.Add(time.Second))
	appendEntry(t, repo, "g1", "m3", base.Add(2*time.Second))

	docs, err := repo.FetchByWindow(t.Context(), "g1", base, base.Add(time.Minute), 0, []string{"m2"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "m1", docs[0]["message_id"])
	assert.Equal(t, "m3", docs[1]["message_id"])

	limited, err := repo.FetchByWindow(t.Context(), "g1", base, base.Add(time.Minute), 1, nil)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "m1", limited[0]["message_id"])
}
