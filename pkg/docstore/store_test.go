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

package docstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/memcore/pkg/docstore"
)

func newTestCollection(t *testing.T, schema *docstore.LiteSchema) *docstore.Collection {
	t.Helper()

	store, err := docstore.Open(t.Context(), docstore.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	coll, err := store.Collection(t.Context(), schema)
	require.NoError(t, err)
	return coll
}

func TestCollectionInsertAndFind(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	stored, err := coll.InsertOne(t.Context(), docstore.Document{
		"user_id":  "u1",
		"group_id": "g1",
		"keywords": []any{"travel", "paris"},
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID())
	require.NotNil(t, stored["created_at"])

	doc, found, err := coll.FindByID(t.Context(), stored.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u1", doc["user_id"])
	assert.Equal(t, []any{"travel", "paris"}, doc["keywords"])
}

func TestCollectionFindOrderingAndLimit(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := coll.InsertOne(t.Context(), docstore.Document{
			"user_id":    "u1",
			"group_id":   "g1",
			"timestamp":  base.Add(time.Duration(i) * time.Minute),
			"created_at": base.Add(time.Duration(i) * time.Minute),
		}, nil)
		require.NoError(t, err)
	}

	docs, err := coll.Find(t.Context(), docstore.Filter{"group_id": "g1"}, &docstore.FindOptions{
		Sort:  []docstore.SortField{{Field: "timestamp", Descending: true}},
		Limit: 3,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	first, ok := docs[0]["timestamp"].(time.Time)
	require.True(t, ok)
	assert.Equal(t, base.Add(4*time.Minute), first)
}

func TestCollectionFilterOperators(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	for _, user := range []string{"u1", "u2", "u3"} {
		_, err := coll.InsertOne(t.Context(), docstore.Document{
			"user_id":  user,
			"group_id": "g1",
		}, nil)
		require.NoError(t, err)
	}

	docs, err := coll.Find(t.Context(), docstore.Filter{
		"user_id": docstore.Filter{"$in": []any{"u1", "u3"}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = coll.Find(t.Context(), docstore.Filter{
		"user_id": docstore.Filter{"$ne": "u2"},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	count, err := coll.Count(t.Context(), docstore.Filter{
		"$or": []docstore.Filter{
			{"user_id": "u1"},
			{"user_id": "u2"},
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestCollectionRejectsUnknownField(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	_, err := coll.Find(t.Context(), docstore.Filter{
		"user_id":       "u",
		"unknown_field": 1,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_field")
}

func TestCollectionUpdateMany(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	a, err := coll.InsertOne(t.Context(), docstore.Document{"user_id": "u1", "group_id": "g1"}, nil)
	require.NoError(t, err)
	_, err = coll.InsertOne(t.Context(), docstore.Document{"user_id": "u2", "group_id": "g2"}, nil)
	require.NoError(t, err)

	affected, err := coll.UpdateMany(t.Context(),
		docstore.Filter{"group_id": "g1"},
		docstore.Document{"user_id": "changed"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	doc, found, err := coll.FindByID(t.Context(), a.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "changed", doc["user_id"])
}

func TestCollectionUniqueConstraint(t *testing.T) {
	schema := &docstore.LiteSchema{
		Name: "conversation_status",
		Indexed: []docstore.Field{
			{Name: "group_id", Type: docstore.TypeString},
		},
		UniqueIndexes: [][]string{{"group_id"}},
	}
	coll := newTestCollection(t, schema)

	_, err := coll.InsertOne(t.Context(), docstore.Document{"group_id": "g1"}, nil)
	require.NoError(t, err)

	_, err = coll.InsertOne(t.Context(), docstore.Document{"group_id": "g1"}, nil)
	require.Error(t, err)
}

func TestCollectionDeleteMany(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	for i := 0; i < 3; i++ {
		_, err := coll.InsertOne(t.Context(), docstore.Document{"user_id": "u1", "group_id": "g1"}, nil)
		require.NoError(t, err)
	}

	ids, err := coll.DeleteMany(t.Context(), docstore.Filter{"group_id": "g1"})
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	count, err := coll.Count(t.Context(), docstore.Filter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCollectionListIDsSince(t *testing.T) {
	coll := newTestCollection(t, testSchema())

	old := time.Now().UTC().Add(-72 * time.Hour)
	_, err := coll.InsertOne(t.Context(), docstore.Document{
		"user_id": "u-old", "created_at": old,
	}, nil)
	require.NoError(t, err)
	recent, err := coll.InsertOne(t.Context(), docstore.Document{"user_id": "u-new"}, nil)
	require.NoError(t, err)

	ids, err := coll.ListIDsSince(t.Context(), time.Now().UTC().Add(-24*time.Hour), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{recent.ID()}, ids)

	all, err := coll.ListIDsSince(t.Context(), time.Time{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
