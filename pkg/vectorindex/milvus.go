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
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/utils/env"
)

const (
	milvusFieldID     = "id"
	milvusFieldVector = "vector"
	milvusFieldMeta   = "meta"

	milvusMaxIDLength = 64
)

// MilvusConfig configures the Milvus-backed vector backend.
type MilvusConfig struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"-"`
	// Dim is the embedding dimensionality of the collection.
	Dim int `json:"dim"`
}

// MilvusConfigFromEnv reads MILVUS_ADDRESS and friends. Returns nil when
// no address is set.
func MilvusConfigFromEnv() *MilvusConfig {
	address := env.GetString("MILVUS_ADDRESS", "")
	if address == "" {
		return nil
	}
	return &MilvusConfig{
		Address:  address,
		Username: env.GetString("MILVUS_USERNAME", ""),
		Password: env.GetString("MILVUS_PASSWORD", ""),
		Dim:      env.GetInt("MILVUS_VECTOR_DIM", 1024),
	}
}

// MilvusBackend stores lite rows in one Milvus collection: a varchar
// primary key, the embedding, and the scalar lite fields packed into a
// JSON column.
type MilvusBackend struct {
	client     *milvusclient.Client
	collection string
	dim        int
}

var _ Backend = &MilvusBackend{}

// NewMilvusBackend connects and ensures the collection exists and is
// loaded.
func NewMilvusBackend(ctx context.Context, collection string, cfg *MilvusConfig) (*MilvusBackend, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("milvus address is required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("milvus vector dim must be positive, got %d", cfg.Dim)
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus at %q: %w", cfg.Address, err)
	}

	backend := &MilvusBackend{client: client, collection: collection, dim: cfg.Dim}
	if err := backend.ensureCollection(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}

	klog.FromContext(ctx).WithName("vectorindex").Info("connected to Milvus",
		"address", cfg.Address, "collection", collection, "dim", cfg.Dim)
	return backend, nil
}

func (b *MilvusBackend) ensureCollection(ctx context.Context) error {
	has, err := b.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(b.collection))
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", b.collection, err)
	}
	if has {
		return nil
	}

	schema := entity.NewSchema().
		WithName(b.collection).
		WithField(entity.NewField().
			WithName(milvusFieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(milvusMaxIDLength).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(milvusFieldVector).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(b.dim))).
		WithField(entity.NewField().
			WithName(milvusFieldMeta).
			WithDataType(entity.FieldTypeJSON))

	if err := b.client.CreateCollection(ctx,
		milvusclient.NewCreateCollectionOption(b.collection, schema)); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", b.collection, err)
	}

	indexTask, err := b.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(
		b.collection, milvusFieldVector, index.NewAutoIndex(entity.COSINE)))
	if err != nil {
		return fmt.Errorf("failed to create index on %q: %w", b.collection, err)
	}
	if err := indexTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to build index on %q: %w", b.collection, err)
	}

	loadTask, err := b.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(b.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection %q: %w", b.collection, err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to await load of %q: %w", b.collection, err)
	}
	return nil
}

func (b *MilvusBackend) Upsert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	ids := make([]string, 0, len(rows))
	vectors := make([][]float32, 0, len(rows))
	metas := make([][]byte, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("row without id")
		}
		meta, err := json.Marshal(row.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode lite fields for %q: %w", row.ID, err)
		}
		ids = append(ids, row.ID)
		vectors = append(vectors, row.Vector)
		metas = append(metas, meta)
	}

	_, err := b.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(b.collection,
		column.NewColumnVarChar(milvusFieldID, ids),
		column.NewColumnFloatVector(milvusFieldVector, b.dim, vectors),
		column.NewColumnJSONBytes(milvusFieldMeta, metas),
	))
	if err != nil {
		return fmt.Errorf("milvus upsert into %q failed: %w", b.collection, err)
	}
	return nil
}

func (b *MilvusBackend) Search(ctx context.Context, vector []float32, match Match, limit int) ([]Hit, error) {
	opt := milvusclient.NewSearchOption(b.collection, limit, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(milvusFieldVector).
		WithOutputFields(milvusFieldID, milvusFieldMeta)
	if expr := matchExpr(match); expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := b.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("milvus search in %q failed: %w", b.collection, err)
	}

	var hits []Hit
	for _, rs := range results {
		metaCol := rs.GetColumn(milvusFieldMeta)
		for i := 0; i < rs.IDs.Len(); i++ {
			id, err := rs.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("milvus search result id at %d: %w", i, err)
			}
			row := Row{ID: id}
			if metaCol != nil {
				if raw, err := metaCol.GetAsString(i); err == nil {
					_ = json.Unmarshal([]byte(raw), &row.Fields)
				}
			}
			hits = append(hits, Hit{Row: row, Score: rs.Scores[i]})
		}
	}
	return hits, nil
}

func (b *MilvusBackend) Query(ctx context.Context, match Match, limit int) ([]Row, error) {
	expr := matchExpr(match)
	if expr == "" {
		expr = fmt.Sprintf("%s != ''", milvusFieldID)
	}
	opt := milvusclient.NewQueryOption(b.collection).
		WithFilter(expr).
		WithOutputFields(milvusFieldID, milvusFieldMeta)
	if limit > 0 {
		opt = opt.WithLimit(limit)
	}

	rs, err := b.client.Query(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("milvus query in %q failed: %w", b.collection, err)
	}

	idCol := rs.GetColumn(milvusFieldID)
	metaCol := rs.GetColumn(milvusFieldMeta)
	if idCol == nil {
		return nil, nil
	}

	rows := make([]Row, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		id, err := idCol.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("milvus query result id at %d: %w", i, err)
		}
		row := Row{ID: id}
		if metaCol != nil {
			if raw, err := metaCol.GetAsString(i); err == nil {
				_ = json.Unmarshal([]byte(raw), &row.Fields)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *MilvusBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.client.Delete(ctx, milvusclient.NewDeleteOption(b.collection).
		WithStringIDs(milvusFieldID, ids))
	if err != nil {
		return fmt.Errorf("milvus delete from %q failed: %w", b.collection, err)
	}
	return nil
}

func (b *MilvusBackend) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := b.Query(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *MilvusBackend) Close(ctx context.Context) error {
	return b.client.Close(ctx)
}

// matchExpr renders a flat equality Match as a Milvus boolean expression
// over the JSON meta column. Keys are sorted for determinism.
func matchExpr(match Match) string {
	if len(match) == 0 {
		return ""
	}
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	for _, k := range keys {
		field := fmt.Sprintf("%s[%q]", milvusFieldMeta, k)
		if k == milvusFieldID {
			field = milvusFieldID
		}
		switch v := match[k].(type) {
		case string:
			terms = append(terms, fmt.Sprintf("%s == %q", field, v))
		case bool:
			terms = append(terms, fmt.Sprintf("%s == %t", field, v))
		default:
			terms = append(terms, fmt.Sprintf("%s == %v", field, v))
		}
	}
	return strings.Join(terms, " && ")
}
