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

package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/kv"
	"github.com/lumora-ai/memcore/pkg/metrics"
	"github.com/lumora-ai/memcore/pkg/utils/logging"
)

// Proxy enforces the dual-storage discipline for one document class: lite
// rows go to the document store, the complete body goes to the KV under the
// document's id. Repositories hold a Proxy and never touch the collection
// or the KV directly.
//
// The two writes of one logical write are sequential, lite first, and are
// not atomic; a failure after the lite write leaves drift for the startup
// validator to repair.
type Proxy struct {
	coll *Collection
	kv   kv.Store
}

// NewProxy wraps a collection and the primary KV.
func NewProxy(coll *Collection, store kv.Store) *Proxy {
	return &Proxy{coll: coll, kv: store}
}

// Collection exposes the underlying lite collection. Reads through it see
// lite rows only; the startup validator uses this deliberately.
func (p *Proxy) Collection() *Collection {
	return p.coll
}

// Schema returns the class declaration.
func (p *Proxy) Schema() *LiteSchema {
	return p.coll.Schema()
}

// Insert writes the lite projection to the document store, copies the
// minted id and audit timestamps back onto the document, then writes the
// complete body to the KV at key id.
func (p *Proxy) Insert(ctx context.Context, doc Document) (Document, error) {
	schema := p.coll.Schema()
	lite := ExtractLite(doc, schema.LiteFieldSet())

	full := make(Document, len(doc))
	for k, v := range doc {
		full[k] = v
	}

	stored, err := p.coll.InsertOne(ctx, lite, nil)
	if err != nil {
		return nil, err
	}

	// Copy the store-assigned system fields back onto the full document.
	full[FieldID] = stored[FieldID]
	full[FieldCreatedAt] = stored[FieldCreatedAt]
	full[FieldUpdatedAt] = stored[FieldUpdatedAt]
	full[FieldRevisionID] = stored[FieldRevisionID]
	full[FieldDocClass] = schema.Name

	body, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("class %q: failed to encode full body: %w", schema.Name, err)
	}
	_ = p.coll.SetFullBody(ctx, stored.ID(), body)

	if err := p.kv.Put(ctx, stored.ID(), body); err != nil {
		// The lite row is not rolled back; the validator heals the drift.
		klog.FromContext(ctx).Error(err, "failed to write full body to KV",
			"class", schema.Name, "id", stored.ID())
		metrics.DriftDetected.WithLabelValues("docstore").Inc()
		return nil, fmt.Errorf("class %q: KV write for %q failed: %w", schema.Name, stored.ID(), err)
	}

	return full, nil
}

// GetByID materializes the full document for id. Absent lite row, or a
// lite row whose KV body is missing (drift), both read as absent.
func (p *Proxy) GetByID(ctx context.Context, id string) (Document, bool, error) {
	_, found, err := p.coll.FindByID(ctx, id)
	if err != nil || !found {
		return nil, false, err
	}

	body, ok, err := p.kv.Get(ctx, id)
	if err != nil {
		klog.FromContext(ctx).Error(err, "KV read failed",
			"class", p.coll.Schema().Name, "id", id)
		return nil, false, nil
	}
	if !ok {
		p.logDrift(ctx, id)
		return nil, false, nil
	}

	doc, err := decodeFullBody(body)
	if err != nil {
		klog.FromContext(ctx).Error(err, "failed to decode full body",
			"class", p.coll.Schema().Name, "id", id)
		return nil, false, nil
	}
	return doc, true, nil
}

// FindOne materializes the first full document matching filter.
func (p *Proxy) FindOne(ctx context.Context, filter Filter) (Document, bool, error) {
	docs, err := p.Find(ctx, filter, &FindOptions{Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Find runs the filter on the document store, joins the lite hits with one
// KV batch lookup, and returns full documents in the document-store's
// order. Lite hits whose KV body is missing are dropped and logged as
// drift. Query-field validation runs before any SQL is issued and its
// failure is fatal to the call.
func (p *Proxy) Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error) {
	ids, err := p.coll.FindIDs(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodies, err := p.kv.BatchGet(ctx, ids)
	if err != nil {
		klog.FromContext(ctx).Error(err, "KV batch read failed",
			"class", p.coll.Schema().Name, "count", len(ids))
		return nil, nil
	}

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		body, ok := bodies[id]
		if !ok {
			p.logDrift(ctx, id)
			continue
		}
		doc, err := decodeFullBody(body)
		if err != nil {
			klog.FromContext(ctx).Error(err, "failed to decode full body",
				"class", p.coll.Schema().Name, "id", id)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Count counts lite rows matching filter.
func (p *Proxy) Count(ctx context.Context, filter Filter) (int64, error) {
	return p.coll.Count(ctx, filter)
}

// UpdateByID applies set to the lite row and merges it into the KV body.
func (p *Proxy) UpdateByID(ctx context.Context, id string, set Document) (bool, error) {
	updated, err := p.coll.UpdateByID(ctx, id, set)
	if err != nil || !updated {
		return updated, err
	}
	p.mergeIntoKV(ctx, []string{id}, set)
	return true, nil
}

// UpdateMany applies set to every row matching filter, then merges set into
// each affected KV body.
func (p *Proxy) UpdateMany(ctx context.Context, filter Filter, set Document) (int64, error) {
	ids, err := p.coll.FindIDs(ctx, filter, nil)
	if err != nil {
		return 0, err
	}
	affected, err := p.coll.UpdateMany(ctx, filter, set)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		p.mergeIntoKV(ctx, ids, set)
	}
	return affected, nil
}

// Upsert inserts doc; on a unique-constraint violation it re-finds the row
// by uniqueFilter and updates it in place. The row id is stable across
// updates.
func (p *Proxy) Upsert(ctx context.Context, uniqueFilter Filter, doc Document) (Document, error) {
	inserted, err := p.Insert(ctx, doc)
	if err == nil {
		return inserted, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}

	existing, found, findErr := p.coll.FindOne(ctx, uniqueFilter)
	if findErr != nil {
		return nil, findErr
	}
	if !found {
		// The conflicting row vanished between the insert and the re-find;
		// surface the original violation.
		return nil, err
	}

	set := make(Document, len(doc))
	for k, v := range doc {
		if isSystemField(k) {
			continue
		}
		set[k] = v
	}
	liteSet := ExtractLite(set, p.coll.Schema().LiteFieldSet())
	if _, updateErr := p.coll.UpdateByID(ctx, existing.ID(), liteSet); updateErr != nil {
		return nil, updateErr
	}
	p.mergeIntoKV(ctx, []string{existing.ID()}, set)

	merged, _, getErr := p.GetByID(ctx, existing.ID())
	if getErr != nil {
		return nil, getErr
	}
	return merged, nil
}

// RebuildFromBody reinserts the lite projection of a stored KV body whose
// lite row was lost. The body's id and creation stamp are preserved; the
// revision id is re-minted. The startup validator is the only caller.
func (p *Proxy) RebuildFromBody(ctx context.Context, body []byte) (Document, error) {
	doc, err := decodeFullBody(body)
	if err != nil {
		return nil, fmt.Errorf("class %q: failed to decode body for rebuild: %w",
			p.coll.Schema().Name, err)
	}
	lite := ExtractLite(doc, p.coll.Schema().LiteFieldSet())
	return p.coll.InsertOne(ctx, lite, body)
}

// DeleteByID removes the lite row first, the KV body second. A crash in
// between leaves an orphaned KV body; deletion intents are not tracked.
func (p *Proxy) DeleteByID(ctx context.Context, id string) (bool, error) {
	removed, err := p.coll.DeleteByID(ctx, id)
	if err != nil || !removed {
		return removed, err
	}
	if _, err := p.kv.Delete(ctx, id); err != nil {
		klog.FromContext(ctx).Error(err, "failed to delete full body from KV",
			"class", p.coll.Schema().Name, "id", id)
	}
	return true, nil
}

// DeleteMany removes every row matching filter, then their KV bodies.
func (p *Proxy) DeleteMany(ctx context.Context, filter Filter) (int, error) {
	ids, err := p.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := p.kv.BatchDelete(ctx, ids); err != nil {
		klog.FromContext(ctx).Error(err, "failed to batch-delete full bodies from KV",
			"class", p.coll.Schema().Name, "count", len(ids))
	}
	return len(ids), nil
}

// SoftDelete stamps the soft-delete markers instead of removing the row.
func (p *Proxy) SoftDelete(ctx context.Context, id, deletedBy string) (bool, error) {
	if !p.coll.Schema().SoftDelete {
		return false, fmt.Errorf("class %q does not declare soft delete", p.coll.Schema().Name)
	}
	return p.UpdateByID(ctx, id, Document{
		FieldDeletedAt: time.Now().UTC(),
		FieldDeletedBy: deletedBy,
		FieldDeletedID: id,
	})
}

// Restore clears the soft-delete markers.
func (p *Proxy) Restore(ctx context.Context, id string) (bool, error) {
	if !p.coll.Schema().SoftDelete {
		return false, fmt.Errorf("class %q does not declare soft delete", p.coll.Schema().Name)
	}
	return p.UpdateByID(ctx, id, Document{
		FieldDeletedAt: nil,
		FieldDeletedBy: nil,
		FieldDeletedID: nil,
	})
}

// HardDelete removes a soft-deletable row for good.
func (p *Proxy) HardDelete(ctx context.Context, id string) (bool, error) {
	return p.DeleteByID(ctx, id)
}

// mergeIntoKV folds set into each id's stored full body. Bodies that are
// missing are drift; they are logged and skipped.
func (p *Proxy) mergeIntoKV(ctx context.Context, ids []string, set Document) {
	if len(ids) == 0 {
		return
	}

	bodies, err := p.kv.BatchGet(ctx, ids)
	if err != nil {
		klog.FromContext(ctx).Error(err, "KV batch read failed during merge",
			"class", p.coll.Schema().Name, "count", len(ids))
		return
	}

	now := time.Now().UTC()
	for _, id := range ids {
		body, ok := bodies[id]
		if !ok {
			p.logDrift(ctx, id)
			continue
		}
		doc, err := decodeFullBody(body)
		if err != nil {
			klog.FromContext(ctx).Error(err, "failed to decode full body during merge",
				"class", p.coll.Schema().Name, "id", id)
			continue
		}
		for k, v := range set {
			if v == nil {
				delete(doc, k)
				continue
			}
			doc[k] = v
		}
		doc[FieldUpdatedAt] = now

		merged, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		_ = p.coll.SetFullBody(ctx, id, merged)
		if err := p.kv.Put(ctx, id, merged); err != nil {
			klog.FromContext(ctx).Error(err, "failed to write merged body to KV",
				"class", p.coll.Schema().Name, "id", id)
		}
	}
}

func (p *Proxy) logDrift(ctx context.Context, id string) {
	klog.FromContext(ctx).V(logging.DEFAULT).Error(nil, "drift: lite row present but KV body missing",
		"class", p.coll.Schema().Name, "id", id)
	metrics.DriftDetected.WithLabelValues("docstore").Inc()
}

func decodeFullBody(body []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	// JSON timestamps come back as strings; keep them typed for callers.
	for _, name := range []string{FieldCreatedAt, FieldUpdatedAt, FieldDeletedAt} {
		if raw, ok := doc[name].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				doc[name] = ts
			}
		}
	}
	return doc, nil
}
