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

// Package window manages the per-group message accumulation log and the
// request-status channel. The log is the staging area between raw ingest
// and memory extraction; sync_status tracks each entry through it.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/lumora-ai/memcore/pkg/docstore"
	"github.com/lumora-ai/memcore/pkg/models"
	"github.com/lumora-ai/memcore/pkg/utils"
)

// LogRepository runs the accumulation-log state machine over the
// raw_request_log class. Transitions only move forward: logged (-1) to
// accumulating (0) to consumed (1), or logged straight to consumed. The
// conditional predicates below make replays and races harmless.
type LogRepository struct {
	proxy *docstore.Proxy
}

// NewLogRepository wraps the raw_request_log dual proxy.
func NewLogRepository(proxy *docstore.Proxy) *LogRepository {
	return &LogRepository{proxy: proxy}
}

// Append records one raw message with sync_status logged. Callers cannot
// pick another initial state.
func (r *LogRepository) Append(ctx context.Context, entry docstore.Document) (docstore.Document, error) {
	if entry["group_id"] == nil || entry["group_id"] == "" {
		return nil, fmt.Errorf("request log entry requires group_id")
	}
	doc := make(docstore.Document, len(entry)+1)
	for k, v := range entry {
		doc[k] = v
	}
	doc["sync_status"] = models.SyncStatusLogged
	return r.proxy.Insert(ctx, doc)
}

// ConfirmAccumulationByMessageIDs moves the named messages of a group
// from logged to accumulating. Entries already past logged are left
// untouched.
func (r *LogRepository) ConfirmAccumulationByMessageIDs(ctx context.Context, groupID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	ids := utils.SliceMap(messageIDs, func(id string) any { return id })
	return r.proxy.UpdateMany(ctx, docstore.Filter{
		"group_id":    groupID,
		"message_id":  docstore.Filter{"$in": ids},
		"sync_status": models.SyncStatusLogged,
	}, docstore.Document{"sync_status": models.SyncStatusAccumulating})
}

// ConfirmAccumulationByGroupID moves every logged entry of a group to
// accumulating.
func (r *LogRepository) ConfirmAccumulationByGroupID(ctx context.Context, groupID string) (int64, error) {
	return r.proxy.UpdateMany(ctx, docstore.Filter{
		"group_id":    groupID,
		"sync_status": models.SyncStatusLogged,
	}, docstore.Document{"sync_status": models.SyncStatusAccumulating})
}

// MarkAsUsedByGroupID consumes every unconsumed entry of a group except
// the excluded message ids, which belong to windows still being drained.
// Logged entries jump straight to consumed; already-consumed entries are
// never touched again.
func (r *LogRepository) MarkAsUsedByGroupID(ctx context.Context, groupID string, excludeMessageIDs []string) (int64, error) {
	filter := docstore.Filter{
		"group_id": groupID,
		"sync_status": docstore.Filter{"$in": []any{
			models.SyncStatusLogged,
			models.SyncStatusAccumulating,
		}},
	}
	if len(excludeMessageIDs) > 0 {
		filter["message_id"] = docstore.Filter{
			"$nin": utils.SliceMap(excludeMessageIDs, func(id string) any { return id }),
		}
	}
	return r.proxy.UpdateMany(ctx, filter, docstore.Document{"sync_status": models.SyncStatusConsumed})
}

// FetchUnprocessed returns the group's unconsumed entries in insertion
// order, oldest first. limit <= 0 fetches everything.
func (r *LogRepository) FetchUnprocessed(ctx context.Context, groupID string, limit int) ([]docstore.Document, error) {
	return r.proxy.Find(ctx, docstore.Filter{
		"group_id": groupID,
		"sync_status": docstore.Filter{"$in": []any{
			models.SyncStatusLogged,
			models.SyncStatusAccumulating,
		}},
	}, &docstore.FindOptions{
		Sort:  []docstore.SortField{{Field: docstore.FieldCreatedAt}},
		Limit: limit,
	})
}

// FetchByWindow returns the group's entries created in [start, end), in
// insertion order, skipping the excluded message ids. limit <= 0 fetches
// everything in the window.
func (r *LogRepository) FetchByWindow(ctx context.Context, groupID string, start, end time.Time, limit int, excludeMessageIDs []string) ([]docstore.Document, error) {
	filter := docstore.Filter{
		"group_id": groupID,
		docstore.FieldCreatedAt: docstore.Filter{
			"$gte": start,
			"$lt":  end,
		},
	}
	if len(excludeMessageIDs) > 0 {
		filter["message_id"] = docstore.Filter{
			"$nin": utils.SliceMap(excludeMessageIDs, func(id string) any { return id }),
		}
	}
	return r.proxy.Find(ctx, filter, &docstore.FindOptions{
		Sort:  []docstore.SortField{{Field: docstore.FieldCreatedAt}},
		Limit: limit,
	})
}

// CountPending counts the group's unconsumed entries.
func (r *LogRepository) CountPending(ctx context.Context, groupID string) (int64, error) {
	return r.proxy.Count(ctx, docstore.Filter{
		"group_id":    groupID,
		"sync_status": docstore.Filter{"$ne": models.SyncStatusConsumed},
	})
}
