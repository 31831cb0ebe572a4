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

package datasync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/utils"
)

func decodeBody(ctx context.Context, value []byte, docType, id string, res *SyncResult) (map[string]any, bool) {
	var doc map[string]any
	if err := json.Unmarshal(value, &doc); err != nil {
		klog.FromContext(ctx).Error(err, "failed to decode KV body",
			"doc_type", docType, "id", id)
		res.ErrorCount++
		return nil, false
	}
	return doc, true
}

// inScope keeps a body inside the last-N-days window. Bodies without a
// parsable creation stamp are always in scope.
func inScope(doc map[string]any, since time.Time) bool {
	if since.IsZero() {
		return true
	}
	for _, field := range []string{"created_at", "timestamp"} {
		raw, ok := doc[field].(string)
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		return !ts.Before(since)
	}
	return true
}

// vectorFromDoc pulls the embedding out of a decoded JSON body, if any.
// A body with a malformed vector yields nil and is reindexed vectorless.
func vectorFromDoc(doc map[string]any) []float32 {
	raw, ok := doc["vector"].([]any)
	if !ok {
		return nil
	}
	vec, err := utils.SliceMapE(raw, func(v any) (float32, error) {
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("vector element is %T, not a number", v)
		}
		return float32(f), nil
	})
	if err != nil {
		return nil
	}
	return vec
}
