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

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumora-ai/memcore/pkg/docstore"
)

// Sync status values of a raw request log entry. Transitions only ever
// increase: -1 -> 0 -> 1 or -1 -> 1.
const (
	SyncStatusLogged       = -1
	SyncStatusAccumulating = 0
	SyncStatusConsumed     = 1
)

// Scenes permitted on a conversation.
const (
	SceneAssistant = "assistant"
	SceneGroup     = "group"
	ScenePersonal  = "personal"
)

var allowedScenes = map[string]struct{}{
	SceneAssistant: {},
	SceneGroup:     {},
	ScenePersonal:  {},
}

// ValidateScene rejects scene values outside the allowed set.
func ValidateScene(scene string) error {
	if _, ok := allowedScenes[scene]; !ok {
		return fmt.Errorf("invalid scene %q: must be one of assistant, group, personal", scene)
	}
	return nil
}

// RequestLog is one raw ingested message in the per-group accumulation
// log.
type RequestLog struct {
	ID                string    `json:"id,omitempty"`
	GroupID           string    `json:"group_id"`
	RequestID         string    `json:"request_id"`
	UserID            string    `json:"user_id"`
	EventID           string    `json:"event_id,omitempty"`
	MessageID         string    `json:"message_id"`
	MessageCreateTime time.Time `json:"message_create_time,omitempty"`
	SyncStatus        int       `json:"sync_status"`

	// Full-only fields.
	Content     string         `json:"content,omitempty"`
	Sender      string         `json:"sender,omitempty"`
	SenderName  string         `json:"sender_name,omitempty"`
	Role        string         `json:"role,omitempty"`
	ReferList   []string       `json:"refer_list,omitempty"`
	RawInput    map[string]any `json:"raw_input,omitempty"`
	RawInputStr string         `json:"raw_input_str,omitempty"`
	Version     string         `json:"version,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Method      string         `json:"method,omitempty"`
	URL         string         `json:"url,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// EpisodicMemory is a derived long-term memory of one episode.
type EpisodicMemory struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"user_id"`
	GroupID        string    `json:"group_id"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	LinkedEntities []string  `json:"linked_entities,omitempty"`

	// Full-only fields.
	Title        string         `json:"title,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Subject      string         `json:"subject,omitempty"`
	Episode      string         `json:"episode,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Type         string         `json:"type,omitempty"`
	Extend       map[string]any `json:"extend,omitempty"`
	Vector       []float32      `json:"vector,omitempty"`
	VectorModel  string         `json:"vector_model,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// EventLogRecord is one atomic fact extracted from a parent document.
type EventLogRecord struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	ParentID   string    `json:"parent_id"`
	ParentType string    `json:"parent_type,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`

	// Full-only fields.
	AtomicFact   string         `json:"atomic_fact,omitempty"`
	UserName     string         `json:"user_name,omitempty"`
	GroupName    string         `json:"group_name,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	EventType    string         `json:"event_type,omitempty"`
	Extend       map[string]any `json:"extend,omitempty"`
	Vector       []float32      `json:"vector,omitempty"`
	VectorModel  string         `json:"vector_model,omitempty"`
}

// ForesightRecord is a prospective memory bounded by a validity window.
type ForesightRecord struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id"`
	ParentID   string    `json:"parent_id"`
	ParentType string    `json:"parent_type,omitempty"`
	StartTime  time.Time `json:"start_time,omitempty"`
	EndTime    time.Time `json:"end_time,omitempty"`

	// Full-only fields.
	Content      string         `json:"content,omitempty"`
	Evidence     string         `json:"evidence,omitempty"`
	UserName     string         `json:"user_name,omitempty"`
	GroupName    string         `json:"group_name,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	DurationDays int            `json:"duration_days,omitempty"`
	Extend       map[string]any `json:"extend,omitempty"`
	Vector       []float32      `json:"vector,omitempty"`
	VectorModel  string         `json:"vector_model,omitempty"`
}

// ConversationMeta describes a conversation group.
type ConversationMeta struct {
	ID      string `json:"id,omitempty"`
	GroupID string `json:"group_id"`
	Scene   string `json:"scene"`

	// Full-only fields.
	Name            string         `json:"name,omitempty"`
	Description     string         `json:"description,omitempty"`
	SceneDesc       string         `json:"scene_desc,omitempty"`
	UserDetails     map[string]any `json:"user_details,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	DefaultTimezone string         `json:"default_timezone,omitempty"`
	Version         string         `json:"version,omitempty"`
}

// ConversationStatus tracks the extraction watermarks of one group.
// Updates are last-write-wins per field.
type ConversationStatus struct {
	ID      string `json:"id,omitempty"`
	GroupID string `json:"group_id"`

	OldMsgStartTime time.Time `json:"old_msg_start_time,omitempty"`
	NewMsgStartTime time.Time `json:"new_msg_start_time,omitempty"`
	LastMemcellTime time.Time `json:"last_memcell_time,omitempty"`
}

// UserProfile is the derived profile of one user inside one group.
type UserProfile struct {
	ID      string `json:"id,omitempty"`
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id"`

	ProfileData        map[string]any `json:"profile_data,omitempty"`
	Scenario           string         `json:"scenario,omitempty"`
	Confidence         float64        `json:"confidence,omitempty"`
	Version            int            `json:"version,omitempty"`
	ClusterIDs         []int          `json:"cluster_ids,omitempty"`
	MemcellCount       int            `json:"memcell_count,omitempty"`
	LastUpdatedCluster int            `json:"last_updated_cluster,omitempty"`
}

// ClusterState is the clustering engine's persisted state for one group.
type ClusterState struct {
	ID      string `json:"id,omitempty"`
	GroupID string `json:"group_id"`

	EventIDs        []string         `json:"event_ids,omitempty"`
	Timestamps      []int64          `json:"timestamps,omitempty"`
	ClusterIDs      []int            `json:"cluster_ids,omitempty"`
	EventIDCluster  map[string]int   `json:"eventid_to_cluster,omitempty"`
	NextClusterIdx  int              `json:"next_cluster_idx,omitempty"`
	Centroids       [][]float32      `json:"cluster_centroids,omitempty"`
	ClusterCounts   map[string]int   `json:"cluster_counts,omitempty"`
	ClusterLastTS   map[string]int64 `json:"cluster_last_ts,omitempty"`
}

// CoreMemory is a versioned per-user core profile document.
type CoreMemory struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"user_id"`
	Version  int    `json:"version,omitempty"`
	IsLatest bool   `json:"is_latest,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ToDocument converts a typed entity to its map form via its JSON shape.
func ToDocument(entity any) (docstore.Document, error) {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	var doc docstore.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to build document: %w", err)
	}
	return doc, nil
}

// FromDocument converts a document back into the typed entity out points
// to.
func FromDocument(doc docstore.Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
