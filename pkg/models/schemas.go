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

// Package models declares the document classes of the memory service and
// their lite projections. Only the fields declared here are materialized in
// the document store; everything else lives in the KV's Full body.
package models

import (
	"github.com/lumora-ai/memcore/pkg/docstore"
)

// Class names. They double as document-store table names and as KV
// namespaces for the index shadows.
const (
	ClassRequestLog         = "raw_request_log"
	ClassEpisodicMemory     = "episodic_memory"
	ClassEventLog           = "event_log_record"
	ClassForesight          = "foresight_record"
	ClassConversationMeta   = "conversation_meta"
	ClassConversationStatus = "conversation_status"
	ClassUserProfile        = "user_profile"
	ClassClusterState       = "cluster_state"
	ClassCoreMemory         = "core_memory"
)

// RequestLogSchema is the accumulation log's document class. sync_status
// drives the window state machine: -1 logged, 0 accumulating, 1 consumed.
var RequestLogSchema = &docstore.LiteSchema{
	Name: ClassRequestLog,
	Indexed: []docstore.Field{
		{Name: "group_id", Type: docstore.TypeString},
		{Name: "request_id", Type: docstore.TypeString},
		{Name: "user_id", Type: docstore.TypeString},
		{Name: "event_id", Type: docstore.TypeString},
		{Name: "message_id", Type: docstore.TypeString},
		{Name: "message_create_time", Type: docstore.TypeTime},
		{Name: "sync_status", Type: docstore.TypeInt},
	},
	CompositeIndexes: [][]string{
		{"group_id", "sync_status"},
		{"group_id", "message_id"},
	},
}

// EpisodicMemorySchema holds derived episodic memories.
var EpisodicMemorySchema = &docstore.LiteSchema{
	Name: ClassEpisodicMemory,
	Indexed: []docstore.Field{
		{Name: "user_id", Type: docstore.TypeString},
		{Name: "group_id", Type: docstore.TypeString},
		{Name: "timestamp", Type: docstore.TypeTime},
		{Name: "keywords", Type: docstore.TypeJSON},
		{Name: "linked_entities", Type: docstore.TypeJSON},
	},
	CompositeIndexes: [][]string{{"user_id", "group_id"}},
	SoftDelete:       true,
}

// EventLogSchema holds atomic-fact event records derived from episodes.
var EventLogSchema = &docstore.LiteSchema{
	Name: ClassEventLog,
	Indexed: []docstore.Field{
		{Name: "user_id", Type: docstore.TypeString},
		{Name: "group_id", Type: docstore.TypeString},
		{Name: "parent_id", Type: docstore.TypeString},
		{Name: "parent_type", Type: docstore.TypeString},
		{Name: "timestamp", Type: docstore.TypeTime},
	},
	SoftDelete: true,
}

// ForesightSchema holds prospective-memory records. The parent reference is
// spelled parent_id everywhere.
var ForesightSchema = &docstore.LiteSchema{
	Name: ClassForesight,
	Indexed: []docstore.Field{
		{Name: "user_id", Type: docstore.TypeString},
		{Name: "group_id", Type: docstore.TypeString},
		{Name: "parent_id", Type: docstore.TypeString},
		{Name: "parent_type", Type: docstore.TypeString},
		{Name: "start_time", Type: docstore.TypeTime},
		{Name: "end_time", Type: docstore.TypeTime},
	},
	SoftDelete: true,
}

// ConversationMetaSchema describes a group conversation.
var ConversationMetaSchema = &docstore.LiteSchema{
	Name: ClassConversationMeta,
	Indexed: []docstore.Field{
		{Name: "group_id", Type: docstore.TypeString},
		{Name: "scene", Type: docstore.TypeString},
	},
	UniqueIndexes: [][]string{{"group_id"}},
}

// ConversationStatusSchema tracks per-group extraction watermarks. At most
// one row per group_id.
var ConversationStatusSchema = &docstore.LiteSchema{
	Name: ClassConversationStatus,
	Indexed: []docstore.Field{
		{Name: "group_id", Type: docstore.TypeString},
	},
	UniqueIndexes: [][]string{{"group_id"}},
}

// UserProfileSchema keeps one profile per (user_id, group_id).
var UserProfileSchema = &docstore.LiteSchema{
	Name: ClassUserProfile,
	Indexed: []docstore.Field{
		{Name: "user_id", Type: docstore.TypeString},
		{Name: "group_id", Type: docstore.TypeString},
	},
	UniqueIndexes: [][]string{{"user_id", "group_id"}},
}

// ClusterStateSchema keeps the clustering engine's state, one row per
// group_id.
var ClusterStateSchema = &docstore.LiteSchema{
	Name: ClassClusterState,
	Indexed: []docstore.Field{
		{Name: "group_id", Type: docstore.TypeString},
	},
	UniqueIndexes: [][]string{{"group_id"}},
}

// CoreMemorySchema keeps versioned per-user core profiles.
var CoreMemorySchema = &docstore.LiteSchema{
	Name: ClassCoreMemory,
	Indexed: []docstore.Field{
		{Name: "user_id", Type: docstore.TypeString},
	},
	QueryFields: []docstore.Field{
		{Name: "version", Type: docstore.TypeInt},
		{Name: "is_latest", Type: docstore.TypeBool},
	},
}

// AllSchemas lists every dual-stored document class. The lifespan
// orchestrator registers each of these with the document store, and the
// startup validator reconciles each of them.
func AllSchemas() []*docstore.LiteSchema {
	return []*docstore.LiteSchema{
		RequestLogSchema,
		EpisodicMemorySchema,
		EventLogSchema,
		ForesightSchema,
		ConversationMetaSchema,
		ConversationStatusSchema,
		UserProfileSchema,
		ClusterStateSchema,
		CoreMemorySchema,
	}
}
