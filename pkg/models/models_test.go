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

package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/memcore/pkg/models"
)

func TestAllSchemasValidate(t *testing.T) {
	schemas := models.AllSchemas()
	require.Len(t, schemas, 9)

	seen := map[string]bool{}
	for _, schema := range schemas {
		assert.NoError(t, schema.Validate(), "schema %q", schema.Name)
		assert.False(t, seen[schema.Name], "duplicate schema %q", schema.Name)
		seen[schema.Name] = true
	}
}

func TestRequestLogLiteProjection(t *testing.T) {
	fields := models.RequestLogSchema.LiteFieldSet()

	for _, name := range []string{
		"group_id", "request_id", "user_id", "message_id",
		"message_create_time", "sync_status",
	} {
		assert.True(t, fields.Has(name), "expected %q in lite set", name)
	}
	// Payload stays in the KV body only.
	assert.False(t, fields.Has("content"))
	assert.False(t, fields.Has("raw_input"))
}

func TestValidateScene(t *testing.T) {
	for _, scene := range []string{"assistant", "group", "personal"} {
		assert.NoError(t, models.ValidateScene(scene))
	}
	err := models.ValidateScene("party")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "party")
}

func TestDocumentRoundTrip(t *testing.T) {
	log := &models.RequestLog{
		GroupID:    "g1",
		RequestID:  "r1",
		UserID:     "u1",
		MessageID:  "m1",
		SyncStatus: models.SyncStatusLogged,
		Content:    "hello",
		ReferList:  []string{"m0"},
	}

	doc, err := models.ToDocument(log)
	require.NoError(t, err)
	assert.Equal(t, "g1", doc["group_id"])
	assert.Equal(t, "hello", doc["content"])
	// JSON numbers land as float64 in the map form.
	assert.EqualValues(t, -1, doc["sync_status"])

	var back models.RequestLog
	require.NoError(t, models.FromDocument(doc, &back))
	assert.Equal(t, log.GroupID, back.GroupID)
	assert.Equal(t, log.Content, back.Content)
	assert.Equal(t, models.SyncStatusLogged, back.SyncStatus)
	assert.Equal(t, []string{"m0"}, back.ReferList)
}
