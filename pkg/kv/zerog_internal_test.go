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

package kv

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKVLinesRoundTrip(t *testing.T) {
	// Compact JSON exactly as the writer submits it: base64 keeps newlines
	// and commas off the wire.
	original := `{"id":"42","summary":"a,b\nc"}`
	line := "doc:42," + base64.StdEncoding.EncodeToString([]byte(original)) + "\n"

	var gotKey string
	var gotValue []byte
	err := parseKVLines([]byte(line), func(key string, value []byte) bool {
		gotKey = key
		gotValue = value
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, "doc:42", gotKey)
	assert.Equal(t, original, string(gotValue))
}

func TestParseKVLinesSkipsTombstones(t *testing.T) {
	raw := "gone,\nlive," + base64.StdEncoding.EncodeToString([]byte("v")) + "\n"

	var keys []string
	err := parseKVLines([]byte(raw), func(key string, _ []byte) bool {
		keys = append(keys, key)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, keys)
}

func TestParseKVLinesMalformed(t *testing.T) {
	err := parseKVLines([]byte("no-separator-here\n"), func(string, []byte) bool {
		return true
	})
	require.Error(t, err)
}

func TestZeroGConfigValidation(t *testing.T) {
	t.Setenv(walletKeyEnvVar, "")

	_, err := NewZeroGStore(t.Context(), &ZeroGConfig{
		Nodes:    []string{"http://node-a"},
		ReadNode: "http://read",
		RPCURL:   "http://rpc",
		StreamID: "stream-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), walletKeyEnvVar)

	_, err = NewZeroGStore(t.Context(), &ZeroGConfig{})
	require.Error(t, err)
}
