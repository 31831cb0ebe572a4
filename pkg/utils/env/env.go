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

// Package env provides typed access to environment variables.
// Configuration for this module is environment-only; there is no config
// file surface.
package env

import (
	"os"
	"strings"

	"github.com/spf13/cast"
)

// GetString returns the value of the named variable, or def when unset or
// empty.
func GetString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

// GetBool parses the named variable as a boolean, returning def when unset
// or unparsable.
func GetBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	parsed, err := cast.ToBoolE(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

// GetInt parses the named variable as an integer, returning def when unset
// or unparsable.
func GetInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	parsed, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

// GetStringSlice splits the named variable on commas, trimming whitespace.
// Returns nil when unset or empty.
func GetStringSlice(name string) []string {
	v := GetString(name, "")
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
