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
	"fmt"
	"sort"
	"strings"
)

// QueryFieldError reports a filter predicate that referenced fields not
// materialized in the lite store. The query must be fixed by the caller;
// this error is never swallowed.
type QueryFieldError struct {
	// Class is the document class the query ran against.
	Class string
	// Fields are the offending field names.
	Fields []string
}

func (e *QueryFieldError) Error() string {
	fields := make([]string, len(e.Fields))
	copy(fields, e.Fields)
	sort.Strings(fields)

	return fmt.Sprintf(
		"query on %q references fields not stored in the lite record: [%s]; "+
			"either declare the field as indexed on the class, or add it to the class's query fields",
		e.Class, strings.Join(fields, ", "))
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// the sqlite engine.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
