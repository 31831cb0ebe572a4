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
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// System field names present on every document class.
const (
	FieldID         = "id"
	FieldCreatedAt  = "created_at"
	FieldUpdatedAt  = "updated_at"
	FieldRevisionID = "revision_id"

	FieldDeletedAt = "deleted_at"
	FieldDeletedBy = "deleted_by"
	FieldDeletedID = "deleted_id"
)

// FieldDocClass names the class discriminator stamped into every stored KV
// body. Docstore bodies live under bare-id keys, so the body itself must
// say which class a key belongs to for the validator to attribute orphans.
const FieldDocClass = "doc_class"

// FieldType describes how a lite column is stored and compared.
type FieldType int

const (
	// TypeString is stored as TEXT.
	TypeString FieldType = iota
	// TypeInt is stored as INTEGER.
	TypeInt
	// TypeFloat is stored as REAL.
	TypeFloat
	// TypeBool is stored as INTEGER 0/1.
	TypeBool
	// TypeTime is stored as INTEGER Unix nanoseconds; lexical comparisons on
	// the column preserve chronological order.
	TypeTime
	// TypeJSON is stored as TEXT holding a compact JSON encoding. Usable in
	// equality filters only.
	TypeJSON
)

// Field declares one lite column of a document class.
type Field struct {
	Name string
	Type FieldType
}

// LiteSchema is the compile-time declaration of a document class's lite
// projection: the fields kept in the document store for query, as opposed
// to the authoritative Full body in the KV.
type LiteSchema struct {
	// Name is the class's logical name; it doubles as the table name and as
	// the KV key namespace for index shadows.
	Name string
	// Indexed are the fields that carry a single-column index.
	Indexed []Field
	// CompositeIndexes are multi-column index declarations; every referenced
	// field must appear in Indexed or QueryFields.
	CompositeIndexes [][]string
	// UniqueIndexes are unique-constraint declarations.
	UniqueIndexes [][]string
	// QueryFields carry no index but are permitted in filter predicates.
	QueryFields []Field
	// SoftDelete declares the deleted_at/deleted_by/deleted_id markers.
	SoftDelete bool
}

// Validate checks internal consistency of the schema declaration. Every
// class with dual storage must declare a schema that passes this.
func (s *LiteSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("lite schema has no class name")
	}

	declared := sets.New[string]()
	for _, f := range append(append([]Field{}, s.Indexed...), s.QueryFields...) {
		if f.Name == "" {
			return fmt.Errorf("class %q declares a field with no name", s.Name)
		}
		if declared.Has(f.Name) {
			return fmt.Errorf("class %q declares field %q twice", s.Name, f.Name)
		}
		declared.Insert(f.Name)
	}

	for _, idx := range append(append([][]string{}, s.CompositeIndexes...), s.UniqueIndexes...) {
		for _, name := range idx {
			if !declared.Has(name) && !isSystemField(name) {
				return fmt.Errorf("class %q composite index references undeclared field %q", s.Name, name)
			}
		}
	}
	return nil
}

// LiteFieldSet derives the set of field names materialized in the document
// store: system fields, soft-delete markers when declared, all indexed
// fields, all composite-index fields, and all query fields.
func (s *LiteSchema) LiteFieldSet() sets.Set[string] {
	fields := sets.New(FieldID, FieldCreatedAt, FieldUpdatedAt, FieldRevisionID)

	if s.SoftDelete {
		fields.Insert(FieldDeletedAt, FieldDeletedBy, FieldDeletedID)
	}
	for _, f := range s.Indexed {
		fields.Insert(f.Name)
	}
	for _, idx := range s.CompositeIndexes {
		fields.Insert(idx...)
	}
	for _, f := range s.QueryFields {
		fields.Insert(f.Name)
	}
	return fields
}

// columns returns the declared non-system fields in declaration order.
func (s *LiteSchema) columns() []Field {
	out := make([]Field, 0, len(s.Indexed)+len(s.QueryFields))
	out = append(out, s.Indexed...)
	out = append(out, s.QueryFields...)
	return out
}

// fieldType resolves the storage type of a field name, system fields
// included.
func (s *LiteSchema) fieldType(name string) (FieldType, bool) {
	switch name {
	case FieldID, FieldRevisionID, FieldDeletedBy, FieldDeletedID:
		return TypeString, true
	case FieldCreatedAt, FieldUpdatedAt, FieldDeletedAt:
		return TypeTime, true
	}
	for _, f := range s.columns() {
		if f.Name == name {
			return f.Type, true
		}
	}
	return TypeString, false
}

func isSystemField(name string) bool {
	switch name {
	case FieldID, FieldCreatedAt, FieldUpdatedAt, FieldRevisionID,
		FieldDeletedAt, FieldDeletedBy, FieldDeletedID:
		return true
	}
	return false
}

// Document is the map form every entity converts to before storage. Field
// names are the wire names of the class.
type Document map[string]any

// ID returns the document's id, or empty when unset.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// ExtractLite projects a document onto the given field set. Fields absent
// from the document stay absent from the projection.
func ExtractLite(doc Document, fieldSet sets.Set[string]) Document {
	lite := make(Document, fieldSet.Len())
	for name, value := range doc {
		if fieldSet.Has(name) {
			lite[name] = value
		}
	}
	return lite
}

// normalizeValue converts a document value to its storage form for the
// given field type.
func normalizeValue(t FieldType, value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch t {
	case TypeTime:
		switch v := value.(type) {
		case time.Time:
			if v.IsZero() {
				return nil, nil
			}
			return v.UnixNano(), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case float64:
			return int64(v), nil
		default:
			return nil, fmt.Errorf("cannot store %T as time", value)
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return nil, fmt.Errorf("cannot store %T as bool", value)
	case TypeJSON:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("cannot encode %T as JSON column: %w", value, err)
		}
		return string(encoded), nil
	case TypeString, TypeInt, TypeFloat:
		return value, nil
	default:
		return value, nil
	}
}

// denormalizeValue converts a storage value back to its document form.
func denormalizeValue(t FieldType, value any) any {
	if value == nil {
		return nil
	}

	switch t {
	case TypeTime:
		if nanos, ok := value.(int64); ok {
			return time.Unix(0, nanos).UTC()
		}
	case TypeBool:
		if v, ok := value.(int64); ok {
			return v != 0
		}
	case TypeJSON:
		var decoded any
		switch raw := value.(type) {
		case string:
			if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
				return decoded
			}
		case []byte:
			if err := json.Unmarshal(raw, &decoded); err == nil {
				return decoded
			}
		}
	case TypeString, TypeInt, TypeFloat:
	}
	return value
}
