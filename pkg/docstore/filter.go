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

	sq "github.com/Masterminds/squirrel"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Filter is a free-form nested predicate map in the document-query dialect:
// top-level keys are field names or the logical operators $and, $or, $not,
// $nor; field values are either literals (equality) or operator maps
// ($eq, $ne, $in, $nin, $gt, $gte, $lt, $lte, $exists, $elemMatch).
type Filter = Document

// ValidateFilter walks the predicate tree and checks every literal field
// reference against the class's lite field set. All offending fields are
// collected into a single QueryFieldError.
func (s *LiteSchema) ValidateFilter(filter Filter) error {
	if len(filter) == 0 {
		return nil
	}

	unknown := sets.New[string]()
	collectUnknownFields(filter, s.LiteFieldSet(), unknown)

	if unknown.Len() > 0 {
		fields := unknown.UnsortedList()
		sort.Strings(fields)
		return &QueryFieldError{Class: s.Name, Fields: fields}
	}
	return nil
}

func collectUnknownFields(node Filter, known, unknown sets.Set[string]) {
	for key, value := range node {
		switch key {
		case "$and", "$or", "$nor":
			for _, sub := range asFilterList(value) {
				collectUnknownFields(sub, known, unknown)
			}
		case "$not":
			if sub, ok := asFilter(value); ok {
				collectUnknownFields(sub, known, unknown)
			}
		default:
			if !known.Has(key) {
				unknown.Insert(key)
			}
			// Operator maps may nest further field references ($elemMatch).
			if ops, ok := asFilter(value); ok {
				for opKey, opValue := range ops {
					if opKey != "$elemMatch" {
						continue
					}
					if sub, ok := asFilter(opValue); ok {
						collectUnknownFields(sub, known, unknown)
					}
				}
			}
		}
	}
}

func asFilter(value any) (Filter, bool) {
	switch v := value.(type) {
	case Filter:
		return v, true
	case map[string]any:
		return v, true
	}
	return nil, false
}

func asFilterList(value any) []Filter {
	var out []Filter
	switch v := value.(type) {
	case []Filter:
		return v
	case []map[string]any:
		for _, sub := range v {
			out = append(out, sub)
		}
	case []any:
		for _, raw := range v {
			if sub, ok := asFilter(raw); ok {
				out = append(out, sub)
			}
		}
	}
	return out
}

// toSqlizer translates a validated predicate tree into a squirrel
// expression over the class's lite columns.
func (s *LiteSchema) toSqlizer(filter Filter) (sq.Sqlizer, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	conj := sq.And{}
	// Iterate in a stable order so generated SQL is deterministic.
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := filter[key]
		switch key {
		case "$and":
			sub, err := s.combineList(value, false)
			if err != nil {
				return nil, err
			}
			conj = append(conj, sub)
		case "$or":
			sub, err := s.combineList(value, true)
			if err != nil {
				return nil, err
			}
			conj = append(conj, sub)
		case "$nor":
			sub, err := s.combineList(value, true)
			if err != nil {
				return nil, err
			}
			conj = append(conj, notExpr(sub))
		case "$not":
			inner, ok := asFilter(value)
			if !ok {
				return nil, fmt.Errorf("$not expects a predicate map")
			}
			sub, err := s.toSqlizer(inner)
			if err != nil {
				return nil, err
			}
			conj = append(conj, notExpr(sub))
		default:
			cond, err := s.fieldCondition(key, value)
			if err != nil {
				return nil, err
			}
			conj = append(conj, cond)
		}
	}

	if len(conj) == 1 {
		return conj[0], nil
	}
	return conj, nil
}

func (s *LiteSchema) combineList(value any, disjunction bool) (sq.Sqlizer, error) {
	subs := asFilterList(value)
	if len(subs) == 0 {
		return nil, fmt.Errorf("logical operator expects a non-empty list of predicates")
	}

	var parts []sq.Sqlizer
	for _, sub := range subs {
		part, err := s.toSqlizer(sub)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	if disjunction {
		out := sq.Or{}
		out = append(out, parts...)
		return out, nil
	}
	out := sq.And{}
	out = append(out, parts...)
	return out, nil
}

func (s *LiteSchema) fieldCondition(field string, value any) (sq.Sqlizer, error) {
	fieldType, _ := s.fieldType(field)
	column := quoteIdent(field)

	ops, isOps := asFilter(value)
	if !isOps || !hasOperatorKey(ops) {
		normalized, err := normalizeValue(fieldType, value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		return sq.Eq{column: normalized}, nil
	}

	conj := sq.And{}
	opKeys := make([]string, 0, len(ops))
	for op := range ops {
		opKeys = append(opKeys, op)
	}
	sort.Strings(opKeys)

	for _, op := range opKeys {
		raw := ops[op]
		cond, err := s.operatorCondition(field, fieldType, column, op, raw)
		if err != nil {
			return nil, err
		}
		conj = append(conj, cond)
	}

	if len(conj) == 1 {
		return conj[0], nil
	}
	return conj, nil
}

//nolint:cyclop // one arm per query operator
func (s *LiteSchema) operatorCondition(field string, fieldType FieldType,
	column, op string, raw any,
) (sq.Sqlizer, error) {
	normalize := func(v any) (any, error) {
		normalized, err := normalizeValue(fieldType, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		return normalized, nil
	}

	normalizeList := func(v any) ([]any, error) {
		items, ok := v.([]any)
		if !ok {
			// Permit typed slices for the common cases.
			switch typed := v.(type) {
			case []string:
				for _, item := range typed {
					items = append(items, item)
				}
			case []int:
				for _, item := range typed {
					items = append(items, item)
				}
			case []int64:
				for _, item := range typed {
					items = append(items, item)
				}
			default:
				return nil, fmt.Errorf("field %q: operator %s expects a list", field, op)
			}
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, normalized)
		}
		return out, nil
	}

	switch op {
	case "$eq":
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		return sq.Eq{column: v}, nil
	case "$ne":
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		return sq.NotEq{column: v}, nil
	case "$in":
		items, err := normalizeList(raw)
		if err != nil {
			return nil, err
		}
		return sq.Eq{column: items}, nil
	case "$nin":
		items, err := normalizeList(raw)
		if err != nil {
			return nil, err
		}
		return sq.NotEq{column: items}, nil
	case "$gt":
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		return sq.Gt{column: v}, nil
	case "$gte":
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		return sq.GtOrEq{column: v}, nil
	case "$lt":
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		return sq.Lt{column: v}, nil
	case "$lte":
		v, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		return sq.LtOrEq{column: v}, nil
	case "$exists":
		want, _ := raw.(bool)
		if want {
			return sq.NotEq{column: nil}, nil
		}
		return sq.Eq{column: nil}, nil
	case "$not":
		inner, ok := asFilter(raw)
		if !ok {
			return nil, fmt.Errorf("field %q: $not expects an operator map", field)
		}
		sub, err := s.fieldCondition(field, inner)
		if err != nil {
			return nil, err
		}
		return notExpr(sub), nil
	default:
		return nil, fmt.Errorf("field %q: unsupported query operator %s", field, op)
	}
}

func hasOperatorKey(ops Filter) bool {
	for key := range ops {
		if len(key) > 0 && key[0] == '$' {
			return true
		}
	}
	return false
}

func notExpr(inner sq.Sqlizer) sq.Sqlizer {
	return notSqlizer{inner: inner}
}

type notSqlizer struct {
	inner sq.Sqlizer
}

func (n notSqlizer) ToSql() (string, []any, error) {
	inner, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + inner + ")", args, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
