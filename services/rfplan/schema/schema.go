// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema declares flat field schemas and checks extracted JSON
// objects against them.
//
// Every component type and plan endpoint is described by an ordered list of
// (name, kind, required) fields. One generic routine interprets them, so only
// semantic rules and compilation differ per type.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// Kind is a bitmask of accepted JSON value kinds.
type Kind uint8

const (
	KindInt Kind = 1 << iota
	KindFloat
	KindString
	KindBool
	KindList
	KindObject

	// KindNumber accepts an integer or a float literal.
	KindNumber = KindInt | KindFloat
)

// String returns a readable name for the kind set.
func (k Kind) String() string {
	if k == KindNumber {
		return "number"
	}
	var names []string
	for _, c := range []struct {
		bit  Kind
		name string
	}{
		{KindInt, "integer"},
		{KindFloat, "float"},
		{KindString, "string"},
		{KindBool, "boolean"},
		{KindList, "list"},
		{KindObject, "object"},
	} {
		if k&c.bit != 0 {
			names = append(names, c.name)
		}
	}
	if len(names) == 0 {
		return "nothing"
	}
	return strings.Join(names, " or ")
}

// KindOf classifies an extracted JSON value.
func KindOf(v any) Kind {
	switch v.(type) {
	case int64, int:
		return KindInt
	case float64:
		return KindFloat
	case string:
		return KindString
	case bool:
		return KindBool
	case []any:
		return KindList
	case map[string]any:
		return KindObject
	default:
		return 0
	}
}

// Field is one declared key.
type Field struct {
	Name     string
	Kind     Kind
	Required bool
}

// Req declares a required field.
func Req(name string, kind Kind) Field { return Field{Name: name, Kind: kind, Required: true} }

// Opt declares an optional field.
func Opt(name string, kind Kind) Field { return Field{Name: name, Kind: kind} }

// Schema is an ordered set of fields.
//
// Schemas are immutable after New and safe for concurrent use.
type Schema struct {
	name   string
	fields []Field
	index  map[string]int
}

// New builds a schema. Field order is kept for error reporting and
// compilation.
func New(name string, fields ...Field) *Schema {
	s := &Schema{name: name, fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if _, dup := s.index[f.Name]; dup {
			panic(fmt.Sprintf("schema %s: duplicate field %q", name, f.Name))
		}
		s.index[f.Name] = i
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Fields returns the declared fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Names returns every field name in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Required returns the required field names in declaration order.
func (s *Schema) Required() []string {
	var out []string
	for _, f := range s.fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// Check validates obj against the schema.
//
// Description:
//
//	Collects every violation in one pass: missing required fields (in
//	declaration order), unknown fields (sorted), then mistyped values (in
//	declaration order). It never stops at the first problem.
//
// Outputs:
//
//	*rfplan.ValidationResult - OK when obj conforms.
func (s *Schema) Check(obj map[string]any) *rfplan.ValidationResult {
	res := rfplan.NewResult()

	for _, f := range s.fields {
		if !f.Required {
			continue
		}
		if _, ok := obj[f.Name]; !ok {
			res.Fail(f.Name, fmt.Sprintf("missing required field %q", f.Name),
				rfplan.Hint{Kind: rfplan.HintSchemaRequired})
		}
	}

	unknown := make([]string, 0)
	for k := range obj {
		if _, ok := s.index[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		res.Fail(k, fmt.Sprintf("unknown field %q is not part of the %s schema", k, s.name),
			rfplan.Hint{Kind: rfplan.HintSchemaUnknown})
	}

	for _, f := range s.fields {
		v, ok := obj[f.Name]
		if !ok {
			continue
		}
		got := KindOf(v)
		if got&f.Kind == 0 {
			res.Fail(f.Name, fmt.Sprintf("field %q must be %s, got %s", f.Name, f.Kind, describe(got)),
				rfplan.Hint{Kind: rfplan.HintSchemaType})
		}
	}

	return res
}

func describe(k Kind) string {
	if k == 0 {
		return "null"
	}
	return k.String()
}
