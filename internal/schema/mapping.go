// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package schema binds caller-declared metadata fields to physical database
// columns and validates metadata records at the trust boundaries.
package schema

import (
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// FieldType enumerates the value types a metadata field may declare.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeTime   FieldType = "time"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTime:
		return true
	default:
		return false
	}
}

// Field declares one logical metadata field.
type Field struct {
	Name string
	Type FieldType
}

// Definition is the caller-supplied metadata descriptor for one table.
type Definition struct {
	// Fields enumerates every logical metadata field, in declaration order.
	Fields []Field

	// DocumentKey names the field that identifies a document within its
	// source scope. Required, and must appear in Fields.
	DocumentKey string

	// SourceKeys name the fields that jointly partition the table across
	// tenants or datasets. Each must appear in Fields.
	SourceKeys []string

	// ColumnOverrides maps logical field names to physical columns,
	// overriding the default camelCase -> snake_case mapping.
	ColumnOverrides map[string]string

	// Overrides for the three fixed physical columns. Empty means default.
	ContentColumn   string
	IndexColumn     string
	EmbeddingColumn string
}

// Fixed physical column defaults.
const (
	DefaultContentColumn   = "chunk_content"
	DefaultIndexColumn     = "chunk_index"
	DefaultEmbeddingColumn = "embedding"
)

// reservedFieldName clashes with the discriminator used by polymorphic
// metadata descriptors and is rejected outright.
const reservedFieldName = "type"

// Mapping is the frozen logical-to-physical binding produced from a
// Definition. Immutable after construction.
type Mapping struct {
	fields      []Field
	types       map[string]FieldType
	columns     map[string]string
	documentKey string
	sourceKeys  []string

	contentColumn   string
	indexColumn     string
	embeddingColumn string
}

// NewMapping validates def and freezes it into a Mapping. Missing or
// undeclared keys and bad overrides are configuration errors (config.*);
// unsafe identifiers and invalid field declarations are schema validation
// errors (schema.*).
func NewMapping(def Definition) (*Mapping, error) {
	if len(def.Fields) == 0 {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "metadata definition: at least one field is required")
	}
	if def.DocumentKey == "" {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "metadata definition: DocumentKey is required")
	}

	m := &Mapping{
		fields:          make([]Field, len(def.Fields)),
		types:           make(map[string]FieldType, len(def.Fields)),
		columns:         make(map[string]string, len(def.Fields)),
		documentKey:     def.DocumentKey,
		sourceKeys:      append([]string(nil), def.SourceKeys...),
		contentColumn:   def.ContentColumn,
		indexColumn:     def.IndexColumn,
		embeddingColumn: def.EmbeddingColumn,
	}
	copy(m.fields, def.Fields)

	if m.contentColumn == "" {
		m.contentColumn = DefaultContentColumn
	}
	if m.indexColumn == "" {
		m.indexColumn = DefaultIndexColumn
	}
	if m.embeddingColumn == "" {
		m.embeddingColumn = DefaultEmbeddingColumn
	}
	for _, col := range []string{m.contentColumn, m.indexColumn, m.embeddingColumn} {
		if !ValidIdentifier(col) {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "metadata definition: unsafe fixed column name %q", col)
		}
	}

	for _, f := range def.Fields {
		if f.Name == reservedFieldName {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaFieldInvalid, "metadata definition: field name %q is reserved", f.Name)
		}
		if !ValidIdentifier(f.Name) {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "metadata definition: unsafe field name %q", f.Name)
		}
		if !f.Type.Valid() {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaFieldInvalid, "metadata definition: field %s has unknown type %q", f.Name, f.Type)
		}
		if _, dup := m.types[f.Name]; dup {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaFieldInvalid, "metadata definition: duplicate field %q", f.Name)
		}

		col := snakeCase(f.Name)
		if override, ok := def.ColumnOverrides[f.Name]; ok {
			col = override
		}
		if !ValidIdentifier(col) {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "metadata definition: unsafe column name %q for field %s", col, f.Name)
		}

		m.types[f.Name] = f.Type
		m.columns[f.Name] = col
	}

	for override := range def.ColumnOverrides {
		if _, ok := m.types[override]; !ok {
			return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "metadata definition: column override for undeclared field %q", override)
		}
	}

	if _, ok := m.types[def.DocumentKey]; !ok {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigMissingValue, "metadata definition: DocumentKey %q is not a declared field", def.DocumentKey)
	}
	for _, sk := range def.SourceKeys {
		if _, ok := m.types[sk]; !ok {
			return nil, raglineerr.Errorf(raglineerr.CodeConfigMissingValue, "metadata definition: source key %q is not a declared field", sk)
		}
	}

	return m, nil
}

// Fields returns the declared fields in declaration order.
func (m *Mapping) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Column returns the physical column for a logical field.
func (m *Mapping) Column(field string) (string, bool) {
	col, ok := m.columns[field]
	return col, ok
}

// TypeOf returns the declared type for a logical field.
func (m *Mapping) TypeOf(field string) (FieldType, bool) {
	t, ok := m.types[field]
	return t, ok
}

// DocumentKey returns the logical name of the document-key field.
func (m *Mapping) DocumentKey() string { return m.documentKey }

// DocumentKeyColumn returns the physical column backing the document key.
// The document key has no separate physical name of its own; it is the
// mapping of its logical field.
func (m *Mapping) DocumentKeyColumn() string { return m.columns[m.documentKey] }

// SourceKeys returns the logical source-key field names in declared order.
func (m *Mapping) SourceKeys() []string {
	return append([]string(nil), m.sourceKeys...)
}

// SourceKeyColumns returns the physical columns of the source keys,
// in the same order as SourceKeys.
func (m *Mapping) SourceKeyColumns() []string {
	cols := make([]string, len(m.sourceKeys))
	for i, sk := range m.sourceKeys {
		cols[i] = m.columns[sk]
	}
	return cols
}

func (m *Mapping) ContentColumn() string   { return m.contentColumn }
func (m *Mapping) IndexColumn() string     { return m.indexColumn }
func (m *Mapping) EmbeddingColumn() string { return m.embeddingColumn }
