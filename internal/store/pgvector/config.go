// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package pgvector

import (
	"time"

	"github.com/ragline-dev/ragline/internal/schema"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Config binds a store or query service to one table, one metadata schema,
// and one static scope.
type Config struct {
	// ConnString selects the shared pool.
	ConnString string

	// Pool tunes the pool on first acquisition of ConnString.
	Pool PoolConfig

	// Table is the target table. The caller owns its DDL and indexes.
	Table string

	// Definition declares the metadata schema, document key, and source keys.
	Definition schema.Definition

	// StaticContext maps physical column names to fixed values merged into
	// every inserted row, e.g. a tenant id. Entries covering source-key
	// columns form the store's source scope.
	StaticContext map[string]any

	// StatementTimeout bounds each database operation. Defaults to 30s.
	StatementTimeout time.Duration
}

const defaultStatementTimeout = 30 * time.Second

// resolved is the validated, frozen form of Config shared by the write and
// read sides.
type resolved struct {
	connString string
	poolCfg    PoolConfig
	table      string
	mapping    *schema.Mapping
	static     map[string]any
	timeout    time.Duration
}

func resolve(cfg Config) (*resolved, error) {
	if cfg.ConnString == "" {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "pgvector: ConnString is required")
	}
	if cfg.Table == "" {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "pgvector: Table is required")
	}
	if !schema.ValidIdentifier(cfg.Table) {
		return nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "pgvector: unsafe table name %q", cfg.Table)
	}

	mapping, err := schema.NewMapping(cfg.Definition)
	if err != nil {
		return nil, err
	}

	static := make(map[string]any, len(cfg.StaticContext))
	for col, value := range cfg.StaticContext {
		if !schema.ValidIdentifier(col) {
			return nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "pgvector: unsafe static context column %q", col)
		}
		if !scalarValue(value) {
			return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pgvector: static context column %q has non-scalar value of type %T", col, value)
		}
		switch col {
		case mapping.ContentColumn(), mapping.IndexColumn(), mapping.EmbeddingColumn():
			return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pgvector: static context must not pin fixed column %q", col)
		}
		static[col] = value
	}

	timeout := cfg.StatementTimeout
	if timeout == 0 {
		timeout = defaultStatementTimeout
	}

	return &resolved{
		connString: cfg.ConnString,
		poolCfg:    cfg.Pool,
		table:      cfg.Table,
		mapping:    mapping,
		static:     static,
		timeout:    timeout,
	}, nil
}

// sourceScope returns the physical source-key predicate for one document:
// static context pins a source-key column when present; otherwise the value
// comes from the document's own metadata.
func (r *resolved) sourceScope(record map[string]any) (cols []string, vals []any, err error) {
	fields := r.mapping.SourceKeys()
	columns := r.mapping.SourceKeyColumns()
	for i, field := range fields {
		col := columns[i]
		if v, ok := r.static[col]; ok {
			cols = append(cols, col)
			vals = append(vals, v)
			continue
		}
		if record != nil {
			if v, ok := record[field]; ok && v != nil {
				cols = append(cols, col)
				vals = append(vals, v)
				continue
			}
		}
		return nil, nil, raglineerr.Errorf(
			raglineerr.CodeConfigMissingValue,
			"pgvector: source key %q has no static context entry and no metadata value", field,
		)
	}
	return cols, vals, nil
}

// staticScope returns the source-key predicate derivable from static
// context alone, used by the bulk purge.
func (r *resolved) staticScope() (cols []string, vals []any) {
	for _, col := range r.mapping.SourceKeyColumns() {
		if v, ok := r.static[col]; ok {
			cols = append(cols, col)
			vals = append(vals, v)
		}
	}
	return cols, vals
}

func scalarValue(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int32, int64,
		float32, float64,
		time.Time:
		return true
	default:
		return false
	}
}
