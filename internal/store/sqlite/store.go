// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package sqlite implements the chunk store and query service on an
// embedded SQLite database with the sqlite-vec extension. It backs the
// local mode; the pgvector backend is the server-grade counterpart.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.ChunkStore = (*Store)(nil)

// Config binds a local store to one database file, one chunk table, and one
// static scope. Unlike the pgvector backend, this one owns its DDL: the
// database file is created on first open.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// Table names the chunk side table; the vec0 virtual table is derived
	// from it as <table>_vec.
	Table string

	// Definition declares the metadata schema, document key, and source keys.
	Definition schema.Definition

	// StaticContext maps physical column names to fixed values merged into
	// every inserted row.
	StaticContext map[string]any

	// Dimensions is the embedding width declared in the vec0 DDL. Required.
	Dimensions int

	// Distance selects the ranking metric. Cosine (default) and euclidean
	// are supported; sqlite-vec has no inner-product metric.
	Distance store.Distance
}

// Store is the write side of the embedded backend.
type Store struct {
	db      *sql.DB
	table   string
	mapping *schema.Mapping
	static  map[string]any

	closeOnce sync.Once
}

// NewStore opens (or creates) the database at cfg.Path and initialises the
// chunk side table plus its vec0 companion.
func NewStore(cfg Config) (*Store, error) {
	db, table, mapping, static, err := open(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, table: table, mapping: mapping, static: static}, nil
}

func open(cfg Config) (*sql.DB, string, *schema.Mapping, map[string]any, error) {
	if cfg.Path == "" {
		return nil, "", nil, nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "sqlite: Path is required")
	}
	if cfg.Table == "" {
		return nil, "", nil, nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "sqlite: Table is required")
	}
	if !schema.ValidIdentifier(cfg.Table) {
		return nil, "", nil, nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "sqlite: unsafe table name %q", cfg.Table)
	}
	if cfg.Dimensions <= 0 {
		return nil, "", nil, nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "sqlite: Dimensions must be > 0, got %d", cfg.Dimensions)
	}

	mapping, err := schema.NewMapping(cfg.Definition)
	if err != nil {
		return nil, "", nil, nil, err
	}

	static := make(map[string]any, len(cfg.StaticContext))
	for col, value := range cfg.StaticContext {
		if !schema.ValidIdentifier(col) {
			return nil, "", nil, nil, raglineerr.Errorf(raglineerr.CodeSchemaIdentifierInvalid, "sqlite: unsafe static context column %q", col)
		}
		static[col] = value
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, "", nil, nil, raglineerr.Wrapf(err, raglineerr.CodeStoreConnectionFailure, "sqlite: opening db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", nil, nil, raglineerr.Wrapf(err, raglineerr.CodeStoreConnectionFailure, "sqlite: pinging db")
	}

	if err := migrate(db, cfg.Table, mapping, cfg.Dimensions, cfg.Distance); err != nil {
		_ = db.Close()
		return nil, "", nil, nil, err
	}

	return db, cfg.Table, mapping, static, nil
}

func migrate(db *sql.DB, table string, mapping *schema.Mapping, dimensions int, distance store.Distance) error {
	var cols strings.Builder
	fmt.Fprintf(&cols, "%s TEXT NOT NULL,\n\t%s INTEGER NOT NULL",
		schema.QuoteIdentifier(mapping.ContentColumn()),
		schema.QuoteIdentifier(mapping.IndexColumn()),
	)
	for _, f := range mapping.Fields() {
		col, _ := mapping.Column(f.Name)
		fmt.Fprintf(&cols, ",\n\t%s %s", schema.QuoteIdentifier(col), columnType(f.Type))
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", schema.QuoteIdentifier(table), cols.String())
	if _, err := db.Exec(ddl); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreQueryFailure, "sqlite: creating chunk table")
	}

	metric := ""
	if distance == "" || distance == store.DistanceCosine {
		metric = " distance_metric=cosine"
	}
	vecDDL := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(id INTEGER PRIMARY KEY, embedding float[%d]%s)",
		schema.QuoteIdentifier(table+"_vec"), dimensions, metric,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreQueryFailure, "sqlite: creating vector table")
	}

	return nil
}

func columnType(t schema.FieldType) string {
	switch t {
	case schema.TypeInt, schema.TypeBool:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Insert atomically replaces the stored chunks for the document identified
// by metadata.
func (s *Store) Insert(ctx context.Context, metadata map[string]any, chunks []store.EmbeddedChunk) error {
	if err := s.mapping.ValidateRecord(metadata); err != nil {
		return err
	}
	docKey, err := s.mapping.DocumentKeyValue(metadata)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return raglineerr.Errorf(raglineerr.CodeOperationInvalid, "sqlite: chunk %d has no embedding", ch.Index)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteDocumentTx(ctx, tx, metadata, docKey); err != nil {
		return err
	}

	insertSQL, fixedArgs := s.insertStatement(metadata)
	for _, ch := range chunks {
		blob, err := sqlite_vec.SerializeFloat32(ch.Embedding)
		if err != nil {
			return raglineerr.Wrapf(err, raglineerr.CodeOperationInvalid, "sqlite: serializing embedding for chunk %d", ch.Index)
		}

		args := make([]any, 0, len(fixedArgs)+2)
		args = append(args, ch.Content, ch.Index)
		args = append(args, fixedArgs...)

		res, err := tx.ExecContext(ctx, insertSQL, args...)
		if err != nil {
			return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: writing chunk %d", ch.Index)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: reading chunk row id")
		}

		vecSQL := fmt.Sprintf("INSERT INTO %s(id, embedding) VALUES (?, ?)", schema.QuoteIdentifier(s.table+"_vec"))
		if _, err := tx.ExecContext(ctx, vecSQL, rowID, blob); err != nil {
			return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: writing vector %d", ch.Index)
		}
	}

	if err := tx.Commit(); err != nil {
		return raglineerr.Wrap(err, raglineerr.CodeStoreTransactionFailure, "sqlite: committing insert",
			raglineerr.FieldDocumentKey(docKey), raglineerr.FieldTable(s.table))
	}
	return nil
}

// DeleteByDocumentKey removes all chunks matching the store's source scope
// and the metadata's document key.
func (s *Store) DeleteByDocumentKey(ctx context.Context, metadata map[string]any) error {
	if err := s.mapping.ValidateRecord(metadata); err != nil {
		return err
	}
	docKey, err := s.mapping.DocumentKeyValue(metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteDocumentTx(ctx, tx, metadata, docKey); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: committing delete")
	}
	return nil
}

// DeleteBySourceScope removes every chunk whose source keys equal the
// store's static scope.
func (s *Store) DeleteBySourceScope(ctx context.Context) error {
	cols, vals := staticScope(s.mapping, s.static)
	if len(cols) == 0 {
		return raglineerr.New(raglineerr.CodeConfigMissingValue, "sqlite: static context pins no source-key column")
	}

	where, args := wherePredicate(cols, vals)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteWhereTx(ctx, tx, where, args); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: committing purge")
	}
	return nil
}

// Close closes the underlying database. Idempotent; never fails.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { _ = s.db.Close() })
	return nil
}

// deleteDocumentTx removes one document's rows from both tables inside tx.
func (s *Store) deleteDocumentTx(ctx context.Context, tx *sql.Tx, metadata map[string]any, docKey any) error {
	cols, vals, err := documentScope(s.mapping, s.static, metadata)
	if err != nil {
		return err
	}
	cols = append(cols, s.mapping.DocumentKeyColumn())
	vals = append(vals, docKey)

	where, args := wherePredicate(cols, vals)
	return s.deleteWhereTx(ctx, tx, where, args)
}

func (s *Store) deleteWhereTx(ctx context.Context, tx *sql.Tx, where string, args []any) error {
	// Vectors first: the subquery needs the side-table rows still present.
	vecSQL := fmt.Sprintf("DELETE FROM %s WHERE id IN (SELECT rowid FROM %s WHERE %s)",
		schema.QuoteIdentifier(s.table+"_vec"), schema.QuoteIdentifier(s.table), where)
	if _, err := tx.ExecContext(ctx, vecSQL, args...); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: deleting vectors")
	}

	sideSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", schema.QuoteIdentifier(s.table), where)
	if _, err := tx.ExecContext(ctx, sideSQL, args...); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTransactionFailure, "sqlite: deleting chunks")
	}
	return nil
}

// insertStatement builds the side-table insert shared by every chunk of one
// document. The first two placeholders are per-chunk (content, index); the
// returned args cover metadata and static context.
func (s *Store) insertStatement(metadata map[string]any) (string, []any) {
	cols := []string{s.mapping.ContentColumn(), s.mapping.IndexColumn()}
	var args []any

	for _, f := range s.mapping.Fields() {
		col, _ := s.mapping.Column(f.Name)
		if _, pinned := s.static[col]; pinned {
			continue
		}
		value, ok := metadata[f.Name]
		if !ok || value == nil {
			continue
		}
		cols = append(cols, col)
		args = append(args, bindValue(value))
	}

	staticCols := make([]string, 0, len(s.static))
	for col := range s.static {
		staticCols = append(staticCols, col)
	}
	sort.Strings(staticCols)
	for _, col := range staticCols {
		cols = append(cols, col)
		args = append(args, bindValue(s.static[col]))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (", schema.QuoteIdentifier(s.table))
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(schema.QuoteIdentifier(col))
	}
	sb.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
	}
	sb.WriteString(")")

	return sb.String(), args
}

// documentScope resolves the source-key predicate for one document: static
// context pins a column when present, the document's metadata fills the rest.
func documentScope(mapping *schema.Mapping, static map[string]any, record map[string]any) (cols []string, vals []any, err error) {
	fields := mapping.SourceKeys()
	columns := mapping.SourceKeyColumns()
	for i, field := range fields {
		col := columns[i]
		if v, ok := static[col]; ok {
			cols = append(cols, col)
			vals = append(vals, bindValue(v))
			continue
		}
		if v, ok := record[field]; ok && v != nil {
			cols = append(cols, col)
			vals = append(vals, bindValue(v))
			continue
		}
		return nil, nil, raglineerr.Errorf(
			raglineerr.CodeConfigMissingValue,
			"sqlite: source key %q has no static context entry and no metadata value", field,
		)
	}
	return cols, vals, nil
}

func staticScope(mapping *schema.Mapping, static map[string]any) (cols []string, vals []any) {
	for _, col := range mapping.SourceKeyColumns() {
		if v, ok := static[col]; ok {
			cols = append(cols, col)
			vals = append(vals, bindValue(v))
		}
	}
	return cols, vals
}

func wherePredicate(cols []string, vals []any) (string, []any) {
	var sb strings.Builder
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = ?", schema.QuoteIdentifier(col))
	}
	return sb.String(), vals
}

// bindValue normalizes values for the sqlite driver; timestamps are stored
// as RFC 3339 text so row decoding round-trips.
func bindValue(v any) any {
	if ts, ok := v.(time.Time); ok {
		return ts.UTC().Format(time.RFC3339)
	}
	return v
}
