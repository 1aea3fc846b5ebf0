// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package pgvector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Compile-time interface check.
var _ store.ChunkStore = (*Store)(nil)

// Store is the write side: it persists embedding-bearing chunks with
// replace semantics at the (source scope, document key) grain.
type Store struct {
	cfg  *resolved
	pool *pgxpool.Pool

	closeOnce sync.Once
}

// NewStore validates cfg and binds a store to the shared pool for its
// connection string.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := acquirePool(ctx, r.connString, r.poolCfg)
	if err != nil {
		return nil, err
	}

	return &Store{cfg: r, pool: pool}, nil
}

// Insert atomically replaces the stored chunks for the document identified
// by metadata. Metadata is validated before any database contact; the
// delete and all inserts share one transaction.
func (s *Store) Insert(ctx context.Context, metadata map[string]any, chunks []store.EmbeddedChunk) error {
	if err := s.cfg.mapping.ValidateRecord(metadata); err != nil {
		return err
	}
	docKey, err := s.cfg.mapping.DocumentKeyValue(metadata)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if len(ch.Embedding) == 0 {
			return raglineerr.Errorf(raglineerr.CodeOperationInvalid, "insert: chunk %d has no embedding", ch.Index)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	if err := ensureRegistered(ctx, s.cfg.connString, s.pool); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyPg(err, raglineerr.CodeStoreConnectionFailure, "insert: beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deleteSQL, deleteArgs, err := s.deleteStatement(metadata, docKey)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return s.wrapTxErr(err, "insert: deleting prior generation", docKey)
	}

	insertSQL, fixedArgs := s.insertStatement(metadata)
	for _, ch := range chunks {
		args := make([]any, 0, len(fixedArgs)+3)
		args = append(args, ch.Content, ch.Index, vectorParam(ch.Embedding))
		args = append(args, fixedArgs...)
		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			return s.wrapTxErr(err, fmt.Sprintf("insert: writing chunk %d", ch.Index), docKey)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return s.wrapTxErr(err, "insert: committing", docKey)
	}
	return nil
}

// DeleteByDocumentKey removes all chunks matching the store's source scope
// and the metadata's document key. No-op when nothing matches.
func (s *Store) DeleteByDocumentKey(ctx context.Context, metadata map[string]any) error {
	if err := s.cfg.mapping.ValidateRecord(metadata); err != nil {
		return err
	}
	docKey, err := s.cfg.mapping.DocumentKeyValue(metadata)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	if err := ensureRegistered(ctx, s.cfg.connString, s.pool); err != nil {
		return err
	}

	deleteSQL, args, err := s.deleteStatement(metadata, docKey)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, deleteSQL, args...); err != nil {
		return raglineerr.With(
			classifyPg(err, raglineerr.CodeStoreQueryFailure, "deleting document"),
			raglineerr.FieldOperation("DeleteByDocumentKey"),
			raglineerr.FieldDocumentKey(docKey),
			raglineerr.FieldTable(s.cfg.table),
		)
	}
	return nil
}

// DeleteBySourceScope removes every chunk whose source keys equal the
// store's static scope. It refuses to run when the static context pins no
// source-key column, since that predicate would match the whole table.
func (s *Store) DeleteBySourceScope(ctx context.Context) error {
	cols, vals := s.cfg.staticScope()
	if len(cols) == 0 {
		return raglineerr.New(raglineerr.CodeConfigMissingValue, "purge: static context pins no source-key column")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout)
	defer cancel()

	if err := ensureRegistered(ctx, s.cfg.connString, s.pool); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(schema.QuoteIdentifier(s.cfg.table))
	sb.WriteString(" WHERE ")
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = $%d", schema.QuoteIdentifier(col), i+1)
	}

	if _, err := s.pool.Exec(ctx, sb.String(), vals...); err != nil {
		return raglineerr.With(
			classifyPg(err, raglineerr.CodeStoreQueryFailure, "purging source scope"),
			raglineerr.FieldOperation("DeleteBySourceScope"),
			raglineerr.FieldTable(s.cfg.table),
		)
	}
	return nil
}

// Close releases this store's pool reference. Idempotent; never fails.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { releasePool(s.cfg.connString) })
	return nil
}

// deleteStatement scopes the per-document delete by the conjunction of all
// source keys and the document key.
func (s *Store) deleteStatement(metadata map[string]any, docKey any) (string, []any, error) {
	cols, vals, err := s.cfg.sourceScope(metadata)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(schema.QuoteIdentifier(s.cfg.table))
	sb.WriteString(" WHERE ")

	args := make([]any, 0, len(vals)+1)
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "%s = $%d", schema.QuoteIdentifier(col), i+1)
		args = append(args, vals[i])
	}
	if len(cols) > 0 {
		sb.WriteString(" AND ")
	}
	fmt.Fprintf(&sb, "%s = $%d", schema.QuoteIdentifier(s.cfg.mapping.DocumentKeyColumn()), len(args)+1)
	args = append(args, docKey)

	return sb.String(), args, nil
}

// insertStatement builds the parameterized insert shared by every chunk of
// one document. The first three placeholders are per-chunk (content, index,
// embedding); the returned args cover the metadata and static context
// columns, which are constant across the document.
func (s *Store) insertStatement(metadata map[string]any) (string, []any) {
	cols := []string{
		s.cfg.mapping.ContentColumn(),
		s.cfg.mapping.IndexColumn(),
		s.cfg.mapping.EmbeddingColumn(),
	}
	var args []any

	for _, f := range s.cfg.mapping.Fields() {
		col, _ := s.cfg.mapping.Column(f.Name)
		if _, pinned := s.cfg.static[col]; pinned {
			continue
		}
		value, ok := metadata[f.Name]
		if !ok || value == nil {
			continue
		}
		cols = append(cols, col)
		args = append(args, value)
	}

	// Static context last so it always wins its columns; sorted so the
	// statement text is stable across calls.
	staticCols := make([]string, 0, len(s.cfg.static))
	for col := range s.cfg.static {
		staticCols = append(staticCols, col)
	}
	sort.Strings(staticCols)
	for _, col := range staticCols {
		cols = append(cols, col)
		args = append(args, s.cfg.static[col])
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(schema.QuoteIdentifier(s.cfg.table))
	sb.WriteString(" (")
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
		fmt.Fprintf(&sb, "$%d", i+1)
	}
	sb.WriteString(")")

	return sb.String(), args
}

func (s *Store) wrapTxErr(err error, msg string, docKey any) error {
	return raglineerr.With(
		classifyPg(err, raglineerr.CodeStoreTransactionFailure, msg),
		raglineerr.FieldOperation("Insert"),
		raglineerr.FieldDocumentKey(docKey),
		raglineerr.FieldTable(s.cfg.table),
	)
}
