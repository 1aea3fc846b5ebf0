// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/ragline-dev/ragline/internal/embedding"
	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Compile-time interface check.
var _ store.Searcher = (*Searcher)(nil)

// SearcherConfig configures the read side of the embedded backend.
type SearcherConfig struct {
	Config

	// Embedder converts questions into query vectors. Required.
	Embedder embedding.Embedder

	// FilterResolver turns the request context into equality predicates.
	FilterResolver store.FilterResolver
}

// Searcher ranks stored chunks by vector similarity using sqlite-vec KNN.
type Searcher struct {
	db       *sql.DB
	table    string
	mapping  *schema.Mapping
	embedder embedding.Embedder
	resolver store.FilterResolver
	distance store.Distance

	closeOnce sync.Once
}

// NewSearcher opens the database at cfg.Path and binds a query service to
// its chunk table.
func NewSearcher(cfg SearcherConfig) (*Searcher, error) {
	if cfg.Embedder == nil {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "sqlite: Embedder is required")
	}
	if cfg.Distance == "" {
		cfg.Distance = store.DistanceCosine
	}
	if cfg.Distance == store.DistanceInnerProduct {
		return nil, raglineerr.New(raglineerr.CodeConfigInvalidValue, "sqlite: inner-product distance is not supported by this backend")
	}
	if !cfg.Distance.Valid() {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "sqlite: unknown distance function %q", cfg.Distance)
	}

	db, table, mapping, _, err := open(cfg.Config)
	if err != nil {
		return nil, err
	}

	return &Searcher{
		db:       db,
		table:    table,
		mapping:  mapping,
		embedder: cfg.Embedder,
		resolver: cfg.FilterResolver,
		distance: cfg.Distance,
	}, nil
}

// Search embeds the question, runs a KNN scan, applies context filters, and
// returns results ordered by descending similarity.
func (q *Searcher) Search(ctx context.Context, params store.SearchParams) ([]store.QueryResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	vec, err := q.embedder.Embed(ctx, params.Question)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, raglineerr.New(raglineerr.CodeEmbedResponseInvalid, "search: embedder returned an empty vector")
	}

	filters, err := store.ResolveFilters(ctx, q.resolver, params.Context)
	if err != nil {
		return nil, err
	}

	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeOperationInvalid, "search: serializing query vector")
	}

	// KNN retrieves k candidates before the metadata filters apply, so
	// filtered searches overfetch to keep the post-filter count near limit.
	k := params.Limit
	if len(filters) > 0 {
		k = params.Limit * 10
		if k > 4096 {
			k = 4096
		}
	}

	querySQL, args := q.buildQuery(blob, k, filters)
	rows, err := q.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, raglineerr.Wrap(err, raglineerr.CodeStoreQueryFailure, "search: executing similarity scan",
			raglineerr.FieldOperation("Search"), raglineerr.FieldTable(q.table))
	}
	defer func() { _ = rows.Close() }()

	metaCols := q.metadataColumns()
	var results []store.QueryResult
	for rows.Next() {
		result, err := q.scanRow(rows, metaCols)
		if err != nil {
			return nil, err
		}
		if result.Similarity < params.SimilarityThreshold {
			continue
		}
		results = append(results, result)
		if len(results) == params.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeStoreQueryFailure, "search: iterating rows")
	}

	return results, nil
}

// Close closes the underlying database. Idempotent; never fails.
func (q *Searcher) Close() error {
	q.closeOnce.Do(func() { _ = q.db.Close() })
	return nil
}

func (q *Searcher) buildQuery(blob []byte, k int, filters []store.Filter) (string, []any) {
	metaCols := q.metadataColumns()

	var sb strings.Builder
	sb.WriteString("SELECT s.")
	sb.WriteString(schema.QuoteIdentifier(q.mapping.ContentColumn()))
	sb.WriteString(", s.")
	sb.WriteString(schema.QuoteIdentifier(q.mapping.IndexColumn()))
	for _, col := range metaCols {
		sb.WriteString(", s.")
		sb.WriteString(schema.QuoteIdentifier(col))
	}
	fmt.Fprintf(&sb, ", v.distance FROM %s v JOIN %s s ON s.rowid = v.id WHERE v.embedding MATCH ? AND k = ?",
		schema.QuoteIdentifier(q.table+"_vec"), schema.QuoteIdentifier(q.table))

	args := []any{blob, k}
	for _, f := range filters {
		if f.Many {
			vals := expandSlice(f.Value)
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
			fmt.Fprintf(&sb, " AND s.%s IN (%s)", schema.QuoteIdentifier(f.Column), placeholders)
			args = append(args, vals...)
		} else {
			fmt.Fprintf(&sb, " AND s.%s = ?", schema.QuoteIdentifier(f.Column))
			args = append(args, bindValue(f.Value))
		}
	}

	sb.WriteString(" ORDER BY v.distance")
	return sb.String(), args
}

func (q *Searcher) metadataColumns() []string {
	fields := q.mapping.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i], _ = q.mapping.Column(f.Name)
	}
	return cols
}

func (q *Searcher) scanRow(rows *sql.Rows, metaCols []string) (store.QueryResult, error) {
	values := make([]any, len(metaCols)+3)
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return store.QueryResult{}, raglineerr.Wrapf(err, raglineerr.CodeStoreQueryFailure, "search: scanning row")
	}

	content, ok := values[0].(string)
	if !ok {
		return store.QueryResult{}, raglineerr.Errorf(raglineerr.CodeSchemaRowInvalid, "search: content column has type %T", values[0])
	}
	index, ok := values[1].(int64)
	if !ok {
		return store.QueryResult{}, raglineerr.Errorf(raglineerr.CodeSchemaRowInvalid, "search: index column has type %T", values[1])
	}

	rowMap := make(map[string]any, len(metaCols))
	for i, col := range metaCols {
		rowMap[col] = normalizeScanned(values[2+i])
	}
	metadata, err := q.mapping.DecodeRow(rowMap)
	if err != nil {
		return store.QueryResult{}, err
	}

	distance, ok := values[len(values)-1].(float64)
	if !ok {
		return store.QueryResult{}, raglineerr.Errorf(raglineerr.CodeSchemaRowInvalid, "search: distance column has type %T", values[len(values)-1])
	}

	return store.QueryResult{
		Chunk:      store.Chunk{Content: content, Index: int(index)},
		Similarity: q.similarity(distance),
		Metadata:   metadata,
	}, nil
}

// similarity converts the metric's distance into a [0,1] similarity.
func (q *Searcher) similarity(distance float64) float64 {
	var s float64
	switch q.distance {
	case store.DistanceEuclidean:
		s = 1 / (1 + distance)
	default:
		s = 1 - distance
	}
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// normalizeScanned maps driver byte slices back to strings for row decoding.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func expandSlice(v any) []any {
	switch vals := v.(type) {
	case []any:
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = bindValue(item)
		}
		return out
	case []string:
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = item
		}
		return out
	case []int:
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = item
		}
		return out
	case []int64:
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = item
		}
		return out
	case []bool:
		out := make([]any, len(vals))
		for i, item := range vals {
			out[i] = item
		}
		return out
	default:
		return []any{bindValue(v)}
	}
}
