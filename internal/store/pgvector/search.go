// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package pgvector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ragline-dev/ragline/internal/embedding"
	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Compile-time interface check.
var _ store.Searcher = (*Searcher)(nil)

// SearcherConfig configures the read side. The embedded Config must agree
// with the write side on table, mapping, and column names.
type SearcherConfig struct {
	Config

	// Embedder converts questions into query vectors. Required.
	Embedder embedding.Embedder

	// FilterResolver turns the request context into equality predicates.
	// Nil means no context filtering.
	FilterResolver store.FilterResolver

	// Distance selects the ranking function. Defaults to cosine.
	Distance store.Distance
}

// Searcher ranks stored chunks by vector similarity to a question.
type Searcher struct {
	cfg      *resolved
	pool     *pgxpool.Pool
	embedder embedding.Embedder
	resolver store.FilterResolver
	distance store.Distance

	closeOnce sync.Once
}

// NewSearcher validates cfg and binds a query service to the shared pool.
func NewSearcher(ctx context.Context, cfg SearcherConfig) (*Searcher, error) {
	if cfg.Embedder == nil {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "pgvector: Embedder is required")
	}
	if cfg.Distance == "" {
		cfg.Distance = store.DistanceCosine
	}
	if !cfg.Distance.Valid() {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pgvector: unknown distance function %q", cfg.Distance)
	}

	r, err := resolve(cfg.Config)
	if err != nil {
		return nil, err
	}

	pool, err := acquirePool(ctx, r.connString, r.poolCfg)
	if err != nil {
		return nil, err
	}

	return &Searcher{
		cfg:      r,
		pool:     pool,
		embedder: cfg.Embedder,
		resolver: cfg.FilterResolver,
		distance: cfg.Distance,
	}, nil
}

// Search embeds the question, applies context filters, and returns results
// ordered by descending similarity.
func (q *Searcher) Search(ctx context.Context, params store.SearchParams) ([]store.QueryResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	// Embedder errors propagate untouched; they carry their own codes.
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

	ctx, cancel := context.WithTimeout(ctx, q.cfg.timeout)
	defer cancel()

	if err := ensureRegistered(ctx, q.cfg.connString, q.pool); err != nil {
		return nil, err
	}

	sql, args := q.buildQuery(vec, params, filters)
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		// The raw query text stays out of the error to avoid leaking
		// parameter hints.
		return nil, raglineerr.With(
			classifyPg(err, raglineerr.CodeStoreQueryFailure, "executing similarity search"),
			raglineerr.FieldOperation("Search"),
			raglineerr.FieldTable(q.cfg.table),
		)
	}
	defer rows.Close()

	metaCols := q.metadataColumns()
	results := make([]store.QueryResult, 0, params.Limit)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classifyPg(err, raglineerr.CodeStoreQueryFailure, "reading search row")
		}
		result, err := q.decodeRow(values, metaCols)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPg(err, raglineerr.CodeStoreQueryFailure, "iterating search rows")
	}

	return results, nil
}

// Close releases this searcher's pool reference. Idempotent; never fails.
func (q *Searcher) Close() error {
	q.closeOnce.Do(func() { releasePool(q.cfg.connString) })
	return nil
}

// buildQuery assembles the similarity select. Identifiers are validated at
// construction and quoted here; every value is bound. The limit is
// interpolated only after Validate bounded it.
func (q *Searcher) buildQuery(vec []float32, params store.SearchParams, filters []store.Filter) (string, []any) {
	simExpr := q.similarityExpr()
	metaCols := q.metadataColumns()

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(schema.QuoteIdentifier(q.cfg.mapping.ContentColumn()))
	sb.WriteString(", ")
	sb.WriteString(schema.QuoteIdentifier(q.cfg.mapping.IndexColumn()))
	for _, col := range metaCols {
		sb.WriteString(", ")
		sb.WriteString(schema.QuoteIdentifier(col))
	}
	sb.WriteString(", ")
	sb.WriteString(simExpr)
	sb.WriteString(" AS similarity FROM ")
	sb.WriteString(schema.QuoteIdentifier(q.cfg.table))
	sb.WriteString(" WHERE ")
	sb.WriteString(simExpr)
	sb.WriteString(" >= $2")

	args := []any{vectorParam(vec), params.SimilarityThreshold}
	for _, f := range filters {
		if f.Many {
			fmt.Fprintf(&sb, " AND %s = ANY($%d)", schema.QuoteIdentifier(f.Column), len(args)+1)
		} else {
			fmt.Fprintf(&sb, " AND %s = $%d", schema.QuoteIdentifier(f.Column), len(args)+1)
		}
		args = append(args, f.Value)
	}

	fmt.Fprintf(&sb, " ORDER BY similarity DESC LIMIT %d", params.Limit)
	return sb.String(), args
}

// similarityExpr maps the configured distance onto a [0,1]-oriented
// similarity expression. Inner-product similarity is unbounded; decodeRow
// clamps it.
func (q *Searcher) similarityExpr() string {
	emb := schema.QuoteIdentifier(q.cfg.mapping.EmbeddingColumn())
	switch q.distance {
	case store.DistanceEuclidean:
		return fmt.Sprintf("(1 / (1 + (%s <-> $1)))", emb)
	case store.DistanceInnerProduct:
		return fmt.Sprintf("(-(%s <#> $1))", emb)
	default:
		return fmt.Sprintf("(1 - (%s <=> $1))", emb)
	}
}

func (q *Searcher) metadataColumns() []string {
	fields := q.cfg.mapping.Fields()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i], _ = q.cfg.mapping.Column(f.Name)
	}
	return cols
}

// decodeRow converts one result row (content, index, metadata..., similarity)
// into a QueryResult, failing fast on malformed rows.
func (q *Searcher) decodeRow(values []any, metaCols []string) (store.QueryResult, error) {
	if len(values) != len(metaCols)+3 {
		return store.QueryResult{}, raglineerr.Errorf(raglineerr.CodeSchemaRowInvalid, "search: row has %d columns, want %d", len(values), len(metaCols)+3)
	}

	content, ok := values[0].(string)
	if !ok {
		return store.QueryResult{}, raglineerr.Errorf(raglineerr.CodeSchemaRowInvalid, "search: content column has type %T", values[0])
	}
	index, err := toInt(values[1])
	if err != nil {
		return store.QueryResult{}, raglineerr.Wrapf(err, raglineerr.CodeSchemaRowInvalid, "search: index column")
	}

	rowMap := make(map[string]any, len(metaCols))
	for i, col := range metaCols {
		rowMap[col] = values[2+i]
	}
	metadata, err := q.cfg.mapping.DecodeRow(rowMap)
	if err != nil {
		return store.QueryResult{}, err
	}

	similarity, err := toFloat(values[len(values)-1])
	if err != nil {
		return store.QueryResult{}, raglineerr.Wrapf(err, raglineerr.CodeSchemaRowInvalid, "search: similarity column")
	}

	return store.QueryResult{
		Chunk:      store.Chunk{Content: content, Index: index},
		Similarity: clampSimilarity(similarity),
		Metadata:   metadata,
	}, nil
}

// clampSimilarity forces the reported similarity into [0,1]. Cosine
// similarity can dip below zero for vectors with negative components, and
// inner-product similarity is unbounded.
func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
