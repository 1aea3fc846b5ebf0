// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package store defines the chunk persistence and retrieval contracts shared
// by the ragline storage backends.
package store

import (
	"context"
	"strings"

	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Chunk is one fragment of a document's text.
type Chunk struct {
	// Content is the trimmed, non-empty fragment text.
	Content string

	// Index is the fragment's position within its document, dense from 0.
	Index int
}

// EmbeddedChunk is a chunk annotated with its embedding vector.
type EmbeddedChunk struct {
	Chunk

	// Embedding has the fixed dimensionality of the configured embedder.
	Embedding []float32
}

// QueryResult is one ranked hit returned by a Searcher.
type QueryResult struct {
	Chunk      Chunk
	Similarity float64
	Metadata   map[string]any
}

// ChunkStore is the write side: it persists the chunks of a document with
// transactional replace semantics at the (source scope, document key) grain.
type ChunkStore interface {
	// Insert validates metadata, then atomically replaces all chunks stored
	// for the document's (source scope, document key) with the given batch.
	// On failure the prior generation is preserved.
	Insert(ctx context.Context, metadata map[string]any, chunks []EmbeddedChunk) error

	// DeleteByDocumentKey removes every chunk matching both the store's
	// source scope and the metadata's document key. No-op if none match.
	DeleteByDocumentKey(ctx context.Context, metadata map[string]any) error

	// DeleteBySourceScope removes every chunk in the store's configured
	// source scope. It refuses to run with an empty scope.
	DeleteBySourceScope(ctx context.Context) error

	// Close releases the store's pool references. Idempotent.
	Close() error
}

// FilterResolver turns a request-time query context into equality predicates
// keyed by physical column name. Values may be scalars or slices of scalars.
type FilterResolver func(ctx context.Context, queryContext map[string]any) (map[string]any, error)

// Searcher is the read side: similarity-ranked retrieval over stored chunks.
type Searcher interface {
	Search(ctx context.Context, params SearchParams) ([]QueryResult, error)
}

// Distance selects the vector distance function used for ranking.
type Distance string

const (
	DistanceCosine       Distance = "cosine"
	DistanceEuclidean    Distance = "euclidean"
	DistanceInnerProduct Distance = "inner_product"
)

// Valid reports whether d is a known distance function.
func (d Distance) Valid() bool {
	switch d {
	case DistanceCosine, DistanceEuclidean, DistanceInnerProduct:
		return true
	default:
		return false
	}
}

// MaxSearchLimit bounds how many results one search may request.
const MaxSearchLimit = 1000

// SearchParams are the caller-supplied inputs of one search.
type SearchParams struct {
	// Question is the natural-language query. Must be non-blank.
	Question string

	// Limit caps the result count; must lie in [1, MaxSearchLimit].
	Limit int

	// SimilarityThreshold drops results below it; must lie in [0, 1].
	SimilarityThreshold float64

	// Context is handed to the configured FilterResolver.
	Context map[string]any
}

// Validate checks the numeric and text preconditions of the search request.
func (p SearchParams) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return raglineerr.New(raglineerr.CodeQueryRequestInvalid, "search: question must not be blank")
	}
	if p.Limit < 1 || p.Limit > MaxSearchLimit {
		return raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "search: limit must be in [1, %d], got %d", MaxSearchLimit, p.Limit)
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "search: similarity threshold must be in [0, 1], got %v", p.SimilarityThreshold)
	}
	return nil
}
