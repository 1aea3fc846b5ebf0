// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/store"
	"github.com/ragline-dev/ragline/internal/store/sqlite"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func TestNewSearcher_Validation(t *testing.T) {
	cfg := testConfig(t)

	_, err := sqlite.NewSearcher(sqlite.SearcherConfig{Config: cfg})
	require.Error(t, err)
	assert.True(t, raglineerr.IsConfiguration(err))

	cfg.Distance = store.DistanceInnerProduct
	_, err = sqlite.NewSearcher(sqlite.SearcherConfig{Config: cfg, Embedder: stubEmbedder{vec: []float32{1, 0, 0}}})
	require.Error(t, err)
	assert.True(t, raglineerr.IsConfiguration(err))
}

func TestSearch_ParamValidation(t *testing.T) {
	cfg := testConfig(t)
	q := openSearcher(t, cfg, nil)
	ctx := context.Background()

	_, err := q.Search(ctx, store.SearchParams{Question: "  ", Limit: 5})
	assert.True(t, raglineerr.HasCode(err, raglineerr.CodeQueryRequestInvalid))

	_, err = q.Search(ctx, store.SearchParams{Question: "q", Limit: 0})
	assert.True(t, raglineerr.HasCode(err, raglineerr.CodeQueryRequestInvalid))

	_, err = q.Search(ctx, store.SearchParams{Question: "q", Limit: 5, SimilarityThreshold: 1.01})
	assert.True(t, raglineerr.HasCode(err, raglineerr.CodeQueryRequestInvalid))
}

func TestSearch_ContextFilter(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, map[string]any{"path": "a"}, embeddedChunks("first a", "second a")))
	require.NoError(t, s.Insert(ctx, map[string]any{"path": "b"}, embeddedChunks("only b")))

	resolver := func(_ context.Context, queryContext map[string]any) (map[string]any, error) {
		return map[string]any{"path": queryContext["path"]}, nil
	}
	q := openSearcher(t, cfg, resolver)

	results, err := q.Search(ctx, store.SearchParams{
		Question: "anything",
		Limit:    10,
		Context:  map[string]any{"path": "a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "a", r.Metadata["path"])
	}
}

func TestSearch_ThresholdAndLimit(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	q := openSearcher(t, cfg, nil)
	ctx := context.Background()

	contents := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6"}
	require.NoError(t, s.Insert(ctx, map[string]any{"path": "a"}, embeddedChunks(contents...)))

	// All stored similarities are 1.0 with the stub embedder.
	results, err := q.Search(ctx, store.SearchParams{Question: "q", Limit: 5, SimilarityThreshold: 1.0})
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for _, r := range results {
		assert.InDelta(t, 1.0, r.Similarity, 1e-6)
	}

	results, err = q.Search(ctx, store.SearchParams{Question: "q", Limit: 5, SimilarityThreshold: 0.5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 5)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.5)
	}
}

func TestSearch_OrderingNonIncreasing(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	q := openSearcher(t, cfg, nil)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, map[string]any{"path": "a"}, embeddedChunks("x", "y", "z")))

	results, err := q.Search(ctx, store.SearchParams{Question: "q", Limit: 10})
	require.NoError(t, err)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	cfg := testConfig(t)
	openStore(t, cfg) // create tables
	q := openSearcher(t, cfg, nil)

	results, err := q.Search(context.Background(), store.SearchParams{Question: "q", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_MetadataRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	q := openSearcher(t, cfg, nil)
	ctx := context.Background()

	meta := map[string]any{"path": "pkg/util.go", "fileSha": "deadbeef", "repositoryId": int64(7)}
	require.NoError(t, s.Insert(ctx, meta, embeddedChunks("content")))

	results, err := q.Search(ctx, store.SearchParams{Question: "q", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "pkg/util.go", results[0].Metadata["path"])
	assert.Equal(t, "deadbeef", results[0].Metadata["fileSha"])
	assert.Equal(t, int64(7), results[0].Metadata["repositoryId"])
	assert.Equal(t, 0, results[0].Chunk.Index)
	assert.Equal(t, "content", results[0].Chunk.Content)
}
