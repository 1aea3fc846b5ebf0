// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	"github.com/ragline-dev/ragline/internal/store/sqlite"
)

// stubEmbedder returns the same vector for every input, so every stored row
// matches a query with similarity 1.
type stubEmbedder struct {
	vec []float32
}

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, nil
}

func (s stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func testConfig(t *testing.T) sqlite.Config {
	t.Helper()
	return sqlite.Config{
		Path:  filepath.Join(t.TempDir(), "chunks.db"),
		Table: "code_chunks",
		Definition: schema.Definition{
			Fields: []schema.Field{
				{Name: "path", Type: schema.TypeString},
				{Name: "fileSha", Type: schema.TypeString},
				{Name: "repositoryId", Type: schema.TypeInt},
			},
			DocumentKey: "path",
			SourceKeys:  []string{"repositoryId"},
		},
		StaticContext: map[string]any{"repository_id": int64(7)},
		Dimensions:    3,
	}
}

func openStore(t *testing.T, cfg sqlite.Config) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func openSearcher(t *testing.T, cfg sqlite.Config, resolver store.FilterResolver) *sqlite.Searcher {
	t.Helper()
	q, err := sqlite.NewSearcher(sqlite.SearcherConfig{
		Config:         cfg,
		Embedder:       stubEmbedder{vec: []float32{1, 0, 0}},
		FilterResolver: resolver,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func embeddedChunks(contents ...string) []store.EmbeddedChunk {
	chunks := make([]store.EmbeddedChunk, len(contents))
	for i, content := range contents {
		chunks[i] = store.EmbeddedChunk{
			Chunk:     store.Chunk{Content: content, Index: i},
			Embedding: []float32{1, 0, 0},
		}
	}
	return chunks
}
