// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package pgvector

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func testConfig() Config {
	return Config{
		ConnString: "postgres://localhost/ragline_test",
		Table:      "code_chunks",
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
	}
}

func testResolved(t *testing.T) *resolved {
	t.Helper()
	r, err := resolve(testConfig())
	require.NoError(t, err)
	return r
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   raglineerr.Code
	}{
		{"missing conn string", func(c *Config) { c.ConnString = "" }, raglineerr.CodeConfigMissingValue},
		{"missing table", func(c *Config) { c.Table = "" }, raglineerr.CodeConfigMissingValue},
		{"unsafe table", func(c *Config) { c.Table = "t;drop" }, raglineerr.CodeSchemaIdentifierInvalid},
		{"unsafe static column", func(c *Config) { c.StaticContext = map[string]any{"x--y": 1} }, raglineerr.CodeSchemaIdentifierInvalid},
		{"non-scalar static value", func(c *Config) { c.StaticContext = map[string]any{"tenant": []string{"a"}} }, raglineerr.CodeConfigInvalidValue},
		{"static pins fixed column", func(c *Config) { c.StaticContext = map[string]any{"embedding": "x"} }, raglineerr.CodeConfigInvalidValue},
		{"definition without document key", func(c *Config) { c.Definition.DocumentKey = "" }, raglineerr.CodeConfigMissingValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := resolve(cfg)
			require.Error(t, err)
			assert.True(t, raglineerr.HasCode(err, tt.code), "got %s", raglineerr.CodeOf(err))
		})
	}
}

func TestSourceScope_StaticWinsOverMetadata(t *testing.T) {
	r := testResolved(t)

	cols, vals, err := r.sourceScope(map[string]any{"path": "a.go", "repositoryId": int64(99)})
	require.NoError(t, err)
	assert.Equal(t, []string{"repository_id"}, cols)
	assert.Equal(t, []any{int64(7)}, vals)
}

func TestSourceScope_FallsBackToMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.StaticContext = nil
	r, err := resolve(cfg)
	require.NoError(t, err)

	cols, vals, err := r.sourceScope(map[string]any{"path": "a.go", "repositoryId": int64(99)})
	require.NoError(t, err)
	assert.Equal(t, []string{"repository_id"}, cols)
	assert.Equal(t, []any{int64(99)}, vals)

	_, _, err = r.sourceScope(map[string]any{"path": "a.go"})
	require.Error(t, err)
	assert.True(t, raglineerr.HasCode(err, raglineerr.CodeConfigMissingValue))
}

func TestDeleteStatement(t *testing.T) {
	s := &Store{cfg: testResolved(t)}

	sql, args, err := s.deleteStatement(map[string]any{"path": "src/x.ts"}, "src/x.ts")
	require.NoError(t, err)

	assert.Equal(t, `DELETE FROM "code_chunks" WHERE "repository_id" = $1 AND "path" = $2`, sql)
	assert.Equal(t, []any{int64(7), "src/x.ts"}, args)
}

func TestInsertStatement(t *testing.T) {
	s := &Store{cfg: testResolved(t)}

	sql, fixedArgs := s.insertStatement(map[string]any{
		"path":    "src/x.ts",
		"fileSha": "abc",
		// repositoryId is pinned by static context and must not repeat.
		"repositoryId": int64(99),
	})

	assert.Equal(t,
		`INSERT INTO "code_chunks" ("chunk_content", "chunk_index", "embedding", "path", "file_sha", "repository_id") VALUES ($1, $2, $3, $4, $5, $6)`,
		sql,
	)
	assert.Equal(t, []any{"src/x.ts", "abc", int64(7)}, fixedArgs)
}

func TestInsertStatement_SkipsAbsentFields(t *testing.T) {
	s := &Store{cfg: testResolved(t)}

	sql, fixedArgs := s.insertStatement(map[string]any{"path": "src/x.ts", "fileSha": nil})

	assert.Equal(t,
		`INSERT INTO "code_chunks" ("chunk_content", "chunk_index", "embedding", "path", "repository_id") VALUES ($1, $2, $3, $4, $5)`,
		sql,
	)
	assert.Equal(t, []any{"src/x.ts", int64(7)}, fixedArgs)
}

func TestBuildQuery(t *testing.T) {
	q := &Searcher{cfg: testResolved(t), distance: store.DistanceCosine}

	sql, args := q.buildQuery(
		[]float32{1, 0, 0},
		store.SearchParams{Question: "q", Limit: 10, SimilarityThreshold: 0.5},
		[]store.Filter{
			{Column: "path", Value: "a.go"},
			{Column: "repository_id", Value: []int64{1, 2}, Many: true},
		},
	)

	assert.Equal(t,
		`SELECT "chunk_content", "chunk_index", "path", "file_sha", "repository_id", `+
			`(1 - ("embedding" <=> $1)) AS similarity FROM "code_chunks" `+
			`WHERE (1 - ("embedding" <=> $1)) >= $2 AND "path" = $3 AND "repository_id" = ANY($4) `+
			`ORDER BY similarity DESC LIMIT 10`,
		sql,
	)
	require.Len(t, args, 4)
	assert.Equal(t, 0.5, args[1])
}

func TestSimilarityExpr_Distances(t *testing.T) {
	r := testResolved(t)

	cosine := &Searcher{cfg: r, distance: store.DistanceCosine}
	assert.Contains(t, cosine.similarityExpr(), "<=>")

	euclid := &Searcher{cfg: r, distance: store.DistanceEuclidean}
	assert.Contains(t, euclid.similarityExpr(), "<->")

	inner := &Searcher{cfg: r, distance: store.DistanceInnerProduct}
	assert.Contains(t, inner.similarityExpr(), "<#>")
}

func TestDecodeRow(t *testing.T) {
	q := &Searcher{cfg: testResolved(t), distance: store.DistanceCosine}
	metaCols := q.metadataColumns()

	t.Run("valid row", func(t *testing.T) {
		result, err := q.decodeRow([]any{"hello", int32(2), "a.go", "sha", int64(7), float64(0.93)}, metaCols)
		require.NoError(t, err)
		assert.Equal(t, "hello", result.Chunk.Content)
		assert.Equal(t, 2, result.Chunk.Index)
		assert.InDelta(t, 0.93, result.Similarity, 1e-9)
		assert.Equal(t, "a.go", result.Metadata["path"])
		assert.Equal(t, int64(7), result.Metadata["repositoryId"])
	})

	t.Run("similarity clamped", func(t *testing.T) {
		result, err := q.decodeRow([]any{"x", int32(0), "a.go", nil, int64(7), float64(1.4)}, metaCols)
		require.NoError(t, err)
		assert.Equal(t, 1.0, result.Similarity)

		result, err = q.decodeRow([]any{"x", int32(0), "a.go", nil, int64(7), float64(-0.2)}, metaCols)
		require.NoError(t, err)
		assert.Equal(t, 0.0, result.Similarity)
	})

	t.Run("column count mismatch", func(t *testing.T) {
		_, err := q.decodeRow([]any{"x", int32(0)}, metaCols)
		require.Error(t, err)
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeSchemaRowInvalid))
	})

	t.Run("malformed metadata column", func(t *testing.T) {
		_, err := q.decodeRow([]any{"x", int32(0), "a.go", nil, "not-an-int", float64(1)}, metaCols)
		require.Error(t, err)
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeSchemaRowInvalid))
	})
}

func TestClassifyPg(t *testing.T) {
	t.Run("undefined table", func(t *testing.T) {
		err := classifyPg(&pgconn.PgError{Code: pgUndefinedTable}, raglineerr.CodeStoreQueryFailure, "op")
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeStoreTableNotFound))
		assert.False(t, raglineerr.IsRetriable(err))
	})

	t.Run("constraint violation", func(t *testing.T) {
		err := classifyPg(&pgconn.PgError{Code: "23505"}, raglineerr.CodeStoreQueryFailure, "op")
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeStoreConstraintViolation))
		assert.False(t, raglineerr.IsRetriable(err))
	})

	t.Run("query cancelled", func(t *testing.T) {
		err := classifyPg(&pgconn.PgError{Code: pgQueryCanceled}, raglineerr.CodeStoreQueryFailure, "op")
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeStoreTimeout))
	})

	t.Run("deadline exceeded", func(t *testing.T) {
		err := classifyPg(context.DeadlineExceeded, raglineerr.CodeStoreQueryFailure, "op")
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeStoreTimeout))
	})

	t.Run("fallback", func(t *testing.T) {
		err := classifyPg(errors.New("boom"), raglineerr.CodeStoreTransactionFailure, "op")
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeStoreTransactionFailure))
		assert.True(t, raglineerr.IsRetriable(err))
	})
}

func TestClampSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, clampSimilarity(-3))
	assert.Equal(t, 1.0, clampSimilarity(2))
	assert.Equal(t, 0.25, clampSimilarity(0.25))
}
