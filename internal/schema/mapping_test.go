// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package schema_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/schema"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func repoDefinition(t *testing.T) schema.Definition {
	t.Helper()
	return schema.Definition{
		Fields: []schema.Field{
			{Name: "path", Type: schema.TypeString},
			{Name: "fileSha", Type: schema.TypeString},
			{Name: "repositoryIndexDbId", Type: schema.TypeInt},
			{Name: "updatedAt", Type: schema.TypeTime},
		},
		DocumentKey: "path",
		SourceKeys:  []string{"repositoryIndexDbId"},
	}
}

func TestNewMapping_Defaults(t *testing.T) {
	m, err := schema.NewMapping(repoDefinition(t))
	require.NoError(t, err)

	col, ok := m.Column("fileSha")
	require.True(t, ok)
	assert.Equal(t, "file_sha", col)

	col, ok = m.Column("repositoryIndexDbId")
	require.True(t, ok)
	assert.Equal(t, "repository_index_db_id", col)

	assert.Equal(t, "path", m.DocumentKey())
	assert.Equal(t, "path", m.DocumentKeyColumn())
	assert.Equal(t, []string{"repository_index_db_id"}, m.SourceKeyColumns())

	assert.Equal(t, "chunk_content", m.ContentColumn())
	assert.Equal(t, "chunk_index", m.IndexColumn())
	assert.Equal(t, "embedding", m.EmbeddingColumn())
}

func TestNewMapping_Overrides(t *testing.T) {
	def := repoDefinition(t)
	def.ColumnOverrides = map[string]string{"fileSha": "sha"}
	def.ContentColumn = "body"
	def.EmbeddingColumn = "vec"

	m, err := schema.NewMapping(def)
	require.NoError(t, err)

	col, _ := m.Column("fileSha")
	assert.Equal(t, "sha", col)
	assert.Equal(t, "body", m.ContentColumn())
	assert.Equal(t, "vec", m.EmbeddingColumn())
	assert.Equal(t, "chunk_index", m.IndexColumn())
}

func TestNewMapping_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Definition)
		code   raglineerr.Code
	}{
		{
			name:   "no fields",
			mutate: func(d *schema.Definition) { d.Fields = nil },
			code:   raglineerr.CodeConfigMissingValue,
		},
		{
			name:   "missing document key",
			mutate: func(d *schema.Definition) { d.DocumentKey = "" },
			code:   raglineerr.CodeConfigMissingValue,
		},
		{
			name:   "document key not declared",
			mutate: func(d *schema.Definition) { d.DocumentKey = "missing" },
			code:   raglineerr.CodeConfigMissingValue,
		},
		{
			name:   "source key not declared",
			mutate: func(d *schema.Definition) { d.SourceKeys = []string{"tenant"} },
			code:   raglineerr.CodeConfigMissingValue,
		},
		{
			name: "reserved field name",
			mutate: func(d *schema.Definition) {
				d.Fields = append(d.Fields, schema.Field{Name: "type", Type: schema.TypeString})
			},
			code: raglineerr.CodeSchemaFieldInvalid,
		},
		{
			name: "unsafe field name",
			mutate: func(d *schema.Definition) {
				d.Fields = append(d.Fields, schema.Field{Name: "path;drop", Type: schema.TypeString})
			},
			code: raglineerr.CodeSchemaIdentifierInvalid,
		},
		{
			name: "unsafe column override",
			mutate: func(d *schema.Definition) {
				d.ColumnOverrides = map[string]string{"path": `p";--`}
			},
			code: raglineerr.CodeSchemaIdentifierInvalid,
		},
		{
			name:   "unsafe fixed column",
			mutate: func(d *schema.Definition) { d.ContentColumn = "content--" },
			code:   raglineerr.CodeSchemaIdentifierInvalid,
		},
		{
			name: "override for undeclared field",
			mutate: func(d *schema.Definition) {
				d.ColumnOverrides = map[string]string{"nope": "nope"}
			},
			code: raglineerr.CodeConfigInvalidValue,
		},
		{
			name: "duplicate field",
			mutate: func(d *schema.Definition) {
				d.Fields = append(d.Fields, schema.Field{Name: "path", Type: schema.TypeString})
			},
			code: raglineerr.CodeSchemaFieldInvalid,
		},
		{
			name: "unknown field type",
			mutate: func(d *schema.Definition) {
				d.Fields = append(d.Fields, schema.Field{Name: "blob", Type: schema.FieldType("bytes")})
			},
			code: raglineerr.CodeSchemaFieldInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := repoDefinition(t)
			tt.mutate(&def)

			_, err := schema.NewMapping(def)
			require.Error(t, err)
			assert.True(t, raglineerr.HasCode(err, tt.code), "got code %s", raglineerr.CodeOf(err))
		})
	}
}

func TestValidateRecord(t *testing.T) {
	m, err := schema.NewMapping(repoDefinition(t))
	require.NoError(t, err)

	t.Run("valid record", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{
			"path":                "src/a.go",
			"fileSha":             "abc123",
			"repositoryIndexDbId": 42,
			"updatedAt":           time.Now(),
		})
		assert.NoError(t, err)
	})

	t.Run("nil optional field is absent", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{
			"path":    "src/a.go",
			"fileSha": nil,
		})
		assert.NoError(t, err)
	})

	t.Run("missing document key", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{"fileSha": "abc123"})
		require.Error(t, err)
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeSchemaRecordInvalid))

		issues := schema.IssuesOf(err)
		require.Len(t, issues, 1)
		assert.Equal(t, "path", issues[0].Path)
	})

	t.Run("undeclared field rejected", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{
			"path":  "src/a.go",
			"extra": "surprise",
		})
		require.Error(t, err)
		issues := schema.IssuesOf(err)
		require.Len(t, issues, 1)
		assert.Equal(t, "extra", issues[0].Path)
	})

	t.Run("type mismatch collected per field", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{
			"path":                "src/a.go",
			"fileSha":             7,
			"repositoryIndexDbId": "not-a-number",
		})
		require.Error(t, err)
		issues := schema.IssuesOf(err)
		assert.Len(t, issues, 2)
	})

	t.Run("integral float accepted for int", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{
			"path":                "src/a.go",
			"repositoryIndexDbId": float64(42),
		})
		assert.NoError(t, err)
	})

	t.Run("fractional float rejected for int", func(t *testing.T) {
		err := m.ValidateRecord(map[string]any{
			"path":                "src/a.go",
			"repositoryIndexDbId": 42.5,
		})
		assert.Error(t, err)
	})
}

func TestDecodeRow(t *testing.T) {
	m, err := schema.NewMapping(repoDefinition(t))
	require.NoError(t, err)

	t.Run("round trip with driver types", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		record, err := m.DecodeRow(map[string]any{
			"path":                   "src/a.go",
			"file_sha":               "abc123",
			"repository_index_db_id": int64(42),
			"updated_at":             now.Format(time.RFC3339),
		})
		require.NoError(t, err)
		assert.Equal(t, "src/a.go", record["path"])
		assert.Equal(t, int64(42), record["repositoryIndexDbId"])
		assert.Equal(t, now, record["updatedAt"])
	})

	t.Run("malformed row fails fast", func(t *testing.T) {
		_, err := m.DecodeRow(map[string]any{
			"path":                   "src/a.go",
			"repository_index_db_id": "garbage",
		})
		require.Error(t, err)
		assert.True(t, raglineerr.HasCode(err, raglineerr.CodeSchemaRowInvalid))
	})

	t.Run("null columns are skipped", func(t *testing.T) {
		record, err := m.DecodeRow(map[string]any{
			"path":     "src/a.go",
			"file_sha": nil,
		})
		require.NoError(t, err)
		_, ok := record["fileSha"]
		assert.False(t, ok)
	})
}

func TestDocumentKeyValue(t *testing.T) {
	m, err := schema.NewMapping(repoDefinition(t))
	require.NoError(t, err)

	v, err := m.DocumentKeyValue(map[string]any{"path": "src/a.go"})
	require.NoError(t, err)
	assert.Equal(t, "src/a.go", v)

	_, err = m.DocumentKeyValue(map[string]any{"fileSha": "x"})
	assert.Error(t, err)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"chunk_content"`, schema.QuoteIdentifier("chunk_content"))
	assert.Equal(t, `"we""ird"`, schema.QuoteIdentifier(`we"ird`))
}

func TestValidIdentifier(t *testing.T) {
	valid := []string{"a", "_a", "A1", "chunk_content", "Repo_Index_9"}
	for _, s := range valid {
		assert.True(t, schema.ValidIdentifier(s), s)
	}
	invalid := []string{"", "1a", "a-b", "a b", "a;b", `a"b`, "a.b", "naïve"}
	for _, s := range invalid {
		assert.False(t, schema.ValidIdentifier(s), s)
	}
}
