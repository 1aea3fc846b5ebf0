// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/loader"
	"github.com/ragline-dev/ragline/internal/schema"
)

func TestBuildDefinition(t *testing.T) {
	def := buildDefinition()

	assert.Equal(t, loader.FieldPath, def.DocumentKey)
	assert.Equal(t, []string{datasetField}, def.SourceKeys)

	mapping, err := schema.NewMapping(def)
	require.NoError(t, err)

	col, ok := mapping.Column(loader.FieldFileSha)
	require.True(t, ok)
	assert.Equal(t, "file_sha", col)

	col, ok = mapping.Column(datasetField)
	require.True(t, ok)
	assert.Equal(t, "dataset", col)
}

func TestScopedFilterResolver(t *testing.T) {
	mapping, err := schema.NewMapping(buildDefinition())
	require.NoError(t, err)

	resolver := scopedFilterResolver(mapping, "docs")

	filters, err := resolver(context.Background(), map[string]any{loader.FieldPath: "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "a.txt", "dataset": "docs"}, filters)

	// The dataset scope applies even with no caller filters.
	filters, err = resolver(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dataset": "docs"}, filters)

	_, err = resolver(context.Background(), map[string]any{"unknownField": 1})
	require.Error(t, err)
}

func TestAddDataset(t *testing.T) {
	transform := addDataset("docs")

	in := map[string]any{"path": "a.txt"}
	out, err := transform(in)
	require.NoError(t, err)
	assert.Equal(t, "docs", out[datasetField])
	assert.Equal(t, "a.txt", out["path"])
	// The source record is untouched.
	assert.NotContains(t, in, datasetField)
}

func TestParseFilters(t *testing.T) {
	filters, err := parseFilters([]string{"path=src/a.txt", "fileSha=abc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "src/a.txt", "fileSha": "abc"}, filters)

	filters, err = parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, filters)

	_, err = parseFilters([]string{"=value"})
	require.Error(t, err)
}
