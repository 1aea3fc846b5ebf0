// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package gemini_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/embedding/gemini"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := gemini.New(gemini.Config{})
	require.Error(t, err)
	assert.Equal(t, raglineerr.CodeConfigMissingValue, raglineerr.CodeOf(err))
}

func TestEmbedBatch_EmptyInputSkipsNetwork(t *testing.T) {
	e, err := gemini.New(gemini.Config{APIKey: "test-key"})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedBatch_BlankInputRejectedBeforeNetwork(t *testing.T) {
	e, err := gemini.New(gemini.Config{APIKey: "test-key"})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"fine", "   "})
	require.Error(t, err)
	assert.Equal(t, raglineerr.CodeEmbedInvalidInput, raglineerr.CodeOf(err))
}
