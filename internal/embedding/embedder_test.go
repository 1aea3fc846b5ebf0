// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package embedding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline-dev/ragline/internal/embedding"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func TestValidateInput(t *testing.T) {
	assert.NoError(t, embedding.ValidateInput(nil))
	assert.NoError(t, embedding.ValidateInput([]string{"hello", "world"}))

	err := embedding.ValidateInput([]string{"hello", "   "})
	require.Error(t, err)
	assert.True(t, raglineerr.HasCode(err, raglineerr.CodeEmbedInvalidInput))

	err = embedding.ValidateInput([]string{""})
	require.Error(t, err)
	assert.True(t, raglineerr.HasCode(err, raglineerr.CodeEmbedInvalidInput))
}
