// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package embedding defines the embedder contract and shared helpers for
// the provider adapters.
package embedding

import (
	"context"
	"strings"

	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Embedder converts text into fixed-dimension vectors. Implementations are
// stateless from the caller's perspective; they may pace or retry
// internally.
type Embedder interface {
	// Embed converts one non-empty text into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts a slice of texts into one vector per text,
	// preserving order. An empty input returns an empty output without any
	// external call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ValidateInput rejects blank inputs before they reach a provider.
func ValidateInput(texts []string) error {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return raglineerr.Errorf(raglineerr.CodeEmbedInvalidInput, "embedding input %d is blank", i)
		}
	}
	return nil
}
