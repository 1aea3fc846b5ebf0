// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package gemini adapts the Google Gemini embedding API to the
// embedding.Embedder contract.
package gemini

import (
	"context"
	"errors"
	"time"

	"google.golang.org/genai"

	"github.com/ragline-dev/ragline/internal/embedding"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Config holds Gemini embedder configuration.
type Config struct {
	APIKey string

	// Model is the embedding model id. Defaults to gemini-embedding-001.
	Model string

	// Dimensions requests a reduced output dimensionality. Zero keeps the
	// model's native width.
	Dimensions int

	// MaxRetries caps the attempts per call, the first one included;
	// transient failures are retried until it is reached. Defaults to 3.
	MaxRetries int

	// RequestTimeout bounds each API call. Defaults to 60s.
	RequestTimeout time.Duration

	// RetryDelay is the initial backoff, doubled per attempt. Defaults to 1s.
	RetryDelay time.Duration
}

const defaultModel = "gemini-embedding-001"

// Embedder implements embedding.Embedder on the Gemini API.
type Embedder struct {
	client     *genai.Client
	model      string
	dimensions int
	maxRetries int
	timeout    time.Duration
	retryDelay time.Duration
}

// Compile-time interface check.
var _ embedding.Embedder = (*Embedder)(nil)

// New creates a Gemini embedder. Returns an error if the API key is missing.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "gemini: missing api_key in config")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "gemini: creating client")
	}

	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	return &Embedder{
		client:     client,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.RequestTimeout,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Embed converts one text into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts into vectors, preserving order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := embedding.ValidateInput(texts); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, raglineerr.Wrapf(ctx.Err(), raglineerr.CodeEmbedTimeout, "gemini: cancelled while backing off")
			case <-time.After(e.retryDelay << (attempt - 2)):
			}
		}

		vectors, err := e.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if !raglineerr.IsRetriable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, raglineerr.With(lastErr, raglineerr.FieldAttempt(e.maxRetries))
}

func (e *Embedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var config *genai.EmbedContentConfig
	if e.dimensions > 0 {
		config = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(int32(e.dimensions))}
	}

	resp, err := e.client.Models.EmbedContent(callCtx, e.model, contents, config)
	if err != nil {
		return nil, classify(err)
	}

	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, raglineerr.Errorf(raglineerr.CodeEmbedResponseInvalid, "gemini: got %d embeddings for %d inputs", got, len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, raglineerr.Errorf(raglineerr.CodeEmbedResponseInvalid, "gemini: empty embedding for input %d", i)
		}
		vec := make([]float32, len(emb.Values))
		copy(vec, emb.Values)
		vectors[i] = vec
	}

	return vectors, nil
}

// classify maps genai API errors onto the embedder error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedTimeout, "gemini: request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedTimeout, "gemini: request cancelled")
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "gemini: request failed")
	}

	switch {
	case apiErr.Code == 400:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedInvalidInput, "gemini: invalid embedding input")
	case apiErr.Code == 401 || apiErr.Code == 403:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedUnauthorized, "gemini: request not authorized")
	case apiErr.Code == 429:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedRateLimited, "gemini: rate limited")
	case apiErr.Code >= 500:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "gemini: server error")
	default:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "gemini: unexpected status %d", apiErr.Code)
	}
}
