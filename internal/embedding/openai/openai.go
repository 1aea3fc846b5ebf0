// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package openai adapts the hosted OpenAI embeddings API to the
// embedding.Embedder contract.
package openai

import (
	"context"
	"errors"
	"strconv"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"golang.org/x/time/rate"

	"github.com/ragline-dev/ragline/internal/embedding"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Config holds OpenAI embedder configuration.
type Config struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server

	// Model is the embedding model id. Defaults to text-embedding-3-small.
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

	// RequestsPerSecond paces outgoing calls. Zero disables pacing.
	RequestsPerSecond float64
}

const defaultModel = "text-embedding-3-small"

// Embedder implements embedding.Embedder on the OpenAI embeddings endpoint.
type Embedder struct {
	client     openaisdk.Client
	model      string
	dimensions int
	maxRetries int
	timeout    time.Duration
	retryDelay time.Duration
	limiter    *rate.Limiter
}

// Compile-time interface check.
var _ embedding.Embedder = (*Embedder)(nil)

// New creates an OpenAI embedder. Returns an error if the API key is missing.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "openai: missing api_key in config")
	}
	if cfg.Dimensions < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "openai: dimensions must be >= 0, got %d", cfg.Dimensions)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries are owned by this adapter so backoff and rate-limit hints
		// stay observable; the SDK's built-in retry is disabled.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
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

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Embedder{
		client:     openaisdk.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.RequestTimeout,
		retryDelay: cfg.RetryDelay,
		limiter:    limiter,
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

// EmbedBatch converts texts into vectors, preserving order. Transient
// failures are retried with exponential backoff; rate-limit responses wait
// for the provider's hint when one is given.
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
			delay := e.retryDelay << (attempt - 2)
			if hint := raglineerr.RetryAfterOf(lastErr); hint > delay {
				delay = hint
			}
			select {
			case <-ctx.Done():
				return nil, raglineerr.Wrapf(ctx.Err(), raglineerr.CodeEmbedTimeout, "openai: cancelled while backing off")
			case <-time.After(delay):
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
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, raglineerr.Wrapf(err, raglineerr.CodeEmbedTimeout, "openai: waiting for rate limiter")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(callCtx, params)
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, raglineerr.Errorf(raglineerr.CodeEmbedResponseInvalid, "openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) {
			return nil, raglineerr.Errorf(raglineerr.CodeEmbedResponseInvalid, "openai: embedding index %d out of range", item.Index)
		}
		if len(item.Embedding) == 0 {
			return nil, raglineerr.New(raglineerr.CodeEmbedResponseInvalid, "openai: empty embedding in response")
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[item.Index] = vec
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, raglineerr.Errorf(raglineerr.CodeEmbedResponseInvalid, "openai: response is missing embedding for input %d", i)
		}
	}

	return vectors, nil
}

// classify maps SDK and transport errors onto the embedder error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedTimeout, "openai: request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedTimeout, "openai: request cancelled")
	}

	var apiErr *openaisdk.Error
	if !errors.As(err, &apiErr) {
		// Transport-level failure with no HTTP status; treated as transient.
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "openai: request failed")
	}

	switch {
	case apiErr.StatusCode == 400 || apiErr.StatusCode == 422:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedInvalidInput, "openai: invalid embedding input")
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedUnauthorized, "openai: request not authorized")
	case apiErr.StatusCode == 429:
		if apiErr.Code == "insufficient_quota" {
			return raglineerr.Wrapf(err, raglineerr.CodeEmbedQuotaExceeded, "openai: quota exhausted")
		}
		wrapped := raglineerr.Wrapf(err, raglineerr.CodeEmbedRateLimited, "openai: rate limited")
		if hint := retryAfterHint(apiErr); hint > 0 {
			wrapped = raglineerr.With(wrapped, raglineerr.FieldRetryAfter(hint))
		}
		return wrapped
	case apiErr.StatusCode >= 500:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "openai: server error")
	default:
		return raglineerr.Wrapf(err, raglineerr.CodeEmbedAPIFailure, "openai: unexpected status %d", apiErr.StatusCode)
	}
}

func retryAfterHint(apiErr *openaisdk.Error) time.Duration {
	if apiErr.Response == nil {
		return 0
	}
	raw := apiErr.Response.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
