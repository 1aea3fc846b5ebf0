// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package pipeline drives one end-to-end ingestion run: it streams documents
// from a loader, chunks and batch-embeds each one, and stores the result
// with per-document transactional replacement. Failures are isolated per
// document; the run keeps going.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ragline-dev/ragline/internal/chunker"
	"github.com/ragline-dev/ragline/internal/embedding"
	"github.com/ragline-dev/ragline/internal/loader"
	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Defaults for Config.
const (
	DefaultBatchSize  = 64
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// Progress is the counter snapshot handed to OnProgress after every
// document. ProcessedDocuments is monotonically non-decreasing across
// callbacks, including concurrent runs.
type Progress struct {
	ProcessedDocuments int
	SucceededDocuments int
	FailedDocuments    int
	TotalChunks        int
}

// ErrorEvent describes one failed ingestion attempt.
type ErrorEvent struct {
	Document  loader.Document
	Err       error
	WillRetry bool
	Attempt   int
}

// DocumentError records a document that exhausted its retries.
type DocumentError struct {
	DocumentKey any
	Err         error
}

// Result summarises one ingestion run.
type Result struct {
	RunID              string
	TotalDocuments     int
	SucceededDocuments int
	FailedDocuments    int
	TotalChunks        int
	Errors             []DocumentError
}

// MetadataTransform rewrites a document's metadata before validation and
// storage, e.g. to graft source-key fields onto loader output.
type MetadataTransform func(metadata map[string]any) (map[string]any, error)

// Config wires one pipeline instance.
type Config struct {
	// Chunker splits document text. Required.
	Chunker *chunker.LineChunker

	// Embedder converts chunk batches into vectors. Required.
	Embedder embedding.Embedder

	// Store persists embedded chunks. Required.
	Store store.ChunkStore

	// Definition declares the metadata schema; the pipeline validates each
	// document's metadata against it (after MetadataTransform) and reads the
	// document key from it for progress and error reporting. Required.
	Definition schema.Definition

	// BatchSize caps how many texts go into one EmbedBatch call.
	BatchSize int

	// MaxRetries bounds attempts per document for retriable failures.
	MaxRetries int

	// RetryDelay is the initial backoff, doubled per attempt.
	RetryDelay time.Duration

	// Concurrency is how many documents may be processed in parallel.
	// Zero or one means sequential.
	Concurrency int

	// OnProgress is invoked after every document, success or failure.
	OnProgress func(Progress)

	// OnError is invoked once per failed attempt.
	OnError func(ErrorEvent)

	// MetadataTransform optionally rewrites metadata between the loader
	// and the store.
	MetadataTransform MetadataTransform
}

// Pipeline orchestrates ingestion runs. Safe for sequential reuse; one Run
// at a time per instance.
type Pipeline struct {
	cfg     Config
	mapping *schema.Mapping
}

// New validates cfg and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Chunker == nil {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "pipeline: Chunker is required")
	}
	if cfg.Embedder == nil {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "pipeline: Embedder is required")
	}
	if cfg.Store == nil {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "pipeline: Store is required")
	}
	if cfg.BatchSize < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pipeline: BatchSize must be >= 0, got %d", cfg.BatchSize)
	}
	if cfg.MaxRetries < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pipeline: MaxRetries must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.Concurrency < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pipeline: Concurrency must be >= 0, got %d", cfg.Concurrency)
	}

	mapping, err := schema.NewMapping(cfg.Definition)
	if err != nil {
		return nil, err
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}

	return &Pipeline{cfg: cfg, mapping: mapping}, nil
}

// run accumulates one Run's counters behind a mutex so concurrent document
// workers observe consistent, monotonic progress.
type run struct {
	mu     sync.Mutex
	result Result
}

// Run consumes the loader's stream until it ends, the loader fails, or ctx
// is cancelled. The returned Result is populated in every case; the error
// is non-nil only for a loader failure or cancellation.
func (p *Pipeline) Run(ctx context.Context, l loader.Loader) (Result, error) {
	r := &run{result: Result{RunID: uuid.NewString()}}

	items, err := l.Load(ctx)
	if err != nil {
		return r.result, raglineerr.Wrapf(err, raglineerr.CodeLoaderStreamFailure, "starting loader stream")
	}

	g := &errgroup.Group{}
	g.SetLimit(p.cfg.Concurrency)

	var terminal error
intake:
	for {
		select {
		case <-ctx.Done():
			terminal = raglineerr.Wrapf(ctx.Err(), raglineerr.CodeOperationInvalid, "ingestion run cancelled")
			break intake
		case item, open := <-items:
			if !open {
				break intake
			}
			if item.Err != nil {
				terminal = raglineerr.Wrapf(item.Err, raglineerr.CodeLoaderStreamFailure, "loader stream failed")
				break intake
			}
			doc := item.Document
			g.Go(func() error {
				p.processDocument(ctx, r, doc)
				return nil
			})
		}
	}

	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, terminal
}

// processDocument runs the chunk -> embed -> store sequence for one
// document with retry on retriable failures, then updates counters.
func (p *Pipeline) processDocument(ctx context.Context, r *run, doc loader.Document) {
	chunksWritten, err := p.ingestOne(ctx, doc)

	r.mu.Lock()
	r.result.TotalDocuments++
	if err != nil {
		r.result.FailedDocuments++
		key := p.documentKey(doc)
		r.result.Errors = append(r.result.Errors, DocumentError{DocumentKey: key, Err: err})
		slog.Warn("document ingestion failed",
			slog.Any("document_key", key),
			slog.Any("error", err),
		)
	} else {
		r.result.SucceededDocuments++
		r.result.TotalChunks += chunksWritten
	}
	progress := Progress{
		ProcessedDocuments: r.result.TotalDocuments,
		SucceededDocuments: r.result.SucceededDocuments,
		FailedDocuments:    r.result.FailedDocuments,
		TotalChunks:        r.result.TotalChunks,
	}
	// The callback runs under the lock so concurrent workers deliver
	// snapshots in the order they were taken.
	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(progress)
	}
	r.mu.Unlock()
}

// ingestOne returns the number of chunks written, or the last attempt's
// error once retries are exhausted.
func (p *Pipeline) ingestOne(ctx context.Context, doc loader.Document) (int, error) {
	metadata := doc.Metadata
	if p.cfg.MetadataTransform != nil {
		transformed, err := p.cfg.MetadataTransform(metadata)
		if err != nil {
			return 0, raglineerr.Wrapf(err, raglineerr.CodePipelineDocumentFailed, "transforming metadata")
		}
		metadata = transformed
	}

	if err := p.mapping.ValidateRecord(metadata); err != nil {
		return 0, raglineerr.Wrapf(err, raglineerr.CodePipelineDocumentFailed, "validating metadata")
	}

	if strings.TrimSpace(doc.Content) == "" {
		slog.Debug("skipping empty document", slog.Any("document_key", p.documentKey(doc)))
		return 0, nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return 0, raglineerr.Wrapf(ctx.Err(), raglineerr.CodePipelineDocumentFailed, "document abandoned on cancellation")
		}

		written, err := p.attempt(ctx, doc.Content, metadata)
		if err == nil {
			return written, nil
		}
		lastErr = err

		willRetry := attempt < p.cfg.MaxRetries && raglineerr.IsRetriable(err) && ctx.Err() == nil
		if p.cfg.OnError != nil {
			p.cfg.OnError(ErrorEvent{Document: doc, Err: err, WillRetry: willRetry, Attempt: attempt})
		}
		if !willRetry {
			break
		}
		if err := sleep(ctx, backoff(p.cfg.RetryDelay, attempt)); err != nil {
			return 0, raglineerr.Wrapf(err, raglineerr.CodePipelineDocumentFailed, "retry abandoned on cancellation")
		}
	}
	return 0, raglineerr.Wrap(lastErr, raglineerr.CodePipelineDocumentFailed, "ingesting document",
		raglineerr.FieldDocumentKey(p.documentKey(doc)))
}

// attempt performs one full chunk -> embed -> store pass. Embedding always
// completes before the store opens its transaction.
func (p *Pipeline) attempt(ctx context.Context, content string, metadata map[string]any) (int, error) {
	chunks := p.cfg.Chunker.Split(content)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	embedded := make([]store.EmbeddedChunk, 0, len(chunks))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(texts))
		vectors, err := p.cfg.Embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return 0, err
		}
		if len(vectors) != end-start {
			return 0, raglineerr.Errorf(raglineerr.CodeEmbedResponseInvalid,
				"embedder returned %d vectors for %d texts", len(vectors), end-start)
		}
		for i, vec := range vectors {
			embedded = append(embedded, store.EmbeddedChunk{Chunk: chunks[start+i], Embedding: vec})
		}
	}

	if err := p.cfg.Store.Insert(ctx, metadata, embedded); err != nil {
		return 0, err
	}
	return len(embedded), nil
}

// documentKey reads the document key from the source metadata for reporting
// purposes; it tolerates malformed metadata and falls back to nil.
func (p *Pipeline) documentKey(doc loader.Document) any {
	key, err := p.mapping.DocumentKeyValue(doc.Metadata)
	if err != nil {
		return nil
	}
	return key
}

// backoff doubles the initial delay per completed attempt.
func backoff(initial time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
