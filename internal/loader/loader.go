// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package loader defines the document producer contract and ships the
// filesystem reference loader.
package loader

import "context"

// Document is one unit of ingestible text plus its metadata record. The
// metadata must conform to the schema declared on the target store;
// producers must not yield documents with empty content.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Item is one element of a loader's stream: a document or a terminal error.
// A non-nil Err ends the ingestion run.
type Item struct {
	Document Document
	Err      error
}

// Loader produces a lazy, possibly unbounded stream of documents. The
// channel is closed when the source is exhausted; producers own their own
// source-side rate limiting and retries.
type Loader interface {
	Load(ctx context.Context) (<-chan Item, error)
}
