// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"context"
	"time"

	"github.com/ragline-dev/ragline/internal/chunker"
	"github.com/ragline-dev/ragline/internal/config"
	"github.com/ragline-dev/ragline/internal/embedding"
	geminiembed "github.com/ragline-dev/ragline/internal/embedding/gemini"
	openaiembed "github.com/ragline-dev/ragline/internal/embedding/openai"
	"github.com/ragline-dev/ragline/internal/loader"
	"github.com/ragline-dev/ragline/internal/schema"
	"github.com/ragline-dev/ragline/internal/store"
	"github.com/ragline-dev/ragline/internal/store/pgvector"
	"github.com/ragline-dev/ragline/internal/store/sqlite"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// datasetField is the source-key metadata field the CLI adds on top of the
// filesystem loader's schema. Its value comes from storage.dataset and is
// pinned through static context, partitioning the chunk table per dataset.
const datasetField = "dataset"

// buildDefinition is the single place where the CLI's metadata schema is
// declared: the filesystem loader's fields plus the dataset source key.
func buildDefinition() schema.Definition {
	def := loader.FSDefinition()
	def.Fields = append(def.Fields, schema.Field{Name: datasetField, Type: schema.TypeString})
	def.SourceKeys = []string{datasetField}
	return def
}

// staticContext pins the dataset column for every write and purge. The
// column name comes from the same mapping the search filter resolver uses.
func staticContext(cfg *config.Config) map[string]any {
	col := datasetField
	if mapping, err := schema.NewMapping(buildDefinition()); err == nil {
		col, _ = mapping.Column(datasetField)
	}
	return map[string]any{col: cfg.Storage.Dataset}
}

// newEmbedder constructs the configured provider adapter.
func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		return openaiembed.New(openaiembed.Config{
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxRetries: cfg.Embedding.MaxRetries,
		})
	case "gemini":
		return geminiembed.New(geminiembed.Config{
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxRetries: cfg.Embedding.MaxRetries,
		})
	default:
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// newChunker builds the line chunker from config.
func newChunker(cfg *config.Config) (*chunker.LineChunker, error) {
	return chunker.New(chunker.Config{
		MaxLines:     cfg.Chunker.MaxLines,
		Overlap:      cfg.Chunker.Overlap,
		MaxChunkSize: cfg.Chunker.MaxChunkSize,
	})
}

// newChunkStore constructs the write side for the configured backend.
func newChunkStore(ctx context.Context, cfg *config.Config) (store.ChunkStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return pgvector.NewStore(ctx, pgvector.Config{
			ConnString:    cfg.Storage.ConnString,
			Table:         cfg.Storage.Table,
			Definition:    buildDefinition(),
			StaticContext: staticContext(cfg),
		})
	case "sqlite":
		return sqlite.NewStore(sqlite.Config{
			Path:          cfg.Storage.Path,
			Table:         cfg.Storage.Table,
			Definition:    buildDefinition(),
			StaticContext: staticContext(cfg),
			Dimensions:    cfg.Embedding.Dimensions,
			Distance:      store.Distance(cfg.Query.Distance),
		})
	default:
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "unknown storage backend %q", cfg.Storage.Backend)
	}
}

// searcher pairs the read contract with its resource release.
type searcher interface {
	store.Searcher
	Close() error
}

// newSearcher constructs the read side for the configured backend. The
// filter resolver maps logical field names from the query context onto
// their physical columns; the dataset scope is always applied.
func newSearcher(ctx context.Context, cfg *config.Config, embedder embedding.Embedder) (searcher, error) {
	def := buildDefinition()
	mapping, err := schema.NewMapping(def)
	if err != nil {
		return nil, err
	}
	resolver := scopedFilterResolver(mapping, cfg.Storage.Dataset)

	switch cfg.Storage.Backend {
	case "postgres":
		return pgvector.NewSearcher(ctx, pgvector.SearcherConfig{
			Config: pgvector.Config{
				ConnString:    cfg.Storage.ConnString,
				Table:         cfg.Storage.Table,
				Definition:    def,
				StaticContext: staticContext(cfg),
			},
			Embedder:       embedder,
			FilterResolver: resolver,
			Distance:       store.Distance(cfg.Query.Distance),
		})
	case "sqlite":
		return sqlite.NewSearcher(sqlite.SearcherConfig{
			Config: sqlite.Config{
				Path:          cfg.Storage.Path,
				Table:         cfg.Storage.Table,
				Definition:    def,
				StaticContext: staticContext(cfg),
				Dimensions:    cfg.Embedding.Dimensions,
				Distance:      store.Distance(cfg.Query.Distance),
			},
			Embedder:       embedder,
			FilterResolver: resolver,
		})
	default:
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "unknown storage backend %q", cfg.Storage.Backend)
	}
}

// scopedFilterResolver translates logical field names in the query context
// into physical column predicates and pins the dataset column. Writes use
// the same mapping through static context, so both sides agree on column
// names by construction.
func scopedFilterResolver(mapping *schema.Mapping, dataset string) store.FilterResolver {
	return func(_ context.Context, queryContext map[string]any) (map[string]any, error) {
		filters := make(map[string]any, len(queryContext)+1)
		for field, value := range queryContext {
			col, ok := mapping.Column(field)
			if !ok {
				return nil, raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "unknown filter field %q", field)
			}
			filters[col] = value
		}
		col, _ := mapping.Column(datasetField)
		filters[col] = dataset
		return filters, nil
	}
}

// newFSLoader builds the filesystem loader rooted at path.
func newFSLoader(cfg *config.Config, path string) (*loader.FSLoader, error) {
	return loader.NewFS(loader.FSConfig{
		Root:        path,
		Includes:    cfg.Loader.Includes,
		Excludes:    cfg.Loader.Excludes,
		MaxFileSize: cfg.Loader.MaxFileSize,
	})
}

// addDataset stamps the dataset field onto loader metadata so validation
// sees the full record the table stores.
func addDataset(dataset string) func(map[string]any) (map[string]any, error) {
	return func(metadata map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			out[k] = v
		}
		out[datasetField] = dataset
		return out, nil
	}
}

// runTimeout bounds non-streaming commands like search and purge.
const runTimeout = 5 * time.Minute
