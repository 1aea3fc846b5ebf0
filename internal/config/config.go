// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package config loads and validates the ragline CLI configuration with the
// standard precedence flag > env > file > default.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Config is the top-level ragline configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Query     QueryConfig     `mapstructure:"query"`
}

// StorageConfig selects and parameterises the chunk store backend.
type StorageConfig struct {
	// Backend is "postgres" or "sqlite".
	Backend string `mapstructure:"backend"`

	// ConnString is the Postgres connection string (postgres backend).
	ConnString string `mapstructure:"conn_string"`

	// Path is the database file (sqlite backend).
	Path string `mapstructure:"path"`

	// Table is the chunk table name.
	Table string `mapstructure:"table"`

	// Dataset is the source-scope value every ingested row is tagged with
	// and every query is filtered by.
	Dataset string `mapstructure:"dataset"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "gemini".
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	APIKey     string `mapstructure:"api_key"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// ChunkerConfig mirrors the chunker knobs.
type ChunkerConfig struct {
	MaxLines     int `mapstructure:"max_lines"`
	Overlap      int `mapstructure:"overlap"`
	MaxChunkSize int `mapstructure:"max_chunk_size"`
}

// PipelineConfig mirrors the ingest pipeline knobs.
type PipelineConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	MaxRetries   int `mapstructure:"max_retries"`
	RetryDelayMS int `mapstructure:"retry_delay_ms"`
	Concurrency  int `mapstructure:"concurrency"`
}

// RetryDelay returns the configured initial backoff as a duration.
func (p PipelineConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMS) * time.Millisecond
}

// LoaderConfig parameterises the built-in filesystem loader.
type LoaderConfig struct {
	Includes    []string `mapstructure:"includes"`
	Excludes    []string `mapstructure:"excludes"`
	MaxFileSize int64    `mapstructure:"max_file_size"`
}

// QueryConfig holds search defaults overridable per invocation.
type QueryConfig struct {
	Limit               int     `mapstructure:"limit"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Distance            string  `mapstructure:"distance"`
}

// SetDefaults installs every configuration default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "ragline.db")
	v.SetDefault("storage.table", "chunks")
	v.SetDefault("storage.dataset", "default")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("chunker.max_lines", 150)
	v.SetDefault("chunker.overlap", 30)
	v.SetDefault("chunker.max_chunk_size", 10000)
	v.SetDefault("pipeline.batch_size", 64)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_delay_ms", 1000)
	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("loader.excludes", []string{".git/**", "node_modules/**"})
	v.SetDefault("query.limit", 10)
	v.SetDefault("query.similarity_threshold", 0.0)
	v.SetDefault("query.distance", string(store.DistanceCosine))
}

// SetupEnv binds RAGLINE_-prefixed environment variables, with dots mapped
// to underscores (e.g. RAGLINE_EMBEDDING_API_KEY).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("RAGLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults only when path
// is empty) with environment overrides applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "reading config %s", path)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "unmarshalling config")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}
	return &cfg, nil
}

// Validate returns every constraint violation found, construction-time
// errors in the spec's sense.
func (c *Config) Validate() []error {
	var errs []error

	switch c.Storage.Backend {
	case "postgres":
		if c.Storage.ConnString == "" {
			errs = append(errs, raglineerr.New(raglineerr.CodeConfigMissingValue, "storage.conn_string is required for the postgres backend"))
		}
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, raglineerr.New(raglineerr.CodeConfigMissingValue, "storage.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "storage.backend must be postgres or sqlite, got %q", c.Storage.Backend))
	}
	if c.Storage.Table == "" {
		errs = append(errs, raglineerr.New(raglineerr.CodeConfigMissingValue, "storage.table is required"))
	}
	if c.Storage.Dataset == "" {
		errs = append(errs, raglineerr.New(raglineerr.CodeConfigMissingValue, "storage.dataset is required"))
	}

	switch c.Embedding.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "embedding.provider must be openai or gemini, got %q", c.Embedding.Provider))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, raglineerr.New(raglineerr.CodeConfigMissingValue, "embedding.model is required"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "embedding.dimensions must be > 0, got %d", c.Embedding.Dimensions))
	}

	if c.Chunker.MaxLines <= 0 {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker.max_lines must be > 0, got %d", c.Chunker.MaxLines))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.MaxLines {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker.overlap must lie in [0, max_lines), got %d", c.Chunker.Overlap))
	}
	if c.Chunker.MaxChunkSize <= 0 {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker.max_chunk_size must be > 0, got %d", c.Chunker.MaxChunkSize))
	}

	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pipeline.batch_size must be > 0, got %d", c.Pipeline.BatchSize))
	}
	if c.Pipeline.Concurrency <= 0 {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "pipeline.concurrency must be > 0, got %d", c.Pipeline.Concurrency))
	}

	if c.Query.Limit < 1 || c.Query.Limit > store.MaxSearchLimit {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "query.limit must lie in [1, %d], got %d", store.MaxSearchLimit, c.Query.Limit))
	}
	if c.Query.SimilarityThreshold < 0 || c.Query.SimilarityThreshold > 1 {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "query.similarity_threshold must lie in [0, 1], got %v", c.Query.SimilarityThreshold))
	}
	if !store.Distance(c.Query.Distance).Valid() {
		errs = append(errs, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "query.distance must be cosine, euclidean, or inner_product, got %q", c.Query.Distance))
	}

	return errs
}
