// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ragline-dev/ragline/internal/schema"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Metadata fields emitted by the filesystem loader.
const (
	FieldPath     = "path"
	FieldFileSha  = "fileSha"
	FieldFileSize = "fileSize"
)

// DefaultMaxFileSize is the per-file size cap of the filesystem loader.
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// FSDefinition returns the metadata schema the filesystem loader emits:
// path (the document key), fileSha, and fileSize. Callers append their own
// source-key fields before handing it to a store.
func FSDefinition() schema.Definition {
	return schema.Definition{
		Fields: []schema.Field{
			{Name: FieldPath, Type: schema.TypeString},
			{Name: FieldFileSha, Type: schema.TypeString},
			{Name: FieldFileSize, Type: schema.TypeInt},
		},
		DocumentKey: FieldPath,
	}
}

// FSConfig configures the filesystem loader.
type FSConfig struct {
	// Root is the directory to crawl. Required.
	Root string

	// Includes are doublestar patterns matched against slash-separated
	// paths relative to Root. Empty means everything.
	Includes []string

	// Excludes are doublestar patterns; a match skips the file (or the
	// whole directory when the pattern matches it with a trailing slash).
	Excludes []string

	// MaxFileSize skips files larger than this many bytes. Zero means
	// DefaultMaxFileSize.
	MaxFileSize int64
}

// FSLoader streams text files under a root directory as documents. Binary
// files, empty files, and files over the size cap are skipped with a debug
// log line rather than failing the run.
type FSLoader struct {
	root     string
	includes []string
	excludes []string
	maxSize  int64
}

// NewFS validates cfg and returns a filesystem loader.
func NewFS(cfg FSConfig) (*FSLoader, error) {
	if cfg.Root == "" {
		return nil, raglineerr.New(raglineerr.CodeConfigMissingValue, "loader: Root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "loader: resolving root %s", cfg.Root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "loader: root %s", root)
	}
	if !info.IsDir() {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "loader: root %s is not a directory", root)
	}
	for _, pattern := range append(append([]string{}, cfg.Includes...), cfg.Excludes...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "loader: invalid glob pattern %q", pattern)
		}
	}

	includes := cfg.Includes
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	maxSize := cfg.MaxFileSize
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}

	return &FSLoader{root: root, includes: includes, excludes: cfg.Excludes, maxSize: maxSize}, nil
}

// Load walks the root and streams one document per matching text file. The
// channel closes when the walk finishes; a walk error ends the stream with
// a terminal Item.
func (l *FSLoader) Load(ctx context.Context) (<-chan Item, error) {
	ch := make(chan Item)

	go func() {
		defer close(ch)

		err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			rel, err := filepath.Rel(l.root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if rel != "." && l.matchesAny(l.excludes, rel+"/") {
					return filepath.SkipDir
				}
				return nil
			}
			if !l.matchesAny(l.includes, rel) || l.matchesAny(l.excludes, rel) {
				return nil
			}

			doc, ok := l.readDocument(path, rel, d)
			if !ok {
				return nil
			}

			select {
			case ch <- Item{Document: doc}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			ch <- Item{Err: raglineerr.Wrapf(err, raglineerr.CodeLoaderStreamFailure, "walking %s", l.root)}
		}
	}()

	return ch, nil
}

// readDocument loads one file, returning ok=false for files the loader
// skips: oversized, unreadable, binary, or blank.
func (l *FSLoader) readDocument(path, rel string, d fs.DirEntry) (Document, bool) {
	info, err := d.Info()
	if err != nil {
		slog.Debug("skipping unreadable file", slog.String("path", rel), slog.Any("error", err))
		return Document{}, false
	}
	if info.Size() > l.maxSize {
		slog.Debug("skipping oversized file", slog.String("path", rel), slog.Int64("size", info.Size()))
		return Document{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("skipping unreadable file", slog.String("path", rel), slog.Any("error", err))
		return Document{}, false
	}
	if isBinary(data) {
		slog.Debug("skipping binary file", slog.String("path", rel))
		return Document{}, false
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		slog.Debug("skipping blank file", slog.String("path", rel))
		return Document{}, false
	}

	sum := sha256.Sum256(data)
	return Document{
		Content: content,
		Metadata: map[string]any{
			FieldPath:     rel,
			FieldFileSha:  hex.EncodeToString(sum[:]),
			FieldFileSize: len(data),
		},
	}, true
}

func (l *FSLoader) matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// isBinary applies the git heuristic: a NUL byte in the first 8000 bytes
// marks the file as binary.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	return bytes.IndexByte(probe, 0) != -1
}
