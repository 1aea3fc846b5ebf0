// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

// Package chunker splits document text into overlapping, size-capped
// fragments. Splitting is deterministic: the same input and configuration
// always produce the same sequence.
package chunker

import (
	"strings"

	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Config controls the line window and the hard character cap.
type Config struct {
	// MaxLines is the window height in lines. Zero means DefaultMaxLines.
	MaxLines int

	// Overlap is how many lines consecutive windows share. Must be
	// smaller than MaxLines.
	Overlap int

	// MaxChunkSize caps the emitted chunk length in characters. Zero means
	// DefaultMaxChunkSize.
	MaxChunkSize int
}

const (
	DefaultMaxLines     = 150
	DefaultOverlap      = 30
	DefaultMaxChunkSize = 10000
)

// DefaultConfig returns the standard chunker configuration.
func DefaultConfig() Config {
	return Config{MaxLines: DefaultMaxLines, Overlap: DefaultOverlap, MaxChunkSize: DefaultMaxChunkSize}
}

// LineChunker is a stateless text splitter. Safe for concurrent use.
type LineChunker struct {
	maxLines     int
	overlap      int
	maxChunkSize int
}

// New validates cfg and returns a chunker. Zero MaxLines and MaxChunkSize
// fall back to their defaults; Overlap is taken as given.
func New(cfg Config) (*LineChunker, error) {
	if cfg.MaxLines == 0 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}

	if cfg.MaxLines < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker: MaxLines must be > 0, got %d", cfg.MaxLines)
	}
	if cfg.Overlap < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker: Overlap must be >= 0, got %d", cfg.Overlap)
	}
	if cfg.Overlap >= cfg.MaxLines {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker: Overlap (%d) must be smaller than MaxLines (%d)", cfg.Overlap, cfg.MaxLines)
	}
	if cfg.MaxChunkSize < 0 {
		return nil, raglineerr.Errorf(raglineerr.CodeConfigInvalidValue, "chunker: MaxChunkSize must be > 0, got %d", cfg.MaxChunkSize)
	}

	return &LineChunker{
		maxLines:     cfg.MaxLines,
		overlap:      cfg.Overlap,
		maxChunkSize: cfg.MaxChunkSize,
	}, nil
}

// Split chunks text into fragments with dense indices starting at 0.
func (c *LineChunker) Split(text string) []store.Chunk {
	lines := strings.Split(text, "\n")
	step := c.maxLines - c.overlap
	if step < 1 {
		step = 1
	}

	var chunks []store.Chunk
	for start := 0; start < len(lines); start += step {
		end := start + c.maxLines
		if end > len(lines) {
			end = len(lines)
		}

		window := strings.Join(lines[start:end], "\n")
		trimmed := strings.TrimSpace(window)
		if trimmed == "" {
			continue
		}

		if len([]rune(window)) > c.maxChunkSize || c.oversizedLine(lines[start:end]) {
			for _, piece := range c.splitByChars(window) {
				chunks = append(chunks, store.Chunk{Content: piece, Index: len(chunks)})
			}
			continue
		}

		chunks = append(chunks, store.Chunk{Content: trimmed, Index: len(chunks)})
	}

	return chunks
}

// oversizedLine reports whether any single line exceeds 80% of the chunk
// cap, which would leave the line window no room to pack lines.
func (c *LineChunker) oversizedLine(lines []string) bool {
	limit := 4 * c.maxChunkSize / 5
	for _, line := range lines {
		if len([]rune(line)) > limit {
			return true
		}
	}
	return false
}

// splitByChars walks s greedily in pieces of up to maxChunkSize characters.
// Each cut prefers the last whitespace or punctuation found within the final
// 20% of the window; without one, the piece is cut at the hard cap.
func (c *LineChunker) splitByChars(s string) []string {
	runes := []rune(s)
	var pieces []string

	for len(runes) > 0 {
		cut := len(runes)
		if cut > c.maxChunkSize {
			cut = c.maxChunkSize
			floor := c.maxChunkSize - c.maxChunkSize/5
			for i := c.maxChunkSize - 1; i >= floor; i-- {
				if isBreakRune(runes[i]) {
					cut = i + 1
					break
				}
			}
		}

		piece := strings.TrimSpace(string(runes[:cut]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		runes = runes[cut:]
	}

	return pieces
}

func isBreakRune(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ',', '.', ';', '!', '?':
		return true
	default:
		return false
	}
}
