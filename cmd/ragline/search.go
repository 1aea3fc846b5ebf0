// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ragline-dev/ragline/internal/store"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Answer a semantic query against the chunk store",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().Int("limit", 0, "maximum number of results (default from config)")
	cmd.Flags().Float64("threshold", -1, "minimum similarity in [0,1] (default from config)")
	cmd.Flags().StringArray("filter", nil, "metadata filter field=value (repeatable)")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	if limit == 0 {
		limit = cfg.Query.Limit
	}
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if threshold < 0 {
		threshold = cfg.Query.SimilarityThreshold
	}
	rawFilters, _ := cmd.Flags().GetStringArray("filter")
	queryContext, err := parseFilters(rawFilters)
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	s, err := newSearcher(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	results, err := s.Search(ctx, store.SearchParams{
		Question:            args[0],
		Limit:               limit,
		SimilarityThreshold: threshold,
		Context:             queryContext,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, res := range results {
		fmt.Fprintf(out, "%2d. similarity=%.4f  %v (chunk %d)\n",
			i+1, res.Similarity, res.Metadata["path"], res.Chunk.Index)
		fmt.Fprintln(out, indent(snippet(res.Chunk.Content), "    "))
	}
	return nil
}

// parseFilters splits repeated field=value flags into a query context.
func parseFilters(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(raw))
	for _, entry := range raw {
		field, value, ok := strings.Cut(entry, "=")
		if !ok || field == "" {
			return nil, raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "filter %q is not field=value", entry)
		}
		filters[field] = value
	}
	return filters, nil
}

// snippet shortens chunk content to a few display lines.
func snippet(content string) string {
	const maxLines = 4
	lines := strings.Split(content, "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}
	return strings.Join(lines, "\n")
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
