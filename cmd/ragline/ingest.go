// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ragline-dev/ragline/internal/pipeline"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest documents from a directory into the chunk store",
		Long:  "Crawl a directory, chunk and embed every matching text file, and store the result with per-document replacement.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runIngest,
	}
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	fsLoader, err := newFSLoader(cfg, root)
	if err != nil {
		return err
	}
	lineChunker, err := newChunker(cfg)
	if err != nil {
		return err
	}
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	chunkStore, err := newChunkStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() { _ = chunkStore.Close() }()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
	)

	p, err := pipeline.New(pipeline.Config{
		Chunker:           lineChunker,
		Embedder:          embedder,
		Store:             chunkStore,
		Definition:        buildDefinition(),
		BatchSize:         cfg.Pipeline.BatchSize,
		MaxRetries:        cfg.Pipeline.MaxRetries,
		RetryDelay:        cfg.Pipeline.RetryDelay(),
		Concurrency:       cfg.Pipeline.Concurrency,
		MetadataTransform: addDataset(cfg.Storage.Dataset),
		OnProgress:        func(pipeline.Progress) { _ = bar.Add(1) },
	})
	if err != nil {
		return err
	}

	result, runErr := p.Run(cmd.Context(), fsLoader)
	_ = bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", result.RunID)
	fmt.Fprintf(out, "documents: %d total, %d succeeded, %d failed\n",
		result.TotalDocuments, result.SucceededDocuments, result.FailedDocuments)
	fmt.Fprintf(out, "chunks written: %d\n", result.TotalChunks)
	for _, docErr := range result.Errors {
		fmt.Fprintf(out, "  failed %v: %v\n", docErr.DocumentKey, docErr.Err)
	}

	return runErr
}
