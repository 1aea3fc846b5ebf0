// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every chunk in the configured dataset",
		RunE:  runPurge,
	}

	cmd.Flags().Bool("yes", false, "confirm the purge")

	return cmd
}

func runPurge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if confirmed, _ := cmd.Flags().GetBool("yes"); !confirmed {
		return raglineerr.Errorf(raglineerr.CodeOperationInvalid,
			"purging dataset %q removes all of its chunks; re-run with --yes to confirm", cfg.Storage.Dataset)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
	defer cancel()

	chunkStore, err := newChunkStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = chunkStore.Close() }()

	if err := chunkStore.DeleteBySourceScope(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "purged dataset %q\n", cfg.Storage.Dataset)
	return nil
}
