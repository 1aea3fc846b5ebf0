// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ragline-dev/ragline/internal/config"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// NewRootCmd creates the root ragline command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragline",
		Short:         "ragline — retrieval-augmented generation data plane",
		Long:          "ragline ingests text documents into a vector-indexed store and answers semantic queries over them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags — these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("dataset", "", "override the source-scope dataset")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newIngestCmd(),
		newSearchCmd(),
		newPurgeCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	// .env is a convenience for provider keys; absence is fine.
	_ = godotenv.Load()

	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "reading config file")
		}
	} else {
		// Auto-discover ragline.yaml from standard locations.
		// Note: SetConfigType is intentionally omitted. When set, Viper
		// falls back to trying the bare config name without extension,
		// which collides with the ./ragline binary in the project root.
		v.SetConfigName("ragline")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ragline")
		v.AddConfigPath("/etc/ragline")
		// No config file is fine — defaults and env vars still apply.
		// Parse or permission errors must surface.
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "reading config")
			}
		}
	}

	if err := v.BindPFlag("storage.dataset", cmd.Root().PersistentFlags().Lookup("dataset")); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "binding dataset flag")
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return raglineerr.Wrapf(err, raglineerr.CodeConfigInvalidValue, "binding verbose flag")
	}

	if v.GetBool("verbose") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	return nil
}

// loadConfig unmarshals and validates the viper state initViper prepared.
func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}
