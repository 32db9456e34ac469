// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the thv-idp command-line application.
package app

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-idp/pkg/logger"
)

// EnvPrefix prefixes the environment variables that override flags,
// e.g. TOOLHIVE_IDP_LISTEN for --listen.
const EnvPrefix = "TOOLHIVE_IDP"

// NewRootCmd creates the root command of the thv-idp CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "thv-idp",
		DisableAutoGenTag: true,
		Short:             "OAuth 2.0 authorization server and OpenID Connect provider",
		Long: `thv-idp is an OAuth 2.0 authorization server and OpenID Connect provider.

It issues access, refresh and ID tokens to registered clients, tracks end-user
consent, and supports dynamic client registration, token introspection and
revocation. State is kept in memory, Redis or SQLite.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	bindFlag(rootCmd.PersistentFlags(), "debug")
	rootCmd.PersistentFlags().StringP("config", "c", "",
		"Path to the YAML configuration file (default: thv-idp/config.yaml in the XDG config directories)")
	bindFlag(rootCmd.PersistentFlags(), "config")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newMintRegistrationTokenCmd())
	rootCmd.AddCommand(newHashPasswordCmd())

	return rootCmd
}

// bindFlag binds a flag to the viper key of the same name.
func bindFlag(flags *pflag.FlagSet, name string) {
	if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
		logger.Errorw("failed to bind flag", "flag", name, "error", err)
	}
}
