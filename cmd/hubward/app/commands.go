// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the hubward command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hubward/hubward/pkg/config"
	"github.com/hubward/hubward/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "hubward",
	DisableAutoGenTag: true,
	Short:             "Hubward is a multi-tenant hub authorization server",
	Long: `Hubward is the authorization core of a multi-tenant hub. It identifies
users and services by opaque API tokens and session cookies, and runs an
embedded OAuth2 authorization server so per-user backend servers and
trusted services can authenticate hub users against it.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the hubward CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to hubward configuration file")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hub authorization server",
		Long: `Start the hub authorization API server.

The server reads the configuration file given with --config, creates the
configured users, services, and OAuth clients, and listens for API and
OAuth2 requests until interrupted.`,
		RunE: runServe,
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration loading failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			logger.Infof("Configuration is valid")
			logger.Infof("  Address: %s", cfg.Address)
			logger.Infof("  Public URL: %s", cfg.PublicURL)
			logger.Infof("  Database: %s", cfg.Database.Driver)
			logger.Infof("  Users: %d, Services: %d, Clients: %d",
				len(cfg.Users), len(cfg.Services), len(cfg.Clients))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			// Version information will be injected at build time
			logger.Infof("hubward version: %s", getVersion())
		},
	}
}

// getVersion returns the version string (will be set at build time)
func getVersion() string {
	// This will be replaced with actual version info using ldflags
	return "dev"
}
