// SPDX-FileCopyrightText: Copyright 2025 Hubward Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Hubward server.
package main

import (
	"os"

	"github.com/hubward/hubward/cmd/hubward/app"
	"github.com/hubward/hubward/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
