// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the casd ticket server.
package main

import (
	"os"

	"github.com/apereo/cas-sub078/cmd/casd/app"
	"github.com/apereo/cas-sub078/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
