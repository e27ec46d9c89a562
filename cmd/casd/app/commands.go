// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the casd command-line application.
package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apereo/cas-sub078/pkg/cas"
	"github.com/apereo/cas-sub078/pkg/config"
	"github.com/apereo/cas-sub078/pkg/logger"
	"github.com/apereo/cas-sub078/pkg/ticket"
)

var rootCmd = &cobra.Command{
	Use:               "casd",
	DisableAutoGenTag: true,
	Short:             "casd is a single sign-on ticket server",
	Long: `casd is a single sign-on ticket server. It issues ticket-granting tickets
after primary authentication and exchanges them for short-lived service and
proxy tickets bound to specific target applications, with composable
expiration policies and pluggable ticket storage (in-memory or Redis).`,
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

// NewRootCmd creates a new root command for the casd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to casd configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

// newServeCmd creates the serve command for starting the ticket server.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ticket server",
		Long: `Start the ticket server. Configuration is read from the file given with
--config plus CAS_* environment variables; unset values fall back to
defaults (in-memory registry, conventional ticket lifetimes).`,
		RunE: runServe,
	}
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("casd version: %s", getVersion())
		},
	}
}

// getVersion returns the version string (set at build time via ldflags).
func getVersion() string {
	return "dev"
}

// runServe implements the serve command logic.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}

	catalog, err := cfg.BuildCatalog()
	if err != nil {
		return err
	}
	reg, err := cfg.BuildRegistry(ctx, catalog)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := reg.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Errorf("Error closing ticket registry: %v", err)
			}
		}
	}()

	service := cas.New(reg, catalog)
	if err := selfCheck(ctx, service); err != nil {
		return err
	}

	logger.Infof("Ticket server started (backend: %s, kinds: %d)",
		cfg.Registry.Backend, len(catalog.Definitions()))

	<-ctx.Done()
	logger.Info("Ticket server stopped")
	return nil
}

// selfCheck exercises the full grant/destroy path once at startup so a
// misconfigured registry fails the process instead of the first login.
func selfCheck(ctx context.Context, service *cas.CentralAuthenticationService) error {
	tgt, err := service.GrantTicketGrantingTicket(ctx, ticket.Authentication{Principal: "casd-selfcheck"})
	if err != nil {
		return err
	}
	_, err = service.DestroyTicketGrantingTicket(ctx, tgt.ID())
	return err
}
