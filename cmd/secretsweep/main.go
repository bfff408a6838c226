package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/systmms/secretsweep/cmd/secretsweep/commands"
	"github.com/systmms/secretsweep/internal/config"
	dserrors "github.com/systmms/secretsweep/internal/errors"
	"github.com/systmms/secretsweep/internal/logging"
	"github.com/systmms/secretsweep/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	// wipe any secret material still held in locked memory
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "secretsweep",
		Short: "Find and redact leaked secrets in stored chat messages",
		Long: `secretsweep scans the message database for secrets, either from a local
list or through a scrubbing service, and can redact what it finds.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Explicit = cmd.Flags().Changed("config")
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewScanCommand(cfg),
		commands.NewProbeCommand(cfg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}
