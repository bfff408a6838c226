package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/secretsweep/internal/config"
	dserrors "github.com/systmms/secretsweep/internal/errors"
	"github.com/systmms/secretsweep/internal/metrics"
	"github.com/systmms/secretsweep/internal/report"
	"github.com/systmms/secretsweep/internal/scan"
	"github.com/systmms/secretsweep/internal/secrets"
	"github.com/systmms/secretsweep/internal/store"
)

// openStore is replaced in tests.
var openStore = store.Open

func NewScanCommand(cfg *config.Config) *cobra.Command {
	var (
		secretsStdin bool
		secretsFile  string
		scrubberURL  string
		fix          bool
		workers      int
		pageSize     int
		metricsAddr  string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan stored messages for secrets",
		Long: `Scan every stored message for leaked secrets and optionally redact them.

Detection uses exactly one of:
  --secrets-stdin     a YAML mapping of secrets read from stdin
  --secrets-file      the same mapping read from a file
  --scrubber-url      a running scrubbing service that owns the secret list

The default is a dry run. Pass --fix to replace matches with [REDACTED].

Examples:
  secretsweep scan --secrets-stdin < secrets.yaml
  secretsweep scan --scrubber-url http://scrubber:8001
  secretsweep scan --scrubber-url http://scrubber:8001 --fix --workers 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return err
			}
			def := cfg.Definition
			if !cmd.Flags().Changed("workers") {
				workers = def.Scrubber.Workers
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = def.Metrics.Addr
			}

			opts := secrets.Options{
				ScrubberURL:     scrubberURL,
				ScrubberOptions: cfg.ScrubberOptions(),
			}
			from := "stdin"
			switch {
			case secretsStdin && secretsFile != "":
				return dserrors.ConfigError{
					Field:      "secrets",
					Message:    "cannot read secrets from both stdin and a file",
					Suggestion: "Use either --secrets-stdin or --secrets-file",
				}
			case secretsStdin:
				opts.UseInput = true
				opts.Input = cmd.InOrStdin()
			case secretsFile != "":
				f, err := os.Open(secretsFile)
				if err != nil {
					return dserrors.SimplifyError(err)
				}
				defer f.Close()
				opts.UseInput = true
				opts.Input = f
				from = secretsFile
			}
			// the configured URL only applies when no local list was given
			if !opts.UseInput && opts.ScrubberURL == "" {
				opts.ScrubberURL = def.Scrubber.URL
			}

			src, err := secrets.Select(opts)
			if err != nil {
				return err
			}
			if local, ok := src.(*secrets.Local); ok {
				defer local.Destroy()
				cfg.Logger.Info("Loaded %d secrets from %s", local.Len(), from)
			}

			if fix {
				cfg.Logger.Warn("*** FIX MODE: Will update database ***")
			} else {
				cfg.Logger.Info("*** DRY RUN: No changes will be made ***")
			}

			return runScan(cmd, cfg, src, scan.Options{Fix: fix, Workers: workers}, pageSize, metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&secretsStdin, "secrets-stdin", false, "Read a YAML mapping of secrets from stdin")
	cmd.Flags().StringVar(&secretsFile, "secrets-file", "", "Read a YAML mapping of secrets from a file")
	cmd.Flags().StringVar(&scrubberURL, "scrubber-url", "", "Delegate detection to the scrubbing service at this URL")
	cmd.Flags().BoolVar(&fix, "fix", false, "Write redacted content back to the database")
	cmd.Flags().IntVar(&workers, "workers", 1, "Concurrent scrub batches in delegated mode")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Read messages in keyset pages of this size (0 = single cursor)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the scan")

	return cmd
}

func runScan(cmd *cobra.Command, cfg *config.Config, src secrets.Source, opts scan.Options, pageSize int, metricsAddr string) error {
	ctx := cmd.Context()

	metrics.InitMetrics()
	srvCfg := metrics.DefaultServerConfig()
	srvCfg.Addr = metricsAddr
	srv := metrics.NewServer(srvCfg, cfg.Logger)
	if err := srv.Start(); err != nil {
		return dserrors.UserError{
			Message:    "Failed to start metrics server",
			Details:    err.Error(),
			Suggestion: "Choose a free --metrics-addr or omit it",
			Err:        err,
		}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
	}()

	m := metrics.NewScanMetrics(string(src.Mode()))
	det, err := scan.NewDetector(src, cfg.Logger, m)
	if err != nil {
		return err
	}
	defer det.Close()

	st, _, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts.Logger = cfg.Logger
	opts.Metrics = m
	res, err := scan.New(scan.FromStore(st, pageSize), det, opts).Run(ctx)
	if err != nil {
		if res != nil && res.Fixed > 0 {
			cfg.Logger.Warn("%d messages were fixed before the scan stopped", res.Fixed)
		}
		return err
	}

	report.New(cmd.OutOrStdout()).Print(res, opts.Fix)
	return nil
}
