package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/secretsweep/internal/config"
	"github.com/systmms/secretsweep/internal/scan"
	"github.com/systmms/secretsweep/internal/scrubber"
)

func NewProbeCommand(cfg *config.Config) *cobra.Command {
	var scrubberURL string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check database and scrubber connectivity",
		Long: `Verify that the message database is reachable and, when a scrubber URL
is configured, that the scrubbing service is healthy. Nothing is scanned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := cfg.Load(); err != nil {
				return err
			}
			if scrubberURL == "" {
				scrubberURL = cfg.Definition.Scrubber.URL
			}

			st, storeCfg, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Database: %d messages in %s on %s:%s\n", n, storeCfg.Table, storeCfg.Host, storeCfg.Port)

			if scrubberURL == "" {
				cfg.Logger.Debug("No scrubber URL configured, skipping scrubber probe")
				return nil
			}
			client, err := scrubber.New(scrubberURL, cfg.ScrubberOptions()...)
			if err != nil {
				return err
			}
			if err := scan.NewDelegatedDetector(client, cfg.Logger, nil).Probe(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "Scrubber: healthy at %s\n", client.URL())
			return nil
		},
	}

	cmd.Flags().StringVar(&scrubberURL, "scrubber-url", "", "Scrubbing service URL to probe")

	return cmd
}
