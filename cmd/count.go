package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-attachment-extractor/config"
)

func newCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of messages with attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			source, _, err := openSource(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer source.Close()

			n, err := source.Count(cmd.Context())
			if err != nil {
				return fmt.Errorf("count messages: %w", err)
			}
			if cfg.Limit > 0 && n > cfg.Limit {
				n = cfg.Limit
			}
			logger.Debug("found messages with attachments", "count", n, "source", sourceName(cfg))

			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}
}
