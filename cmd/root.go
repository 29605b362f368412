// Package cmd wires configuration, mail sources and the extraction pipeline
// into the command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-attachment-extractor/config"
	"github.com/dhcgn/mail-attachment-extractor/extractor"
	"github.com/dhcgn/mail-attachment-extractor/ledger"
	"github.com/dhcgn/mail-attachment-extractor/progress"
	"github.com/dhcgn/mail-attachment-extractor/runner"
	"github.com/dhcgn/mail-attachment-extractor/stats"
)

const appName = "mail-attachment-extractor"

// NewRootCommand builds the CLI with all subcommands attached.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Extract attachments from an IMAP mailbox or mbox archive",
		SilenceUsage:  true,
		SilenceErrors: true,
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

			slog.SetDefault(logger)
			logger.Info("starting "+appName, "source", sourceName(cfg), "folder", cfg.Folder, "dest", cfg.Dest, "limit", cfg.Limit, "batch", cfg.BatchSize)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, fmt.Errorf("register flags: %w", err)
	}

	rootCmd.AddCommand(newCountCommand(), newLedgerCommand(), newPasswordCommand())
	return rootCmd, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// The destination is checked before any connection is made.
	ex, err := extractor.Prepare(extractor.Options{
		Dest:      cfg.Dest,
		Limit:     cfg.Limit,
		BatchSize: cfg.BatchSize,
	}, logger)
	if err != nil {
		return err
	}

	source, kind, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	if err := ex.SetMailbox(source); err != nil {
		return err
	}

	total, err := source.Count(ctx)
	if err != nil {
		logger.Warn("could not count messages with attachments", "err", err)
		total = 0
	} else {
		logger.Info("found messages with attachments", "count", total)
	}
	if cfg.Limit > 0 && total > cfg.Limit {
		total = cfg.Limit
	}

	r := runner.New(ctx, kind, logger)
	stats.NewReporter(r, logger, cfg.MetricsFile)
	bar := progress.New(total, cfg.LogLevel)
	r.SubscribeStats("progress-bar", bar.Subscriber)

	record := ledger.Run{
		ID:          uuid.NewString(),
		Destination: ex.Destination(),
		Source:      sourceName(cfg),
		StartedAt:   time.Now().UTC(),
	}

	r.AddStage("extract", func(ctx context.Context) error {
		n, err := ex.Extract(ctx, r)
		record.Written = n
		return err
	})

	runErr := r.Start()
	record.FinishedAt = time.Now().UTC()

	// The mapping is kept even for failed runs; the files it names exist.
	if err := persistMapping(context.WithoutCancel(ctx), cfg, record, ex.Mapping(), logger); err != nil {
		if runErr != nil {
			logger.Error("persisting mapping failed", "err", err)
			return runErr
		}
		return err
	}

	return runErr
}

func persistMapping(ctx context.Context, cfg config.Config, record ledger.Run, mapping *ledger.Mapping, logger *slog.Logger) error {
	if mapping == nil {
		return nil
	}

	if cfg.MappingFile != "" {
		if err := ledger.AppendJSONL(cfg.MappingFile, record.ID, mapping); err != nil {
			return fmt.Errorf("write mapping file: %w", err)
		}
		logger.Info("mapping appended", "path", cfg.MappingFile, "entries", mapping.Len(), "run", record.ID)
	}

	if cfg.LedgerDB != "" {
		store, err := ledger.NewSQLiteStore(cfg.LedgerDB)
		if err != nil {
			return fmt.Errorf("open ledger db: %w", err)
		}
		defer store.Close()

		if err := store.SaveRun(ctx, record, mapping); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		logger.Info("run recorded", "db", cfg.LedgerDB, "entries", mapping.Len(), "run", record.ID)
	}

	return nil
}

func sourceName(cfg config.Config) string {
	if cfg.UsesIMAP() {
		return fmt.Sprintf("imap://%s@%s:%d/%s", cfg.IMAPUser, cfg.IMAPHost, cfg.IMAPPort, cfg.Folder)
	}
	return "mbox:" + cfg.MboxPath
}
