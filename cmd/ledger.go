package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-attachment-extractor/config"
	"github.com/dhcgn/mail-attachment-extractor/ledger"
)

func newLedgerCommand() *cobra.Command {
	var (
		runID    string
		output   string
		listRuns bool
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Export a recorded stored-name mapping as CSV",
		Long: "Reads the ledger written by --ledger-db (preferred) or --mapping-file " +
			"and prints it as CSV. Use --run to select a single run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}

			switch {
			case cfg.LedgerDB != "":
				store, err := ledger.NewSQLiteStore(cfg.LedgerDB)
				if err != nil {
					return err
				}
				defer store.Close()

				if listRuns {
					runs, err := store.Runs(cmd.Context())
					if err != nil {
						return err
					}
					return writeRunsCSV(out, runs)
				}
				entries, err := store.Entries(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return writeEntriesCSV(out, entries)

			case cfg.MappingFile != "":
				if listRuns {
					return fmt.Errorf("--runs requires --ledger-db")
				}
				entries, err := ledger.ReadJSONL(cfg.MappingFile, runID)
				if err != nil {
					return err
				}
				return writeEntriesCSV(out, entries)
			}

			return fmt.Errorf("one of --ledger-db or --mapping-file is required")
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Only export entries of this run ID")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write CSV to this file instead of stdout")
	cmd.Flags().BoolVar(&listRuns, "runs", false, "List recorded runs instead of entries")
	return cmd
}

func writeEntriesCSV(w io.Writer, entries []ledger.Entry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"stored_name", "message_id", "content_hash", "subject"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writer.Write([]string{e.StoredName, e.MessageID, e.ContentHash, e.Subject}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeRunsCSV(w io.Writer, runs []ledger.Run) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"run_id", "source", "destination", "started_at", "finished_at", "written"}); err != nil {
		return err
	}
	for _, r := range runs {
		record := []string{
			r.ID,
			r.Source,
			r.Destination,
			r.StartedAt.Format(time.RFC3339),
			r.FinishedAt.Format(time.RFC3339),
			strconv.Itoa(r.Written),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
