package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-attachment-extractor/config"
	"github.com/dhcgn/mail-attachment-extractor/credential"
)

var openCredentials = credential.Open

func newPasswordCommand() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "password",
		Short: "Store the IMAP password in the system keyring",
		Long: "Reads the password from the first line of stdin and stores it for " +
			"--imap-user on --imap-host. Later runs use it when neither --imap-pass " +
			"nor IMAP_PASS is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSettings(cmd)
			if err != nil {
				return err
			}
			if cfg.IMAPHost == "" || cfg.IMAPUser == "" {
				return fmt.Errorf("--imap-host and --imap-user are required")
			}

			store, err := openCredentials()
			if err != nil {
				return err
			}

			if remove {
				if err := store.DeletePassword(cfg.IMAPHost, cfg.IMAPUser); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed password for %s\n", credential.Key(cfg.IMAPHost, cfg.IMAPUser))
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				return fmt.Errorf("no password on stdin")
			}
			password := strings.TrimRight(scanner.Text(), "\r")
			if password == "" {
				return fmt.Errorf("password is empty")
			}

			if err := store.SetPassword(cfg.IMAPHost, cfg.IMAPUser, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s\n", credential.Key(cfg.IMAPHost, cfg.IMAPUser))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "delete", false, "Remove the stored password instead")
	return cmd
}
