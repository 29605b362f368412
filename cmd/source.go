package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mail-attachment-extractor/config"
	"github.com/dhcgn/mail-attachment-extractor/extractor"
	"github.com/dhcgn/mail-attachment-extractor/imap"
	"github.com/dhcgn/mail-attachment-extractor/mbox"
	"github.com/dhcgn/mail-attachment-extractor/stats"
)

type mailSource interface {
	extractor.MailboxClient
	extractor.Counter
	Close() error
}

// openSource connects to the configured mailbox. The caller closes it.
func openSource(ctx context.Context, cfg config.Config, logger *slog.Logger) (mailSource, stats.Source, error) {
	if err := config.ValidateSource(cfg); err != nil {
		return nil, "", err
	}

	if !cfg.UsesIMAP() {
		box, err := mbox.Open(cfg.MboxPath, logger)
		if err != nil {
			return nil, "", err
		}
		return box, stats.SourceMbox, nil
	}

	client, err := imap.New(imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		StartTLS:           cfg.StartTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Folder:             cfg.Folder,
	}, logger)
	if err != nil {
		return nil, "", fmt.Errorf("imap.New: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, "", err
	}
	return client, stats.SourceIMAP, nil
}
