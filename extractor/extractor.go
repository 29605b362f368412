// Package extractor pages through a mailbox search and writes allow-listed
// attachments to a destination directory, recording where each file came from.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhcgn/mail-attachment-extractor/filter"
	"github.com/dhcgn/mail-attachment-extractor/ledger"
	"github.com/dhcgn/mail-attachment-extractor/model"
	"github.com/dhcgn/mail-attachment-extractor/naming"
)

const (
	// AttachmentsDir is created under the destination and receives all files.
	AttachmentsDir   = "attachments"
	DefaultBatchSize = 10
)

// MailboxClient searches a mailbox with offset/limit paging. Results must be
// ordered the same way across calls within one run.
type MailboxClient interface {
	Search(ctx context.Context, q model.SearchQuery) ([]model.Message, error)
}

// Counter is implemented by mailboxes that can report how many messages carry
// attachments without fetching them.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Options struct {
	Dest string
	// Limit caps the number of messages processed; 0 means no limit.
	Limit     int
	BatchSize int
}

type Extractor struct {
	dest    string
	limit   int
	batch   int
	mailbox MailboxClient
	allow   *filter.AllowList
	logger  *slog.Logger
	mapping *ledger.Mapping
}

// New validates the options and prepares the destination directory. It does
// not touch the mailbox.
func New(opts Options, mailbox MailboxClient, logger *slog.Logger) (*Extractor, error) {
	if mailbox == nil {
		return nil, ErrNilMailbox
	}
	e, err := Prepare(opts, logger)
	if err != nil {
		return nil, err
	}
	e.mailbox = mailbox
	return e, nil
}

// Prepare validates the options and the destination without a mailbox, so
// callers can reject a bad configuration before connecting anywhere. The
// mailbox is attached later with SetMailbox.
func Prepare(opts Options, logger *slog.Logger) (*Extractor, error) {
	if opts.Limit < 0 {
		return nil, &ConfigurationError{Field: "limit", Value: fmt.Sprint(opts.Limit), Err: errors.New("must not be negative")}
	}
	if opts.BatchSize < 0 {
		return nil, &ConfigurationError{Field: "batch size", Value: fmt.Sprint(opts.BatchSize), Err: errors.New("must be at least 1")}
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dest, err := prepareDestination(opts.Dest)
	if err != nil {
		return nil, err
	}

	return &Extractor{
		dest:    dest,
		limit:   opts.Limit,
		batch:   opts.BatchSize,
		allow:   filter.Default(),
		logger:  logger,
		mapping: ledger.NewMapping(),
	}, nil
}

func prepareDestination(dest string) (string, error) {
	if strings.TrimSpace(dest) == "" {
		dest = "."
	}
	dest = filepath.Clean(dest)

	info, err := os.Stat(dest)
	if err != nil {
		return "", &ConfigurationError{Field: "destination", Value: dest, Err: err}
	}
	if !info.IsDir() {
		return "", &ConfigurationError{Field: "destination", Value: dest, Err: errNotDirectory}
	}
	if err := checkWritable(dest); err != nil {
		return "", &ConfigurationError{Field: "destination", Value: dest, Err: err}
	}

	sub := filepath.Join(dest, AttachmentsDir)
	info, err = os.Stat(sub)
	switch {
	case err == nil && info.IsDir():
		return sub, nil
	case err == nil:
		return "", &ConfigurationError{Field: "destination", Value: sub, Err: errNotDirectory}
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Mkdir(sub, 0o755); err != nil {
			return "", &ConfigurationError{Field: "destination", Value: sub, Err: err}
		}
		return sub, nil
	default:
		return "", &ConfigurationError{Field: "destination", Value: sub, Err: err}
	}
}

func checkWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".extract-probe-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// SetMailbox attaches the mailbox searched by Extract.
func (e *Extractor) SetMailbox(mailbox MailboxClient) error {
	if mailbox == nil {
		return ErrNilMailbox
	}
	e.mailbox = mailbox
	return nil
}

// Destination returns the directory files are written to.
func (e *Extractor) Destination() string {
	return e.dest
}

// Mapping returns the ledger of the most recent Extract call.
func (e *Extractor) Mapping() *ledger.Mapping {
	return e.mapping
}

// Extract pages through messages with attachments and writes every
// allow-listed attachment to the destination. It returns the number of files
// written. The handler may be nil.
//
// Extraction stops when a page comes back empty or when the configured
// message limit is reached; in the latter case the rest of the current page is
// skipped. A StorageError aborts the run without removing files already written.
func (e *Extractor) Extract(ctx context.Context, handler EventHandler) (int, error) {
	if e.mailbox == nil {
		return 0, ErrNilMailbox
	}
	mapping := ledger.NewMapping()
	e.mapping = mapping

	emit := func(evt Event) {
		if handler != nil {
			handler.HandleEvent(evt)
		}
	}

	started := time.Now()
	pager := NewPaginator(e.batch, e.limit)
	written := 0

	for pager.State() == StatePaging {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		offset, perPage := pager.Next()
		emit(MessageFetchEvent{StartIndex: offset + 1, PageSize: perPage})

		messages, err := e.mailbox.Search(ctx, model.SearchQuery{
			HasAttachment: true,
			Limit:         perPage,
			Offset:        offset,
			Full:          true,
		})
		if err != nil {
			return written, fmt.Errorf("search messages at offset %d: %w", offset, err)
		}
		e.logger.Debug("page fetched", "offset", offset, "limit", perPage, "messages", len(messages))

		if !pager.PageFetched(len(messages)) {
			break
		}

		for _, msg := range messages {
			if err := ctx.Err(); err != nil {
				return written, err
			}

			n, err := e.extractMessage(msg, mapping, emit)
			written += n
			if err != nil {
				return written, err
			}

			if !pager.MessageProcessed() {
				break
			}
		}

		pager.PageDone()
	}

	e.logger.Info("extraction finished",
		"attachments", written,
		"messages", pager.Processed(),
		"state", pager.State().String(),
		"dest", e.dest,
		"duration", time.Since(started),
	)
	return written, nil
}

func (e *Extractor) extractMessage(msg model.Message, mapping *ledger.Mapping, emit func(Event)) (int, error) {
	written := 0
	for _, att := range msg.Attachments {
		if !e.allow.Allows(att.MIMEType) {
			e.logger.Debug("attachment skipped", "messageID", msg.ID, "name", att.Name, "mimeType", att.MIMEType)
			continue
		}

		candidate := naming.Sanitize(fmt.Sprintf("%s - %s", msg.Subject, att.Name))
		stored, err := naming.MakeUnique(e.dest, candidate)
		if err != nil {
			return written, err
		}

		emit(AttachmentWriteEvent{SourceName: att.Name, StoredName: stored, MessageID: msg.ID})

		if err := writeFile(filepath.Join(e.dest, stored), att.Body); err != nil {
			return written, err
		}

		if err := mapping.Add(ledger.Entry{
			StoredName:  stored,
			MessageID:   msg.ID,
			ContentHash: att.ContentHash(),
			Subject:     msg.Subject,
		}); err != nil {
			return written, fmt.Errorf("record %s: %w", stored, err)
		}

		written++
		e.logger.Debug("attachment written", "messageID", msg.ID, "name", att.Name, "stored", stored, "bytes", len(att.Body))
	}
	return written, nil
}

// writeFile creates path exclusively so a file that appeared after the name
// check is never overwritten.
func writeFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &StorageError{Op: "create", Path: path, Err: err}
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := file.Close(); err != nil {
		return &StorageError{Op: "close", Path: path, Err: err}
	}
	return nil
}
