// Package mbox serves a local mbox archive as a mailbox, so attachments can be
// extracted from exported mail without a server.
package mbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-attachment-extractor/model"
)

// Mailbox reads messages from an mbox file. Messages are addressed by their
// position in the file, which keeps paging stable between searches.
// Consecutive pages resume from an open cursor; jumping backwards rereads the
// file from the start.
type Mailbox struct {
	path   string
	logger *slog.Logger
	index  map[bool][]int

	cur   *cursor
	opens int
}

// cursor is an open reader positioned before message next.
type cursor struct {
	file   *os.File
	reader *mboxlib.Reader
	next   int
}

func Open(path string, logger *slog.Logger) (*Mailbox, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open mbox: %s is a directory", path)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mailbox{path: path, logger: logger, index: make(map[bool][]int)}, nil
}

// Search returns one page of messages in file order.
func (m *Mailbox) Search(ctx context.Context, q model.SearchQuery) ([]model.Message, error) {
	positions, err := m.positions(ctx, q.HasAttachment)
	if err != nil {
		return nil, err
	}

	wanted := page(positions, q.Offset, q.Limit)
	if len(wanted) == 0 {
		return nil, nil
	}

	cur, err := m.cursorAt(wanted[0])
	if err != nil {
		return nil, err
	}

	messages := make([]model.Message, 0, len(wanted))
	for _, pos := range wanted {
		raw, err := m.readAt(ctx, cur, pos)
		if err != nil {
			m.closeCursor()
			return nil, err
		}

		msg, err := parse(pos, raw)
		if err != nil {
			m.closeCursor()
			return nil, err
		}
		if !q.Full {
			msg.Attachments = nil
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// cursorAt returns a cursor that has not yet passed position pos.
func (m *Mailbox) cursorAt(pos int) (*cursor, error) {
	if m.cur != nil && m.cur.next <= pos {
		return m.cur, nil
	}
	m.closeCursor()

	file, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	m.opens++
	m.cur = &cursor{file: file, reader: mboxlib.NewReader(file)}
	return m.cur, nil
}

// readAt advances cur to position pos and returns that message.
func (m *Mailbox) readAt(ctx context.Context, cur *cursor, pos int) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := cur.reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("message %d: archive changed while reading", pos)
			}
			return nil, fmt.Errorf("message %d: %w", cur.next, err)
		}
		current := cur.next
		cur.next++

		if current < pos {
			if _, err := io.Copy(io.Discard, msgReader); err != nil {
				return nil, fmt.Errorf("message %d skip: %w", current, err)
			}
			continue
		}
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", current, err)
		}
		return raw, nil
	}
}

func (m *Mailbox) closeCursor() {
	if m.cur == nil {
		return
	}
	_ = m.cur.file.Close()
	m.cur = nil
}

// Count returns the number of messages with attachments in the archive.
func (m *Mailbox) Count(ctx context.Context) (int, error) {
	positions, err := m.positions(ctx, true)
	if err != nil {
		return 0, err
	}
	return len(positions), nil
}

// Close releases the open cursor, if any.
func (m *Mailbox) Close() error {
	m.closeCursor()
	return nil
}

func (m *Mailbox) positions(ctx context.Context, hasAttachment bool) ([]int, error) {
	if positions, ok := m.index[hasAttachment]; ok {
		return positions, nil
	}

	var positions []int
	err := m.scan(ctx, func(pos int, raw []byte) error {
		if !hasAttachment || model.HasAttachment(raw) {
			positions = append(positions, pos)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.index[hasAttachment] = positions
	m.logger.Debug("mbox indexed", "path", m.path, "hasAttachment", hasAttachment, "matches", len(positions))
	return positions, nil
}

// scan calls fn for every message in the file.
func (m *Mailbox) scan(ctx context.Context, fn func(pos int, raw []byte) error) error {
	file, err := os.Open(m.path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for pos := 0; ; pos++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", pos, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", pos, err)
		}

		if err := fn(pos, raw); err != nil {
			return err
		}
	}
}

// parse decodes a message, identifying it by content hash when it has no
// Message-Id header.
func parse(pos int, raw []byte) (model.Message, error) {
	msg, err := model.ParseMessage("", raw)
	if errors.Is(err, model.ErrMessageIDMissing) {
		sum := sha256.Sum256(raw)
		msg, err = model.ParseMessage("sha256:"+hex.EncodeToString(sum[:]), raw)
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("message %d parse: %w", pos, err)
	}
	return msg, nil
}

func page(positions []int, offset, limit int) []int {
	if offset < 0 || offset >= len(positions) {
		return nil
	}
	end := len(positions)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return positions[offset:end]
}
