package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mail-attachment-extractor/model"
)

var (
	ErrNotConnected = errors.New("imap client is not connected")
)

// structureChunk bounds the UID set of one BODYSTRUCTURE fetch.
const structureChunk = 500

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	StartTLS           bool
	InsecureSkipVerify bool
	Folder             string
}

// ConnectionError reports a failure to dial, authenticate or select the folder.
type ConnectionError struct {
	Op      string
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Client is a mailbox client over IMAP. The UID list of a search is taken
// once per run so later pages see the same ordering as earlier ones.
type Client struct {
	opts   Options
	logger *slog.Logger

	client    *imapclient.Client
	stopClose func() bool
	uids      map[bool][]imapv2.UID
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{opts: opts, logger: logger, uids: make(map[bool][]imapv2.UID)}, nil
}

// Connect dials the server, logs in and selects the folder read-only.
func (c *Client) Connect(ctx context.Context) error {
	address := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	options := &imapclient.Options{}

	if c.opts.UseTLS || c.opts.StartTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         c.opts.Host,
			InsecureSkipVerify: c.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	switch {
	case c.opts.UseTLS:
		client, err = imapclient.DialTLS(address, options)
	case c.opts.StartTLS:
		client, err = imapclient.DialStartTLS(address, options)
	default:
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return &ConnectionError{Op: "dial", Address: address, Err: err}
	}

	if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return &ConnectionError{Op: "login", Address: address, Err: err}
	}

	selectData, err := client.Select(c.folder(), &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return &ConnectionError{Op: "select " + c.folder(), Address: address, Err: err}
	}

	c.client = client
	c.stopClose = context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	c.logger.Debug("imap connection established",
		"address", address,
		"user", c.opts.Username,
		"folder", c.folder(),
		"messages", selectData.NumMessages,
		"tls", c.opts.UseTLS,
	)
	return nil
}

// Search returns one page of messages. With q.Full the raw bodies are fetched
// and parsed into attachments; otherwise only identity and subject are set.
func (c *Client) Search(ctx context.Context, q model.SearchQuery) ([]model.Message, error) {
	if c.client == nil {
		return nil, ErrNotConnected
	}

	uids, err := c.searchUIDs(ctx, q.HasAttachment)
	if err != nil {
		return nil, err
	}

	pageUIDs := page(uids, q.Offset, q.Limit)
	if len(pageUIDs) == 0 {
		return nil, nil
	}

	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:      true,
		Envelope: true,
	}
	if q.Full {
		fetchOpts.BodySection = []*imapv2.FetchItemBodySection{bodySection}
	}

	fetchCmd := c.client.Fetch(imapv2.UIDSetNum(pageUIDs...), fetchOpts)
	defer fetchCmd.Close()

	byUID := make(map[imapv2.UID]model.Message, len(pageUIDs))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("collect message: %w", err)
		}

		message, err := c.toMessage(buf, bodySection, q.Full)
		if err != nil {
			return nil, err
		}
		byUID[buf.UID] = message
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	return ordered(pageUIDs, byUID), nil
}

// Count returns the number of messages with attachments in the folder.
func (c *Client) Count(ctx context.Context) (int, error) {
	if c.client == nil {
		return 0, ErrNotConnected
	}
	uids, err := c.searchUIDs(ctx, true)
	if err != nil {
		return 0, err
	}
	return len(uids), nil
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	client := c.client
	c.client = nil
	if c.stopClose != nil {
		c.stopClose()
	}

	if err := client.Logout().Wait(); err != nil {
		c.logger.Warn("imap logout failed", "err", err)
	}
	return client.Close()
}

func (c *Client) searchUIDs(ctx context.Context, hasAttachment bool) ([]imapv2.UID, error) {
	if uids, ok := c.uids[hasAttachment]; ok {
		return uids, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, ok := c.uids[false]
	if !ok {
		data, err := c.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", c.folder(), err)
		}
		all = data.AllUIDs()
		c.uids[false] = all
	}

	uids := all
	if hasAttachment {
		var err error
		uids, err = c.withAttachments(ctx, all)
		if err != nil {
			return nil, err
		}
		c.uids[true] = uids
	}

	c.logger.Debug("imap search", "folder", c.folder(), "hasAttachment", hasAttachment, "matches", len(uids))
	return uids, nil
}

// withAttachments keeps the UIDs whose BODYSTRUCTURE carries an attachment,
// preserving search order.
func (c *Client) withAttachments(ctx context.Context, uids []imapv2.UID) ([]imapv2.UID, error) {
	matches := make(map[imapv2.UID]bool, len(uids))
	for start := 0; start < len(uids); start += structureChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := page(uids, start, structureChunk)

		fetchCmd := c.client.Fetch(imapv2.UIDSetNum(chunk...), &imapv2.FetchOptions{
			UID:           true,
			BodyStructure: &imapv2.FetchItemBodyStructure{Extended: true},
		})
		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}
			buf, err := msg.Collect()
			if err != nil {
				fetchCmd.Close()
				return nil, fmt.Errorf("collect body structure: %w", err)
			}
			if hasAttachmentPart(buf.BodyStructure) {
				matches[buf.UID] = true
			}
		}
		if err := fetchCmd.Close(); err != nil {
			return nil, fmt.Errorf("fetch body structure: %w", err)
		}
	}
	return filterUIDs(uids, matches), nil
}

// hasAttachmentPart reports whether any leaf part is a disposition attachment
// or carries a file name, the same rule model.HasAttachment applies to raw
// messages.
func hasAttachmentPart(bs imapv2.BodyStructure) bool {
	switch part := bs.(type) {
	case *imapv2.BodyStructureMultiPart:
		for _, child := range part.Children {
			if hasAttachmentPart(child) {
				return true
			}
		}
	case *imapv2.BodyStructureSinglePart:
		var disposition *imapv2.BodyStructureDisposition
		if part.Extended != nil {
			disposition = part.Extended.Disposition
		}
		if disposition != nil {
			if strings.EqualFold(disposition.Value, "attachment") {
				return true
			}
			if disposition.Params["filename"] != "" {
				return true
			}
		}
		return part.Params["name"] != ""
	}
	return false
}

func filterUIDs(uids []imapv2.UID, keep map[imapv2.UID]bool) []imapv2.UID {
	out := make([]imapv2.UID, 0, len(keep))
	for _, uid := range uids {
		if keep[uid] {
			out = append(out, uid)
		}
	}
	return out
}

func (c *Client) toMessage(buf *imapclient.FetchMessageBuffer, section *imapv2.FetchItemBodySection, full bool) (model.Message, error) {
	id := fmt.Sprintf("%s:%d", c.folder(), buf.UID)
	var subject string
	if buf.Envelope != nil {
		if messageID := strings.Trim(buf.Envelope.MessageID, " <>"); messageID != "" {
			id = messageID
		}
		subject = buf.Envelope.Subject
	}

	if !full {
		return model.Message{ID: id, Subject: subject}, nil
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return model.Message{}, fmt.Errorf("message uid %d: body section missing", buf.UID)
	}

	msg, err := model.ParseMessage(id, raw)
	if err != nil {
		return model.Message{}, fmt.Errorf("message uid %d: %w", buf.UID, err)
	}
	if msg.Subject == "" {
		msg.Subject = subject
	}
	return msg, nil
}

func (c *Client) folder() string {
	if c.opts.Folder == "" {
		return "INBOX"
	}
	return c.opts.Folder
}

// page returns the UIDs in [offset, offset+limit). A limit of 0 selects all
// remaining UIDs.
func page(uids []imapv2.UID, offset, limit int) []imapv2.UID {
	if offset < 0 || offset >= len(uids) {
		return nil
	}
	end := len(uids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return uids[offset:end]
}

// ordered returns the fetched messages in search order. Servers may answer a
// FETCH in any order.
func ordered(uids []imapv2.UID, byUID map[imapv2.UID]model.Message) []model.Message {
	out := make([]model.Message, 0, len(byUID))
	for _, uid := range uids {
		if msg, ok := byUID[uid]; ok {
			out = append(out, msg)
		}
	}
	return out
}
