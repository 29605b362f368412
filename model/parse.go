package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

var (
	ErrEmptyMessage     = errors.New("raw message is empty")
	ErrMessageIDMissing = errors.New("message has no Message-Id header")
)

// ParseMessage decodes a raw RFC 5322 message and collects every part that
// carries a file. Inline parts only count when they name a file. An empty id
// is replaced by the Message-Id header.
func ParseMessage(id string, raw []byte) (Message, error) {
	if len(raw) == 0 {
		return Message{}, ErrEmptyMessage
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Message{}, fmt.Errorf("read message %s: %w", id, err)
	}
	defer mr.Close()

	if id == "" {
		id, _ = mr.Header.MessageID()
	}
	if id == "" {
		return Message{}, ErrMessageIDMissing
	}

	// Subject falls back to the raw header value when decoding fails.
	subject, _ := mr.Header.Subject()
	msg := Message{ID: id, Subject: subject}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return msg, fmt.Errorf("read part of message %s: %w", id, err)
		}

		name, mimeType, ok := attachmentInfo(part.Header)
		if !ok {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("read attachment %q of message %s: %w", name, id, err)
		}

		msg.Attachments = append(msg.Attachments, Attachment{
			MIMEType: mimeType,
			Name:     name,
			Body:     body,
		})
	}

	return msg, nil
}

// HasAttachment reports whether the raw message contains at least one file part.
func HasAttachment(raw []byte) bool {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return false
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return false
		}
		if _, _, ok := attachmentInfo(part.Header); ok {
			return true
		}
	}
}

func attachmentInfo(header mail.PartHeader) (name, mimeType string, ok bool) {
	switch h := header.(type) {
	case *mail.AttachmentHeader:
		name, _ = h.Filename()
		mimeType, _, _ = h.ContentType()
		return name, strings.ToLower(mimeType), true
	case *mail.InlineHeader:
		_, params, _ := h.ContentDisposition()
		name = params["filename"]
		if name == "" {
			_, params, _ = h.ContentType()
			name = params["name"]
		}
		if name == "" {
			return "", "", false
		}
		mimeType, _, _ = h.ContentType()
		return name, strings.ToLower(mimeType), true
	}
	return "", "", false
}
