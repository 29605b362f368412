package model

import (
	"crypto/sha1"
	"encoding/hex"
)

// Message is a single mailbox message as seen by the extractor.
type Message struct {
	ID          string
	Subject     string
	Attachments []Attachment
}

// Attachment is one MIME part carrying a file.
type Attachment struct {
	MIMEType string
	Name     string
	Body     []byte
}

// ContentHash returns the hex encoded SHA-1 of the attachment body.
func (a Attachment) ContentHash() string {
	sum := sha1.Sum(a.Body)
	return hex.EncodeToString(sum[:])
}

// SearchQuery describes one bounded page of a mailbox search.
type SearchQuery struct {
	HasAttachment bool
	Limit         int
	Offset        int
	// Full requests message bodies; without it only identity and subject are filled in.
	Full bool
}
