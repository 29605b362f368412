// Package ledger records which message every extracted file came from.
package ledger

import (
	"errors"
	"fmt"
)

var ErrDuplicateName = errors.New("stored name already recorded")

// Entry links a stored file to its source message and attachment.
type Entry struct {
	StoredName  string `json:"stored_name" db:"stored_name"`
	MessageID   string `json:"message_id" db:"message_id"`
	ContentHash string `json:"content_hash" db:"content_hash"`
	Subject     string `json:"subject" db:"subject"`
}

// Mapping is the in-memory ledger of a single extraction run, keyed by
// stored file name and kept in write order.
type Mapping struct {
	entries []Entry
	index   map[string]int
}

func NewMapping() *Mapping {
	return &Mapping{index: make(map[string]int)}
}

// Add records an entry. Stored names must be unique within a run.
func (m *Mapping) Add(entry Entry) error {
	if entry.StoredName == "" {
		return fmt.Errorf("ledger entry for message %s has no stored name", entry.MessageID)
	}
	if _, exists := m.index[entry.StoredName]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, entry.StoredName)
	}
	m.index[entry.StoredName] = len(m.entries)
	m.entries = append(m.entries, entry)
	return nil
}

func (m *Mapping) Get(storedName string) (Entry, bool) {
	idx, ok := m.index[storedName]
	if !ok {
		return Entry{}, false
	}
	return m.entries[idx], true
}

func (m *Mapping) Len() int {
	return len(m.entries)
}

// Entries returns a copy of all entries in write order.
func (m *Mapping) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
