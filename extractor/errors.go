package extractor

import (
	"errors"
	"fmt"

	"github.com/dhcgn/mail-attachment-extractor/naming"
)

var (
	ErrNilMailbox   = errors.New("mailbox client is nil")
	errNotDirectory = errors.New("not a directory")
)

// StorageError reports a filesystem failure during extraction. It aborts the
// run; files written before it remain on disk.
type StorageError = naming.StorageError

// ConfigurationError reports an unusable run configuration, most often a
// destination that is missing, not a directory or not writable.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
