// Package credential keeps IMAP passwords in the operating system keyring.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mail-attachment-extractor"

// ErrNotFound is returned when no password is stored for an account.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes account passwords.
type Store struct {
	ring keyring.Keyring
}

// Open returns a Store backed by the first available system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mail-attachment-extractor/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-attachment-extractor-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Key is the keyring item name for an IMAP account.
func Key(host, user string) string {
	return "imap:" + strings.ToLower(strings.TrimSpace(user)) + "@" + strings.ToLower(strings.TrimSpace(host))
}

func (s *Store) Password(host, user string) (string, error) {
	key := Key(host, user)
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

func (s *Store) SetPassword(host, user, password string) error {
	key := Key(host, user)
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(password),
		Label: "IMAP password for " + user + " on " + host,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeletePassword(host, user string) error {
	key := Key(host, user)
	if err := s.ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Lookup opens the system keyring and returns the stored password.
func Lookup(host, user string) (string, error) {
	store, err := Open()
	if err != nil {
		return "", err
	}
	return store.Password(host, user)
}
