package storage

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps values in the operating system's secret store
// (macOS Keychain, Secret Service, Windows Credential Manager).
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a store that files entries under service
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

// Get implements Store
func (s *KeyringStore) Get(key string) (string, bool, error) {
	value, err := keyring.Get(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read keyring entry %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store
func (s *KeyringStore) Set(key, value string) error {
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to write keyring entry %s: %w", key, err)
	}
	return nil
}

// Remove implements Store
func (s *KeyringStore) Remove(key string) error {
	err := keyring.Delete(s.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry %s: %w", key, err)
	}
	return nil
}

var _ Store = (*KeyringStore)(nil)
