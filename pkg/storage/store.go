// Package storage persists small named values (such as the selected wallet
// name) behind a pluggable key/value Store, degrading to no-ops when no store
// is available.
package storage

import "errors"

// ErrStorageUnavailable is logged when a Local value has no backing store.
// It is never returned to callers of Local.
var ErrStorageUnavailable = errors.New("persistent storage unavailable")

// Store is a string key/value store
type Store interface {
	// Get returns the stored value and whether it exists
	Get(key string) (string, bool, error)

	// Set inserts or replaces the value for key
	Set(key, value string) error

	// Remove deletes key; removing a missing key is not an error
	Remove(key string) error
}
