package storage

import (
	"encoding/json"
	"log/slog"
)

// Local is a single JSON-encoded value stored under a fixed key.
// Read and write failures are logged and never surface to the caller: Get
// falls back to the default and Set/Remove become no-ops.
type Local[T any] struct {
	store  Store
	key    string
	def    T
	logger *slog.Logger
}

// NewLocal binds key in store to a typed value with default def.
// A nil store yields a value that always reads as def.
func NewLocal[T any](store Store, key string, def T, logger *slog.Logger) *Local[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		logger.Debug("no persistent store, falling back to defaults", "key", key, "error", ErrStorageUnavailable)
	}
	return &Local[T]{
		store:  store,
		key:    key,
		def:    def,
		logger: logger,
	}
}

// Key returns the storage key
func (l *Local[T]) Key() string {
	return l.key
}

// Get returns the stored value, or the default if it is absent or unreadable
func (l *Local[T]) Get() T {
	if l.store == nil {
		return l.def
	}

	raw, ok, err := l.store.Get(l.key)
	if err != nil {
		l.logger.Warn("failed to read stored value", "key", l.key, "error", err)
		return l.def
	}
	if !ok {
		return l.def
	}

	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		l.logger.Warn("stored value is corrupt, using default", "key", l.key, "error", err)
		return l.def
	}
	return value
}

// Set stores value
func (l *Local[T]) Set(value T) {
	if l.store == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		l.logger.Warn("failed to encode value for storage", "key", l.key, "error", err)
		return
	}
	if err := l.store.Set(l.key, string(raw)); err != nil {
		l.logger.Warn("failed to store value", "key", l.key, "error", err)
	}
}

// Remove deletes the stored value so the next Get returns the default
func (l *Local[T]) Remove() {
	if l.store == nil {
		return
	}
	if err := l.store.Remove(l.key); err != nil {
		l.logger.Warn("failed to remove stored value", "key", l.key, "error", err)
	}
}
