// Package securestore provides the encrypted key-value storage that backs the
// token store. Implementations hold opaque strings under named keys.
package securestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist
var ErrNotFound = errors.New("key not found")

// Store is an encrypted key-value store.
// Every operation may fail independently of the others.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// StorageError indicates a failed secure store operation.
type StorageError struct {
	Op  string // "get", "set", "delete"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	msg := e.Op + " " + e.Key
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the key was absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
