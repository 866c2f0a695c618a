// Package kv provides the local key-value store the vault persists into.
//
// Values are strings keyed by well-known constant names. Each Set or Remove is
// atomic for its single key; there are no transactions across keys.
package kv

import "errors"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store is closed")

// Store is the key-value capability consumed by the record store and the gate.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}
