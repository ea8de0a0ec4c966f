// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package storage describes the coordination store boundary: a
// tree-structured key value store with '/' delimited paths.
package storage

import (
	"bytes"

	"github.com/zeebo/errs"
)

// Delimiter separates path components in a Key.
const Delimiter = '/'

var (
	// Error is the errs class for general storage errors.
	Error = errs.Class("storage error")

	// ErrKeyNotFound is returned when a key is absent from the store.
	ErrKeyNotFound = errs.Class("key not found")

	// ErrEmptyKey is returned when an operation is attempted with an empty key.
	ErrEmptyKey = errs.Class("empty key")
)

// Key is the type for the keys in a KeyValueStore.
type Key []byte

// Value is the type for the values in a KeyValueStore.
type Value []byte

// Keys is the type for a slice of keys in a KeyValueStore.
type Keys []Key

// Values is the type for a slice of values in a KeyValueStore.
type Values []Value

// KeyValueStore describes the coordination store used by worker clients.
// Implementations must support point reads/writes/deletes by path and
// cheap keys-only listings (no payload) below a path prefix.
type KeyValueStore interface {
	// Put adds a value to the provided key, returning an error on failure.
	Put(Key, Value) error
	// Get returns the value for a key, or ErrKeyNotFound.
	Get(Key) (Value, error)
	// GetAll returns the values for the provided keys, in the same order.
	GetAll(Keys) (Values, error)
	// List returns every key below the given prefix, in sorted order.
	List(prefix Key) (Keys, error)
	// Delete removes the given key and its value.
	Delete(Key) error
	// DeletePrefix removes every key below the given prefix.
	DeletePrefix(prefix Key) error
	Close() error
}

// IsZero returns true if the key is its zero value.
func (k Key) IsZero() bool { return len(k) == 0 }

// IsZero returns true if the value is its zero value.
func (v Value) IsZero() bool { return len(v) == 0 }

// Equal compares keys byte-wise.
func (k Key) Equal(b Key) bool { return bytes.Equal(k, b) }

// Less compares keys byte-wise.
func (k Key) Less(b Key) bool { return bytes.Compare(k, b) < 0 }

// HasPrefix reports whether the key lives below prefix.
func (k Key) HasPrefix(prefix Key) bool { return bytes.HasPrefix(k, prefix) }

// String implements the Stringer interface.
func (k Key) String() string { return string(k) }

// Strings converts a Keys slice to a slice of strings.
func (k Keys) Strings() []string {
	out := make([]string, len(k))
	for i, key := range k {
		out[i] = string(key)
	}
	return out
}

// CloneKey creates a copy of the key.
func CloneKey(key Key) Key { return append(Key{}, key...) }

// CloneValue creates a copy of the value.
func CloneValue(value Value) Value { return append(Value{}, value...) }
