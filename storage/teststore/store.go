// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package teststore implements an in-memory coordination store for tests.
package teststore

import (
	"sort"
	"sync"

	"github.com/crowdtiles/crowdtiles/storage"
)

// Client implements an in-memory key value store.
type Client struct {
	mu    sync.Mutex
	items map[string]storage.Value

	// PutHook, when set, runs before every Put and can inject a failure.
	PutHook func(storage.Key) error

	CallCount struct {
		Get          int
		Put          int
		GetAll       int
		List         int
		Delete       int
		DeletePrefix int
		Close        int
	}
}

// New creates a new in-memory key value store.
func New() *Client {
	return &Client{items: map[string]storage.Value{}}
}

// Put adds a value to the store.
func (store *Client) Put(key storage.Key, value storage.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	if store.PutHook != nil {
		if err := store.PutHook(key); err != nil {
			return err
		}
	}
	store.items[key.String()] = storage.CloneValue(value)
	return nil
}

// Get returns the value for a key.
func (store *Client) Get(key storage.Key) (storage.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++
	value, ok := store.items[key.String()]
	if !ok {
		return nil, storage.ErrKeyNotFound.New("%s", key)
	}
	return storage.CloneValue(value), nil
}

// GetAll returns the values for the provided keys, in the same order.
func (store *Client) GetAll(keys storage.Keys) (storage.Values, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.GetAll++
	values := make(storage.Values, 0, len(keys))
	for _, key := range keys {
		value, ok := store.items[key.String()]
		if !ok {
			return nil, storage.ErrKeyNotFound.New("%s", key)
		}
		values = append(values, storage.CloneValue(value))
	}
	return values, nil
}

// List returns every key below the given prefix, in sorted order.
func (store *Client) List(prefix storage.Key) (storage.Keys, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.List++
	var keys storage.Keys
	for k := range store.items {
		if storage.Key(k).HasPrefix(prefix) {
			keys = append(keys, storage.CloneKey(storage.Key(k)))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}

// Delete removes the given key and its value.
func (store *Client) Delete(key storage.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++
	if _, ok := store.items[key.String()]; !ok {
		return storage.ErrKeyNotFound.New("%s", key)
	}
	delete(store.items, key.String())
	return nil
}

// DeletePrefix removes every key below the given prefix.
func (store *Client) DeletePrefix(prefix storage.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.DeletePrefix++
	for k := range store.items {
		if storage.Key(k).HasPrefix(prefix) {
			delete(store.items, k)
		}
	}
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.CallCount.Close++
	return nil
}

// Len returns the number of stored keys.
func (store *Client) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.items)
}
