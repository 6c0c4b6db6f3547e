// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package teststore implements an in-memory kvstore.Store for tests.
package teststore

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cropsight/cropsight/private/kvstore"
)

// Client implements in-memory key value store with TTL and counter support.
type Client struct {
	mu    sync.Mutex
	items map[string]item

	// nowFn is overridable so tests can step expiry without sleeping.
	nowFn func() time.Time

	// forcedError, when set, makes every call fail. Used for testing
	// infrastructure-outage branches.
	forcedError error

	CallCount struct {
		Get            int
		Put            int
		Delete         int
		Increment      int
		CompareAndSwap int
	}
}

type item struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// New creates an in-memory store.
func New() *Client {
	return &Client{
		items: map[string]item{},
		nowFn: time.Now,
	}
}

// SetNowFn overrides the clock used for expiry decisions.
func (store *Client) SetNowFn(now func() time.Time) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nowFn = now
}

// SetError makes all operations fail with the given error until reset with nil.
func (store *Client) SetError(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.forcedError = err
}

// Put adds a value to the store.
func (store *Client) Put(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
	return store.PutWithTTL(ctx, key, value, 0)
}

// PutWithTTL adds a value that expires after ttl.
func (store *Client) PutWithTTL(ctx context.Context, key kvstore.Key, value kvstore.Value, ttl time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++
	if store.forcedError != nil {
		return store.forcedError
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = store.nowFn().Add(ttl)
	}
	store.items[key.String()] = item{
		value:     append([]byte{}, value...),
		expiresAt: expiresAt,
	}
	return nil
}

// Get returns the value for a key, or kvstore.ErrKeyNotFound.
func (store *Client) Get(ctx context.Context, key kvstore.Key) (kvstore.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++
	if store.forcedError != nil {
		return nil, store.forcedError
	}
	if key.IsZero() {
		return nil, kvstore.ErrEmptyKey.New("")
	}

	it, ok := store.locked(key)
	if !ok {
		return nil, kvstore.ErrKeyNotFound.New("%q", key)
	}
	return append(kvstore.Value{}, it.value...), nil
}

// Delete deletes the key and its value.
func (store *Client) Delete(ctx context.Context, key kvstore.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++
	if store.forcedError != nil {
		return store.forcedError
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}
	delete(store.items, key.String())
	return nil
}

// DeletePrefix deletes every key starting with prefix.
func (store *Client) DeletePrefix(ctx context.Context, prefix kvstore.Key) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forcedError != nil {
		return 0, store.forcedError
	}

	var deleted int64
	for key := range store.items {
		if bytes.HasPrefix([]byte(key), prefix) {
			delete(store.items, key)
			deleted++
		}
	}
	return deleted, nil
}

// Range iterates over all live items in unspecified order.
func (store *Client) Range(ctx context.Context, fn func(context.Context, kvstore.Key, kvstore.Value) error) error {
	store.mu.Lock()
	if store.forcedError != nil {
		store.mu.Unlock()
		return store.forcedError
	}
	var keys []string
	for key := range store.items {
		if _, ok := store.locked(kvstore.Key(key)); ok {
			keys = append(keys, key)
		}
	}
	store.mu.Unlock()

	for _, key := range keys {
		value, err := store.Get(ctx, kvstore.Key(key))
		if err != nil {
			if kvstore.ErrKeyNotFound.Has(err) {
				continue
			}
			return err
		}
		if err := fn(ctx, kvstore.Key(key), value); err != nil {
			return err
		}
	}
	return nil
}

// CompareAndSwap atomically compares and swaps oldValue with newValue.
func (store *Client) CompareAndSwap(ctx context.Context, key kvstore.Key, oldValue, newValue kvstore.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.CompareAndSwap++
	if store.forcedError != nil {
		return store.forcedError
	}
	if key.IsZero() {
		return kvstore.ErrEmptyKey.New("")
	}

	it, ok := store.locked(key)
	if !ok {
		if oldValue != nil {
			return kvstore.ErrKeyNotFound.New("%q", key)
		}
		if newValue == nil {
			return nil
		}
		store.items[key.String()] = item{value: append([]byte{}, newValue...)}
		return nil
	}

	if !bytes.Equal(it.value, oldValue) {
		return kvstore.ErrValueChanged.New("%q", key)
	}

	if newValue == nil {
		delete(store.items, key.String())
		return nil
	}
	store.items[key.String()] = item{value: append([]byte{}, newValue...), expiresAt: it.expiresAt}
	return nil
}

// Increment atomically increments the integer at key and returns the
// post-increment value.
func (store *Client) Increment(ctx context.Context, key kvstore.Key) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Increment++
	if store.forcedError != nil {
		return 0, store.forcedError
	}
	if key.IsZero() {
		return 0, kvstore.ErrEmptyKey.New("")
	}

	var current int64
	var expiresAt time.Time
	if it, ok := store.locked(key); ok {
		parsed, err := strconv.ParseInt(string(it.value), 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
		expiresAt = it.expiresAt
	}
	current++
	store.items[key.String()] = item{
		value:     []byte(strconv.FormatInt(current, 10)),
		expiresAt: expiresAt,
	}
	return current, nil
}

// ExpireAt schedules the key to be removed at the given time.
func (store *Client) ExpireAt(ctx context.Context, key kvstore.Key, at time.Time) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.forcedError != nil {
		return store.forcedError
	}

	it, ok := store.locked(key)
	if !ok {
		return nil
	}
	it.expiresAt = at
	store.items[key.String()] = it
	return nil
}

// GetInt64 returns the integer stored at key, or 0 if the key does not exist.
func (store *Client) GetInt64(ctx context.Context, key kvstore.Key) (int64, error) {
	value, err := store.Get(ctx, key)
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(string(value), 10, 64)
}

// Close closes the store.
func (store *Client) Close() error { return nil }

// locked returns the live item for key, dropping it when expired.
// Callers must hold store.mu.
func (store *Client) locked(key kvstore.Key) (item, bool) {
	it, ok := store.items[key.String()]
	if !ok {
		return item{}, false
	}
	if !it.expiresAt.IsZero() && !store.nowFn().Before(it.expiresAt) {
		delete(store.items, key.String())
		return item{}, false
	}
	return it, true
}
