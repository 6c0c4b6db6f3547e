// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package kvstore declares the key/value store interfaces used for metadata,
// counters and short-lived caches.
package kvstore

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound is used when a key is not found in the store.
	ErrKeyNotFound = errs.Class("key not found")

	// ErrEmptyKey is returned when an empty key is used in Put or CompareAndSwap.
	ErrEmptyKey = errs.Class("empty key")

	// ErrValueChanged is returned when the current value of the key does not
	// match the old value in CompareAndSwap.
	ErrValueChanged = errs.Class("value changed")
)

// Key is the type for keys in a Store.
type Key []byte

// Value is the type for values in a Store.
type Value []byte

// Store describes key/value stores like redis and the in-memory test store.
type Store interface {
	// Put adds a value to the store.
	Put(ctx context.Context, key Key, value Value) error
	// PutWithTTL adds a value that expires after the given duration.
	PutWithTTL(ctx context.Context, key Key, value Value, ttl time.Duration) error
	// Get returns the value for a key, or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Value, error)
	// Delete deletes the key and its value.
	Delete(ctx context.Context, key Key) error
	// DeletePrefix deletes every key starting with prefix, returning how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix Key) (int64, error)
	// Range iterates over all items in unspecified order. The Key and
	// Value are valid only for the duration of the callback.
	Range(ctx context.Context, fn func(context.Context, Key, Value) error) error
	// CompareAndSwap atomically compares and swaps oldValue with newValue.
	// A nil oldValue asserts the key does not exist yet.
	CompareAndSwap(ctx context.Context, key Key, oldValue, newValue Value) error
	// Close closes the store.
	Close() error
}

// Counters describes the atomic counter operations used by quota enforcement.
// Increment must be atomic across concurrent callers.
type Counters interface {
	// Increment atomically increments the integer value stored at key by
	// one and returns the post-increment value.
	Increment(ctx context.Context, key Key) (int64, error)
	// ExpireAt schedules the key to be removed at the given time.
	ExpireAt(ctx context.Context, key Key, at time.Time) error
	// GetInt64 returns the integer stored at key, or 0 if the key does
	// not exist.
	GetInt64(ctx context.Context, key Key) (int64, error)
}

// IsZero returns true if the key is empty.
func (key Key) IsZero() bool { return len(key) == 0 }

// IsZero returns true if the value is empty.
func (value Value) IsZero() bool { return len(value) == 0 }

// String implements the Stringer interface.
func (key Key) String() string { return string(key) }
