// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package teststore implements an in-memory blob store for tests.
package teststore

import (
	"context"
	"sync"

	"github.com/cropsight/cropsight/storage"
)

// Blobs implements an in-memory storage.Blobs.
type Blobs struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte

	CallCount struct {
		Put    int
		Get    int
		Exists int
		Copy   int
		Delete int
	}
}

// New creates an in-memory blob store.
func New() *Blobs {
	return &Blobs{buckets: map[string]map[string][]byte{}}
}

// Put stores data under ref.
func (store *Blobs) Put(ctx context.Context, ref storage.BlobRef, data []byte) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if !ref.IsValid() {
		return storage.Error.New("invalid blob ref %q", ref)
	}
	bucket, ok := store.buckets[ref.Bucket]
	if !ok {
		bucket = map[string][]byte{}
		store.buckets[ref.Bucket] = bucket
	}
	bucket[ref.Path] = append([]byte{}, data...)
	return nil
}

// Get returns the complete blob at ref.
func (store *Blobs) Get(ctx context.Context, ref storage.BlobRef) ([]byte, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	data, ok := store.buckets[ref.Bucket][ref.Path]
	if !ok {
		return nil, storage.ErrNotExist.New("%q", ref)
	}
	return append([]byte{}, data...), nil
}

// Exists reports whether the blob at ref exists.
func (store *Blobs) Exists(ctx context.Context, ref storage.BlobRef) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Exists++

	_, ok := store.buckets[ref.Bucket][ref.Path]
	return ok, nil
}

// Copy copies src to dst.
func (store *Blobs) Copy(ctx context.Context, src, dst storage.BlobRef) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Copy++

	data, ok := store.buckets[src.Bucket][src.Path]
	if !ok {
		return storage.ErrNotExist.New("%q", src)
	}
	bucket, ok := store.buckets[dst.Bucket]
	if !ok {
		bucket = map[string][]byte{}
		store.buckets[dst.Bucket] = bucket
	}
	bucket[dst.Path] = append([]byte{}, data...)
	return nil
}

// Delete removes the blob at ref.
func (store *Blobs) Delete(ctx context.Context, ref storage.BlobRef) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	delete(store.buckets[ref.Bucket], ref.Path)
	return nil
}

// DeleteOutOfBand removes a blob without going through the Blobs interface
// call counting, simulating data lost behind the cache's back.
func (store *Blobs) DeleteOutOfBand(bucket, path string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.buckets[bucket], path)
}
