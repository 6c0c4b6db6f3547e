// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package testblobs wraps a blob store with configurable failures.
package testblobs

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cropsight/cropsight/storage"
)

// BadBlobs implements a blob store whose operations can be made to fail.
// Use SetError to configure the error returned by all operations, or the
// per-operation setters to fail a single call site.
type BadBlobs struct {
	mu    sync.Mutex
	err   error
	copy  error
	put   error
	blobs storage.Blobs
	log   *zap.Logger
}

// New creates a bad blob store wrapping the provided blobs.
func New(log *zap.Logger, blobs storage.Blobs) *BadBlobs {
	return &BadBlobs{log: log, blobs: blobs}
}

// SetError sets an error to be returned for all operations.
func (bad *BadBlobs) SetError(err error) {
	bad.mu.Lock()
	defer bad.mu.Unlock()
	bad.err = err
}

// SetCopyError sets an error to be returned by Copy only.
func (bad *BadBlobs) SetCopyError(err error) {
	bad.mu.Lock()
	defer bad.mu.Unlock()
	bad.copy = err
}

// SetPutError sets an error to be returned by Put only.
func (bad *BadBlobs) SetPutError(err error) {
	bad.mu.Lock()
	defer bad.mu.Unlock()
	bad.put = err
}

func (bad *BadBlobs) forced(op error) error {
	bad.mu.Lock()
	defer bad.mu.Unlock()
	if bad.err != nil {
		return bad.err
	}
	return op
}

// Put stores data under ref.
func (bad *BadBlobs) Put(ctx context.Context, ref storage.BlobRef, data []byte) error {
	if err := bad.forced(bad.put); err != nil {
		return err
	}
	return bad.blobs.Put(ctx, ref, data)
}

// Get returns the complete blob at ref.
func (bad *BadBlobs) Get(ctx context.Context, ref storage.BlobRef) ([]byte, error) {
	if err := bad.forced(nil); err != nil {
		return nil, err
	}
	return bad.blobs.Get(ctx, ref)
}

// Exists reports whether the blob at ref exists.
func (bad *BadBlobs) Exists(ctx context.Context, ref storage.BlobRef) (bool, error) {
	if err := bad.forced(nil); err != nil {
		return false, err
	}
	return bad.blobs.Exists(ctx, ref)
}

// Copy copies src to dst.
func (bad *BadBlobs) Copy(ctx context.Context, src, dst storage.BlobRef) error {
	if err := bad.forced(bad.copy); err != nil {
		return err
	}
	return bad.blobs.Copy(ctx, src, dst)
}

// Delete removes the blob at ref.
func (bad *BadBlobs) Delete(ctx context.Context, ref storage.BlobRef) error {
	if err := bad.forced(nil); err != nil {
		return err
	}
	return bad.blobs.Delete(ctx, ref)
}
