// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package storage declares the bucketed blob store interface backing scene
// and raster data.
package storage

import (
	"context"
	"path"

	"github.com/zeebo/errs"
)

// ErrNotExist is returned when a blob or bucket is missing.
var ErrNotExist = errs.Class("blob does not exist")

// Error is the default storage errs class.
var Error = errs.Class("storage")

// BlobRef points at a blob within a bucket.
type BlobRef struct {
	Bucket string
	Path   string
}

// IsValid returns whether both bucket and path are specified.
func (ref BlobRef) IsValid() bool {
	return len(ref.Bucket) > 0 && len(ref.Path) > 0
}

// String implements the Stringer interface.
func (ref BlobRef) String() string {
	return ref.Bucket + "/" + ref.Path
}

// Blobs is a bucketed blob storage interface.
//
// Copy is expected to be performed server-side where the backend supports it,
// without round-tripping the payload through the caller.
type Blobs interface {
	// Put stores data under ref, creating the bucket when missing.
	Put(ctx context.Context, ref BlobRef, data []byte) error
	// Get returns the complete blob at ref, or ErrNotExist.
	Get(ctx context.Context, ref BlobRef) ([]byte, error)
	// Exists reports whether the blob at ref exists.
	Exists(ctx context.Context, ref BlobRef) (bool, error)
	// Copy copies src to dst, possibly across buckets, creating the
	// destination bucket when missing. Returns ErrNotExist when src is
	// missing.
	Copy(ctx context.Context, src, dst BlobRef) error
	// Delete removes the blob at ref. Deleting a missing blob is not an
	// error.
	Delete(ctx context.Context, ref BlobRef) error
}

// ContentType guesses the mime type for a storage path.
func ContentType(blobPath string) string {
	switch path.Ext(blobPath) {
	case ".tif", ".tiff", ".cog":
		return "image/tiff"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json", ".geojson":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
