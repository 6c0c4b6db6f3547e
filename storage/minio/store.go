// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package minio implements the blob store on any S3-compatible backend.
package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/cropsight/cropsight/storage"
)

var (
	// Error is the default minio blob store errs class.
	Error = errs.Class("minio")

	mon = monkit.Package()
)

// Config contains configurable values for the S3/MinIO blob store.
type Config struct {
	Endpoint  string `help:"S3 endpoint host:port" default:"localhost:9000"`
	AccessKey string `help:"S3 access key id" default:""`
	SecretKey string `help:"S3 secret access key" default:""`
	UseTLS    bool   `help:"use TLS when connecting to the S3 endpoint" default:"false"`
	Region    string `help:"S3 region" default:"us-east-1"`
}

// Store implements storage.Blobs on a MinIO/S3 endpoint.
type Store struct {
	client *minio.Client
	region string
}

// Open connects to the configured S3 endpoint.
func Open(ctx context.Context, config Config) (*Store, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseTLS,
		Region: config.Region,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{client: client, region: config.Region}, nil
}

// Put stores data under ref, creating the bucket when missing.
func (store *Store) Put(ctx context.Context, ref storage.BlobRef, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !ref.IsValid() {
		return storage.Error.New("invalid blob ref %q", ref)
	}

	if err := store.ensureBucket(ctx, ref.Bucket); err != nil {
		return err
	}

	_, err = store.client.PutObject(ctx, ref.Bucket, ref.Path,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: storage.ContentType(ref.Path)})
	return Error.Wrap(err)
}

// Get returns the complete blob at ref.
func (store *Store) Get(ctx context.Context, ref storage.BlobRef) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)
	if !ref.IsValid() {
		return nil, storage.Error.New("invalid blob ref %q", ref)
	}

	object, err := store.client.GetObject(ctx, ref.Bucket, ref.Path, minio.GetObjectOptions{})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, object.Close()) }()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist.New("%q", ref)
		}
		return nil, Error.Wrap(err)
	}
	return data, nil
}

// Exists reports whether the blob at ref exists.
func (store *Store) Exists(ctx context.Context, ref storage.BlobRef) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = store.client.StatObject(ctx, ref.Bucket, ref.Path, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, Error.Wrap(err)
	}
	return true, nil
}

// Copy copies src to dst server-side, creating the destination bucket when
// missing.
func (store *Store) Copy(ctx context.Context, src, dst storage.BlobRef) (err error) {
	defer mon.Task()(&ctx)(&err)
	if !src.IsValid() || !dst.IsValid() {
		return storage.Error.New("invalid blob ref %q -> %q", src, dst)
	}

	if err := store.ensureBucket(ctx, dst.Bucket); err != nil {
		return err
	}

	_, err = store.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dst.Bucket, Object: dst.Path},
		minio.CopySrcOptions{Bucket: src.Bucket, Object: src.Path})
	if err != nil {
		if isNotFound(err) {
			return storage.ErrNotExist.New("%q", src)
		}
		return Error.Wrap(err)
	}
	return nil
}

// Delete removes the blob at ref.
func (store *Store) Delete(ctx context.Context, ref storage.BlobRef) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(store.client.RemoveObject(ctx, ref.Bucket, ref.Path, minio.RemoveObjectOptions{}))
}

func (store *Store) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := store.client.BucketExists(ctx, bucket)
	if err != nil {
		return Error.Wrap(err)
	}
	if exists {
		return nil
	}
	err = store.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: store.region})
	if err != nil {
		// racing creators are fine, the bucket is there either way
		exists, existsErr := store.client.BucketExists(ctx, bucket)
		if existsErr == nil && exists {
			return nil
		}
		return Error.Wrap(err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == 404
}
