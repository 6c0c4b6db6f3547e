// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package scenecache deduplicates scene downloads across tenants. A scene
// is downloaded from the upstream provider once into a shared global
// bucket; later tenants get server-side copies instead of fresh
// downloads.
package scenecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cropsight/cropsight/private/kvstore"
	"github.com/cropsight/cropsight/scenes"
	"github.com/cropsight/cropsight/storage"
)

var (
	// Error is the default error class for the scenecache package.
	Error = errs.Class("scenecache")

	mon = monkit.Package()
)

// Entry is the global cache record for one scene. Bands maps a band name
// to its blob path inside the global bucket.
type Entry struct {
	SceneID        string            `json:"scene_id"`
	Bands          map[string]string `json:"bands"`
	Valid          bool              `json:"is_valid"`
	ReuseCount     int64             `json:"reuse_count"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
}

// Copy records that a tenant received a copy of a cached scene.
type Copy struct {
	TenantID string    `json:"tenant_id"`
	SceneID  string    `json:"scene_id"`
	Bands    []string  `json:"bands"`
	CopiedAt time.Time `json:"copied_at"`
}

func entryKey(sceneID string) kvstore.Key {
	return kvstore.Key("scene:" + sceneID)
}

func copyKey(tenantID, sceneID string) kvstore.Key {
	return kvstore.Key("scenecopy:" + tenantID + ":" + sceneID)
}

func bandPath(sceneID, band string) string {
	return "scenes/" + sceneID + "/" + band + ".jp2"
}

// Service implements the shared scene cache.
//
// Entry updates are last writer wins: two tenants promoting the same
// scene concurrently both upload the same immutable band blobs, so the
// losing write changes nothing material.
type Service struct {
	log      *zap.Logger
	store    kvstore.Store
	blobs    storage.Blobs
	provider scenes.Provider
	nowFn    func() time.Time
}

// NewService creates a scene cache service.
func NewService(log *zap.Logger, store kvstore.Store, blobs storage.Blobs, provider scenes.Provider) *Service {
	return &Service{
		log:      log,
		store:    store,
		blobs:    blobs,
		provider: provider,
		nowFn:    time.Now,
	}
}

// SetNowFn overrides the clock, for tests.
func (service *Service) SetNowFn(now func() time.Time) { service.nowFn = now }

// Ensure makes the requested bands of a scene available in the tenant's
// bucket and returns the tenant-side blob refs per band.
//
// On a cache hit the bands are copied server-side from the global
// bucket. On a miss, or when a hit turns out to be corrupted, the bands
// are downloaded from the provider, promoted into the global bucket and
// then copied.
func (service *Service) Ensure(ctx context.Context, tenantID, sceneID string, bands []string) (_ map[string]storage.BlobRef, err error) {
	defer mon.Task()(&ctx)(&err)

	entry, found, err := service.lookup(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	if found && entry.Valid && hasBands(entry, bands) {
		// a tenant that already holds a copy gets its refs back unchanged
		if record, ok, err := service.Copies(ctx, tenantID, sceneID); err == nil && ok && coversBands(record, bands) {
			return tenantRefs(tenantID, entry, bands), nil
		}

		refs, err := service.copyToTenant(ctx, tenantID, entry, bands)
		if err == nil {
			service.recordHit(ctx, entry)
			mon.Counter("scenecache_hit").Inc(1)
			return refs, nil
		}
		if !storage.ErrNotExist.Has(err) {
			// the global copy is intact, the failure is elsewhere
			return nil, err
		}

		// a band blob vanished underneath a valid entry
		service.log.Warn("scene cache entry corrupted, re-promoting",
			zap.String("scene", sceneID))
		mon.Counter("scenecache_corrupted").Inc(1)
		if err := service.invalidate(ctx, entry); err != nil {
			service.log.Warn("failed to invalidate corrupted entry",
				zap.String("scene", sceneID), zap.Error(err))
		}
	}

	entry, err = service.promote(ctx, sceneID, bands, entry, found)
	if err != nil {
		return nil, err
	}
	mon.Counter("scenecache_miss").Inc(1)

	return service.copyToTenant(ctx, tenantID, entry, bands)
}

// Lookup returns the global cache entry for a scene.
func (service *Service) Lookup(ctx context.Context, sceneID string) (Entry, bool, error) {
	return service.lookup(ctx, sceneID)
}

// Invalidate marks a scene's global entry as unusable. The band blobs
// stay in place; the next request re-promotes over them.
func (service *Service) Invalidate(ctx context.Context, sceneID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	entry, found, err := service.lookup(ctx, sceneID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return service.invalidate(ctx, entry)
}

// Copies returns the recorded tenant copy for a scene, if any.
func (service *Service) Copies(ctx context.Context, tenantID, sceneID string) (Copy, bool, error) {
	value, err := service.store.Get(ctx, copyKey(tenantID, sceneID))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return Copy{}, false, nil
		}
		return Copy{}, false, Error.Wrap(err)
	}
	var record Copy
	if err := json.Unmarshal(value, &record); err != nil {
		return Copy{}, false, Error.Wrap(err)
	}
	return record, true, nil
}

func (service *Service) lookup(ctx context.Context, sceneID string) (Entry, bool, error) {
	value, err := service.store.Get(ctx, entryKey(sceneID))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, Error.Wrap(err)
	}
	var entry Entry
	if err := json.Unmarshal(value, &entry); err != nil {
		return Entry{}, false, Error.Wrap(err)
	}
	return entry, true, nil
}

func (service *Service) save(ctx context.Context, entry Entry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(service.store.Put(ctx, entryKey(entry.SceneID), value))
}

func (service *Service) invalidate(ctx context.Context, entry Entry) error {
	entry.Valid = false
	return service.save(ctx, entry)
}

// promote downloads the requested bands into the global bucket and
// upserts the entry. An existing entry keeps its creation time and reuse
// count and gains any bands it was missing.
func (service *Service) promote(ctx context.Context, sceneID string, bands []string, previous Entry, existed bool) (_ Entry, err error) {
	defer mon.Task()(&ctx)(&err)

	now := service.nowFn().UTC()
	entry := Entry{
		SceneID:        sceneID,
		Bands:          map[string]string{},
		Valid:          true,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if existed {
		entry.CreatedAt = previous.CreatedAt
		entry.ReuseCount = previous.ReuseCount
		for band, blobPath := range previous.Bands {
			entry.Bands[band] = blobPath
		}
	}

	for _, band := range bands {
		data, err := service.provider.DownloadBand(ctx, sceneID, band)
		if err != nil {
			return Entry{}, Error.Wrap(err)
		}
		ref := storage.BlobRef{Bucket: storage.GlobalBucket, Path: bandPath(sceneID, band)}
		if err := service.blobs.Put(ctx, ref, data); err != nil {
			return Entry{}, Error.Wrap(err)
		}
		entry.Bands[band] = ref.Path
	}

	if err := service.save(ctx, entry); err != nil {
		return Entry{}, err
	}
	service.log.Info("scene promoted to global cache",
		zap.String("scene", sceneID),
		zap.Strings("bands", bands))
	return entry, nil
}

func (service *Service) copyToTenant(ctx context.Context, tenantID string, entry Entry, bands []string) (map[string]storage.BlobRef, error) {
	refs := tenantRefs(tenantID, entry, bands)
	for _, band := range bands {
		src := storage.BlobRef{Bucket: storage.GlobalBucket, Path: entry.Bands[band]}
		if err := service.blobs.Copy(ctx, src, refs[band]); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	record := Copy{
		TenantID: tenantID,
		SceneID:  entry.SceneID,
		Bands:    bands,
		CopiedAt: service.nowFn().UTC(),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := service.store.Put(ctx, copyKey(tenantID, entry.SceneID), value); err != nil {
		service.log.Warn("failed to record tenant copy",
			zap.String("tenant", tenantID),
			zap.String("scene", entry.SceneID),
			zap.Error(err))
	}
	return refs, nil
}

func (service *Service) recordHit(ctx context.Context, entry Entry) {
	entry.ReuseCount++
	entry.LastAccessedAt = service.nowFn().UTC()
	if err := service.save(ctx, entry); err != nil {
		service.log.Warn("failed to record cache hit",
			zap.String("scene", entry.SceneID), zap.Error(err))
	}
}

func tenantRefs(tenantID string, entry Entry, bands []string) map[string]storage.BlobRef {
	bucket := storage.TenantBucket(tenantID)
	refs := make(map[string]storage.BlobRef, len(bands))
	for _, band := range bands {
		refs[band] = storage.BlobRef{Bucket: bucket, Path: entry.Bands[band]}
	}
	return refs
}

func coversBands(record Copy, bands []string) bool {
	held := make(map[string]bool, len(record.Bands))
	for _, band := range record.Bands {
		held[band] = true
	}
	for _, band := range bands {
		if !held[band] {
			return false
		}
	}
	return true
}

func hasBands(entry Entry, bands []string) bool {
	for _, band := range bands {
		if _, ok := entry.Bands[band]; !ok {
			return false
		}
	}
	return true
}
