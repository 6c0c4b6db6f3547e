// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package tilecache caches rendered map tiles with a bounded lifetime.
package tilecache

import (
	"context"
	"fmt"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cropsight/cropsight/private/kvstore"
)

var (
	// Error is the default error class for the tilecache package.
	Error = errs.Class("tilecache")

	mon = monkit.Package()
)

// Config configures the tile cache.
type Config struct {
	TTL time.Duration `help:"how long rendered tiles stay cached" default:"24h"`
}

// TileKey identifies one rendered tile.
type TileKey struct {
	SceneID string
	Index   string
	Zoom    int
	X       int
	Y       int
}

func (key TileKey) storeKey() kvstore.Key {
	return kvstore.Key(fmt.Sprintf("%s%d/%d/%d", scenePrefix(key.SceneID, key.Index), key.Zoom, key.X, key.Y))
}

// scenePrefix groups all tiles of one scene under a shared key prefix so
// they can be dropped together when the scene is re-promoted.
func scenePrefix(sceneID, index string) string {
	return "tile:" + sceneID + ":" + index + ":"
}

// Cache stores rendered tiles in the counter store with a TTL. A miss is
// not an error; callers render and Set.
type Cache struct {
	log   *zap.Logger
	store kvstore.Store
	ttl   time.Duration
}

// New creates a tile cache.
func New(log *zap.Logger, store kvstore.Store, config Config) *Cache {
	return &Cache{log: log, store: store, ttl: config.TTL}
}

// Get returns the cached tile and whether it was present.
func (cache *Cache) Get(ctx context.Context, key TileKey) (_ []byte, ok bool, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := cache.store.Get(ctx, key.storeKey())
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			mon.Counter("tilecache_miss").Inc(1)
			return nil, false, nil
		}
		return nil, false, Error.Wrap(err)
	}
	mon.Counter("tilecache_hit").Inc(1)
	return value, true, nil
}

// Set stores a rendered tile for the configured lifetime.
func (cache *Cache) Set(ctx context.Context, key TileKey, tile []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	return Error.Wrap(cache.store.PutWithTTL(ctx, key.storeKey(), tile, cache.ttl))
}

// InvalidateScene drops every cached tile rendered from a scene, across
// all indexes and zoom levels, and returns how many were dropped.
func (cache *Cache) InvalidateScene(ctx context.Context, sceneID string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	dropped, err := cache.store.DeletePrefix(ctx, kvstore.Key("tile:"+sceneID+":"))
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if dropped > 0 {
		cache.log.Info("tiles invalidated",
			zap.String("scene", sceneID),
			zap.Int64("count", dropped))
	}
	return dropped, nil
}
