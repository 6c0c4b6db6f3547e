// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package scenecache_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	kvtest "github.com/cropsight/cropsight/private/kvstore/teststore"
	"github.com/cropsight/cropsight/private/testblobs"
	"github.com/cropsight/cropsight/scenecache"
	"github.com/cropsight/cropsight/scenes"
	"github.com/cropsight/cropsight/scenes/testprovider"
	"github.com/cropsight/cropsight/storage"
	"github.com/cropsight/cropsight/storage/teststore"
)

func newHarness(t *testing.T) (*scenecache.Service, *testprovider.Provider, *teststore.Blobs) {
	provider := testprovider.New()
	blobs := teststore.New()
	service := scenecache.NewService(zaptest.NewLogger(t), kvtest.New(), blobs, provider)
	return service, provider, blobs
}

func addScene(provider *testprovider.Provider, sceneID string) {
	provider.AddScene(scenes.Metadata{ID: sceneID}, map[string][]byte{
		"B04": []byte("red " + sceneID),
		"B08": []byte("nir " + sceneID),
	})
}

func TestEnsureDeduplicatesDownloads(t *testing.T) {
	ctx := testcontext.New(t)
	service, provider, blobs := newHarness(t)
	addScene(provider, "S2A_TILE_1")

	// first tenant pays for the downloads
	refs, err := service.Ensure(ctx, "farm-a", "S2A_TILE_1", []string{"B04", "B08"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, 2, provider.Downloads())

	data, err := blobs.Get(ctx, refs["B04"])
	require.NoError(t, err)
	require.Equal(t, []byte("red S2A_TILE_1"), data)

	// second tenant reuses the global copy
	refs, err = service.Ensure(ctx, "farm-b", "S2A_TILE_1", []string{"B04", "B08"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, 2, provider.Downloads())
	require.NotEqual(t, storage.TenantBucket("farm-a"), refs["B04"].Bucket)

	entry, found, err := service.Lookup(ctx, "S2A_TILE_1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, entry.Valid)
	require.EqualValues(t, 1, entry.ReuseCount)

	record, found, err := service.Copies(ctx, "farm-b", "S2A_TILE_1")
	require.NoError(t, err)
	require.True(t, found)
	require.ElementsMatch(t, []string{"B04", "B08"}, record.Bands)

	// a repeat request from the same tenant changes nothing
	copies := blobs.CallCount.Copy
	refs, err = service.Ensure(ctx, "farm-b", "S2A_TILE_1", []string{"B04"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, copies, blobs.CallCount.Copy)
	require.Equal(t, 2, provider.Downloads())

	entry, _, err = service.Lookup(ctx, "S2A_TILE_1")
	require.NoError(t, err)
	require.EqualValues(t, 1, entry.ReuseCount)
}

func TestEnsureDownloadsMissingBands(t *testing.T) {
	ctx := testcontext.New(t)
	service, provider, _ := newHarness(t)
	provider.AddScene(scenes.Metadata{ID: "S2A_TILE_2"}, map[string][]byte{
		"B02": []byte("blue"),
		"B04": []byte("red"),
		"B08": []byte("nir"),
	})

	_, err := service.Ensure(ctx, "farm-a", "S2A_TILE_2", []string{"B04", "B08"})
	require.NoError(t, err)
	require.Equal(t, 2, provider.Downloads())

	// a request for a band the entry lacks re-promotes only once more
	_, err = service.Ensure(ctx, "farm-a", "S2A_TILE_2", []string{"B02"})
	require.NoError(t, err)
	require.Equal(t, 3, provider.Downloads())

	entry, _, err := service.Lookup(ctx, "S2A_TILE_2")
	require.NoError(t, err)
	require.Len(t, entry.Bands, 3)
}

func TestEnsureHealsCorruptedEntry(t *testing.T) {
	ctx := testcontext.New(t)
	service, provider, blobs := newHarness(t)
	addScene(provider, "S2A_TILE_3")

	refs, err := service.Ensure(ctx, "farm-a", "S2A_TILE_3", []string{"B04"})
	require.NoError(t, err)
	require.Equal(t, 1, provider.Downloads())

	// the global blob disappears while the entry still claims it
	blobs.DeleteOutOfBand(storage.GlobalBucket, "scenes/S2A_TILE_3/B04.jp2")

	refs, err = service.Ensure(ctx, "farm-b", "S2A_TILE_3", []string{"B04"})
	require.NoError(t, err)
	require.Equal(t, 2, provider.Downloads())

	data, err := blobs.Get(ctx, refs["B04"])
	require.NoError(t, err)
	require.Equal(t, []byte("red S2A_TILE_3"), data)

	entry, found, err := service.Lookup(ctx, "S2A_TILE_3")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, entry.Valid)
}

func TestEnsureProviderFailure(t *testing.T) {
	ctx := testcontext.New(t)
	service, provider, _ := newHarness(t)

	_, err := service.Ensure(ctx, "farm-a", "S2A_UNKNOWN", []string{"B04"})
	require.Error(t, err)

	_, found, err := service.Lookup(ctx, "S2A_UNKNOWN")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 1, provider.Downloads())
}

func TestCopyFailureLeavesEntryValid(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)
	provider := testprovider.New()
	bad := testblobs.New(log, teststore.New())
	service := scenecache.NewService(log, kvtest.New(), bad, provider)
	addScene(provider, "S2A_TILE_5")

	_, err := service.Ensure(ctx, "farm-a", "S2A_TILE_5", []string{"B04"})
	require.NoError(t, err)

	// a transient copy error is not corruption
	bad.SetCopyError(storage.Error.New("connection reset"))
	_, err = service.Ensure(ctx, "farm-b", "S2A_TILE_5", []string{"B04"})
	require.Error(t, err)
	require.Equal(t, 1, provider.Downloads())

	entry, found, err := service.Lookup(ctx, "S2A_TILE_5")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, entry.Valid)

	// the next attempt succeeds without another download
	bad.SetCopyError(nil)
	_, err = service.Ensure(ctx, "farm-b", "S2A_TILE_5", []string{"B04"})
	require.NoError(t, err)
	require.Equal(t, 1, provider.Downloads())
}

func TestInvalidateForcesRedownload(t *testing.T) {
	ctx := testcontext.New(t)
	service, provider, _ := newHarness(t)
	addScene(provider, "S2A_TILE_4")

	_, err := service.Ensure(ctx, "farm-a", "S2A_TILE_4", []string{"B04"})
	require.NoError(t, err)
	require.NoError(t, service.Invalidate(ctx, "S2A_TILE_4"))

	entry, found, err := service.Lookup(ctx, "S2A_TILE_4")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, entry.Valid)

	_, err = service.Ensure(ctx, "farm-b", "S2A_TILE_4", []string{"B04"})
	require.NoError(t, err)
	require.Equal(t, 2, provider.Downloads())

	entry, _, err = service.Lookup(ctx, "S2A_TILE_4")
	require.NoError(t, err)
	require.True(t, entry.Valid)
}
