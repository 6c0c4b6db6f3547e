// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package pipeline_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/index"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/pipeline"
	kvtest "github.com/cropsight/cropsight/private/kvstore/teststore"
	"github.com/cropsight/cropsight/scenecache"
	"github.com/cropsight/cropsight/scenes"
	"github.com/cropsight/cropsight/scenes/testprovider"
	"github.com/cropsight/cropsight/storage"
	"github.com/cropsight/cropsight/storage/teststore"
	"github.com/cropsight/cropsight/tilecache"
)

type harness struct {
	jobs     *jobs.Service
	pipeline *pipeline.Pipeline
	provider *testprovider.Provider
	blobs    *teststore.Blobs
	tiles    *tilecache.Cache
}

func newHarness(t *testing.T) *harness {
	log := zaptest.NewLogger(t)
	kv := kvtest.New()
	blobs := teststore.New()
	provider := testprovider.New()
	jobService := jobs.NewService(log, kv)
	cache := scenecache.NewService(log, kv, blobs, provider)
	tiles := tilecache.New(log, kv, tilecache.Config{TTL: 24 * time.Hour})
	return &harness{
		jobs:     jobService,
		pipeline: pipeline.New(log, jobService, cache, provider, blobs, tiles),
		provider: provider,
		blobs:    blobs,
		tiles:    tiles,
	}
}

// band builds a 2x2 raster payload with the given values, row major.
func band(values ...float64) []byte {
	raster := index.NewRaster(2, 2)
	for i, value := range values {
		raster.Set(i%2, i/2, value)
	}
	return raster.Encode()
}

func (h *harness) addScene(sceneID string, cloud float64, sensed time.Time) {
	h.provider.AddScene(scenes.Metadata{
		ID:          sceneID,
		SensingDate: sensed,
		CloudCover:  cloud,
		Footprint:   orb.Bound{Min: orb.Point{5, 50}, Max: orb.Point{6, 51}},
	}, map[string][]byte{
		"B02": band(0.1, 0.1, 0.1, 0.1),
		"B03": band(0.2, 0.2, 0.2, 0.2),
		"B04": band(0.2, 0.4, 0.2, 0.4),
		"B08": band(0.6, 0.4, 0.6, 0.4),
		"B8A": band(0.5, 0.5, 0.5, 0.5),
	})
}

func (h *harness) run(ctx *testcontext.Context, t *testing.T, category accounting.Category, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	job, err := h.jobs.Create(ctx, "farm-a", category, raw)
	require.NoError(t, err)
	job, err = h.jobs.Start(ctx, "farm-a", job.ID)
	require.NoError(t, err)

	var executor jobs.Executor
	switch category {
	case accounting.CategoryDownload:
		executor = h.pipeline.Download()
	case accounting.CategoryProcess:
		executor = h.pipeline.Process()
	case accounting.CategoryCalculate:
		executor = h.pipeline.Calculate()
	}
	return executor.Execute(ctx, job, func(float64, string) {})
}

var testGeometry = json.RawMessage(`{"type":"Polygon","coordinates":[[[5.2,50.2],[5.4,50.2],[5.4,50.4],[5.2,50.4],[5.2,50.2]]]}`)

func TestDownloadPicksBestScene(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)
	h.addScene("S2A_CLOUDY", 60, time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC))
	h.addScene("S2A_CLEAR", 5, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	raw, err := h.run(ctx, t, accounting.CategoryDownload, jobs.DownloadParams{
		Geometry:     testGeometry,
		From:         time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:           time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		CloudCeiling: 80,
		Bands:        []string{"B04", "B08"},
	})
	require.NoError(t, err)

	var result pipeline.DownloadResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "S2A_CLEAR", result.SceneID)
	require.Equal(t, storage.TenantBucket("farm-a"), result.Bucket)

	exists, err := h.blobs.Exists(ctx, storage.BlobRef{
		Bucket: result.Bucket,
		Path:   "scenes/S2A_CLEAR/B04.jp2",
	})
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDownloadRejectsBadGeometry(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)

	_, err := h.run(ctx, t, accounting.CategoryDownload, jobs.DownloadParams{
		Geometry: json.RawMessage(`{"type":"Point","coordinates":[5,50]}`),
	})
	require.Error(t, err)
}

func TestDownloadNoMatchingScene(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)

	_, err := h.run(ctx, t, accounting.CategoryDownload, jobs.DownloadParams{
		Geometry: testGeometry,
		From:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	require.True(t, scenes.ErrNoScenes.Has(err))
}

func TestProcessValidatesBands(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)
	h.addScene("S2A_OK", 10, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	raw, err := h.run(ctx, t, accounting.CategoryProcess, jobs.ProcessParams{SceneID: "S2A_OK"})
	require.NoError(t, err)

	var result pipeline.ProcessResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, []string{"B02", "B03", "B04", "B08", "B8A"}, result.Bands)
	require.Equal(t, 2, result.Width)
	require.Equal(t, 2, result.Height)
}

func TestProcessRejectsCorruptBand(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)
	h.provider.AddScene(scenes.Metadata{ID: "S2A_BAD"}, map[string][]byte{
		"B02": band(0.1, 0.1, 0.1, 0.1),
		"B03": band(0.2, 0.2, 0.2, 0.2),
		"B04": []byte("not a raster"),
		"B08": band(0.6, 0.4, 0.6, 0.4),
		"B8A": band(0.5, 0.5, 0.5, 0.5),
	})

	_, err := h.run(ctx, t, accounting.CategoryProcess, jobs.ProcessParams{SceneID: "S2A_BAD"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "B04")
}

func TestCalculateComputesStatistics(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)
	h.addScene("S2A_OK", 10, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	// stale tiles from an earlier raster must disappear
	key := tilecache.TileKey{SceneID: "S2A_OK", Index: "ndvi", Zoom: 12, X: 1, Y: 1}
	require.NoError(t, h.tiles.Set(ctx, key, []byte("stale")))

	raw, err := h.run(ctx, t, accounting.CategoryCalculate, jobs.CalculateParams{
		SceneID: "S2A_OK",
		Index:   "ndvi",
	})
	require.NoError(t, err)

	var result pipeline.CalculateResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Equal(t, "ndvi", result.Index)
	require.EqualValues(t, 4, result.Statistics.PixelCount)
	// ndvi of (nir 0.6, red 0.2) is 0.5 and of (nir 0.4, red 0.4) is 0
	require.InDelta(t, 0.25, result.Statistics.Mean, 1e-9)
	require.InDelta(t, 0.5, result.Statistics.Max, 1e-9)
	require.InDelta(t, 0, result.Statistics.Min, 1e-9)

	data, err := h.blobs.Get(ctx, storage.BlobRef{
		Bucket: storage.TenantBucket("farm-a"),
		Path:   result.RasterPath,
	})
	require.NoError(t, err)
	raster, err := index.DecodeRaster(data)
	require.NoError(t, err)
	require.InDelta(t, 0.5, raster.At(0, 0), 1e-6)

	_, ok, err := h.tiles.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCalculateUnknownIndex(t *testing.T) {
	ctx := testcontext.New(t)
	h := newHarness(t)

	_, err := h.run(ctx, t, accounting.CategoryCalculate, jobs.CalculateParams{
		SceneID: "S2A_OK",
		Index:   "madeup",
	})
	require.Error(t, err)
}
