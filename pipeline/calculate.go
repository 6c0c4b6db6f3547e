// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/cropsight/cropsight/index"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/storage"
)

// CalculateResult is the outcome of a calculate_index job.
type CalculateResult struct {
	SceneID    string           `json:"scene_id"`
	Index      string           `json:"index"`
	Statistics index.Statistics `json:"statistics"`
	RasterPath string           `json:"raster_path"`
}

// CalculateExecutor computes a vegetation index over a cached scene,
// stores the derived raster in the tenant bucket and reports zonal
// statistics. Stale tiles of the scene are dropped so the next tile read
// renders from the fresh raster.
type CalculateExecutor struct {
	pipeline *Pipeline
}

// Execute implements jobs.Executor.
func (executor *CalculateExecutor) Execute(ctx context.Context, job jobs.Job, progress func(float64, string)) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)
	pipeline := executor.pipeline

	var params jobs.CalculateParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, Error.New("malformed calculate params: %v", err)
	}
	if params.SceneID == "" {
		return nil, Error.New("missing scene id")
	}
	indexName := strings.ToLower(params.Index)
	typ := index.Type(indexName)
	if !index.Valid(typ) {
		return nil, Error.New("unknown index %q", params.Index)
	}

	required, err := index.RequiredBands(typ)
	if err != nil {
		return nil, err
	}

	progress(10, "fetching scene "+params.SceneID)
	refs, err := pipeline.cache.Ensure(ctx, job.TenantID, params.SceneID, required)
	if err != nil {
		return nil, err
	}

	if cancelled, err := pipeline.jobs.Cancelled(ctx, job.TenantID, job.ID); err == nil && cancelled {
		return nil, Error.New("cancelled")
	}

	progress(40, "decoding bands")
	bands := make(map[string]*index.Raster, len(refs))
	for band, ref := range refs {
		data, err := pipeline.blobs.Get(ctx, ref)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		raster, err := index.DecodeRaster(data)
		if err != nil {
			return nil, Error.New("band %s does not decode: %v", band, err)
		}
		bands[band] = raster
	}

	progress(60, "computing "+indexName)
	raster, err := index.Compute(typ, bands)
	if err != nil {
		return nil, err
	}
	stats := index.Stats(raster)

	blobPath := DerivedPath(params.SceneID, indexName)
	ref := storage.BlobRef{Bucket: storage.TenantBucket(job.TenantID), Path: blobPath}
	if err := pipeline.blobs.Put(ctx, ref, raster.Encode()); err != nil {
		return nil, Error.Wrap(err)
	}

	progress(90, "dropping stale tiles")
	if _, err := pipeline.tiles.InvalidateScene(ctx, params.SceneID); err != nil {
		pipeline.log.Warn("failed to invalidate tiles",
			zap.String("scene", params.SceneID), zap.Error(err))
	}

	return json.Marshal(CalculateResult{
		SceneID:    params.SceneID,
		Index:      indexName,
		Statistics: stats,
		RasterPath: blobPath,
	})
}
