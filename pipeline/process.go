// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/cropsight/cropsight/index"
	"github.com/cropsight/cropsight/jobs"
)

// ProcessResult is the outcome of a process job.
type ProcessResult struct {
	SceneID string   `json:"scene_id"`
	Bands   []string `json:"bands"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
}

// ProcessExecutor verifies that a scene's bands are present in the tenant
// bucket, decode cleanly and agree on dimensions. It runs between
// download and calculation to surface corrupt uploads early.
type ProcessExecutor struct {
	pipeline *Pipeline
}

// Execute implements jobs.Executor.
func (executor *ProcessExecutor) Execute(ctx context.Context, job jobs.Job, progress func(float64, string)) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)
	pipeline := executor.pipeline

	var params jobs.ProcessParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, Error.New("malformed process params: %v", err)
	}
	if params.SceneID == "" {
		return nil, Error.New("missing scene id")
	}

	progress(10, "fetching scene "+params.SceneID)
	refs, err := pipeline.cache.Ensure(ctx, job.TenantID, params.SceneID, defaultBands)
	if err != nil {
		return nil, err
	}

	result := ProcessResult{SceneID: params.SceneID}
	done := 0
	for band, ref := range refs {
		data, err := pipeline.blobs.Get(ctx, ref)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		raster, err := index.DecodeRaster(data)
		if err != nil {
			return nil, Error.New("band %s does not decode: %v", band, err)
		}
		if result.Width == 0 {
			result.Width, result.Height = raster.Width, raster.Height
		} else if raster.Width != result.Width || raster.Height != result.Height {
			return nil, Error.New("band %s is %dx%d, expected %dx%d",
				band, raster.Width, raster.Height, result.Width, result.Height)
		}
		result.Bands = append(result.Bands, band)

		done++
		progress(10+float64(done)*80/float64(len(refs)), "validated band "+band)
	}
	sort.Strings(result.Bands)

	return json.Marshal(result)
}
