// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cropsight/cropsight/geo"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/scenes"
)

// DownloadResult is the outcome of a download job.
type DownloadResult struct {
	SceneID     string    `json:"scene_id"`
	SensingDate time.Time `json:"sensing_date"`
	CloudCover  float64   `json:"cloud_cover"`
	Bands       []string  `json:"bands"`
	Bucket      string    `json:"bucket"`
}

// DownloadExecutor searches the upstream catalog for the best scene over
// an area of interest and makes its bands available in the tenant bucket
// through the shared scene cache.
type DownloadExecutor struct {
	pipeline *Pipeline
}

// Execute implements jobs.Executor.
func (executor *DownloadExecutor) Execute(ctx context.Context, job jobs.Job, progress func(float64, string)) (_ json.RawMessage, err error) {
	defer mon.Task()(&ctx)(&err)
	pipeline := executor.pipeline

	var params jobs.DownloadParams
	if err := json.Unmarshal(job.Params, &params); err != nil {
		return nil, Error.New("malformed download params: %v", err)
	}

	geometry, err := geo.ParsePolygon(params.Geometry)
	if err != nil {
		return nil, err
	}

	progress(10, "searching catalog")
	results, err := pipeline.provider.Search(ctx, scenes.SearchRequest{
		BBox:         geo.Bound(geometry),
		From:         params.From,
		To:           params.To,
		CloudCeiling: params.CloudCeiling,
	})
	if err != nil {
		return nil, err
	}
	best, ok := scenes.SelectBest(results)
	if !ok {
		return nil, scenes.ErrNoScenes.New("no scene matches the request")
	}

	if cancelled, err := pipeline.jobs.Cancelled(ctx, job.TenantID, job.ID); err == nil && cancelled {
		return nil, Error.New("cancelled")
	}

	bands := params.Bands
	if len(bands) == 0 {
		bands = defaultBands
	}

	progress(40, "fetching scene "+best.ID)
	refs, err := pipeline.cache.Ensure(ctx, job.TenantID, best.ID, bands)
	if err != nil {
		return nil, err
	}
	progress(90, "finalizing")

	var bucket string
	for _, ref := range refs {
		bucket = ref.Bucket
		break
	}

	return json.Marshal(DownloadResult{
		SceneID:     best.ID,
		SensingDate: best.SensingDate,
		CloudCover:  best.CloudCover,
		Bands:       bands,
		Bucket:      bucket,
	})
}
