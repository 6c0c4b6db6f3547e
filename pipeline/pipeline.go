// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package pipeline wires the job executors: scene download, scene
// preprocessing and vegetation index calculation.
package pipeline

import (
	"strings"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/scenecache"
	"github.com/cropsight/cropsight/scenes"
	"github.com/cropsight/cropsight/storage"
	"github.com/cropsight/cropsight/tilecache"
)

var (
	// Error is the default error class for the pipeline package.
	Error = errs.Class("pipeline")

	mon = monkit.Package()
)

// defaultBands is downloaded when a request does not name bands. It covers
// every supported vegetation index.
var defaultBands = []string{"B02", "B03", "B04", "B08", "B8A"}

// Pipeline holds the shared collaborators of all executors.
type Pipeline struct {
	log      *zap.Logger
	jobs     *jobs.Service
	cache    *scenecache.Service
	provider scenes.Provider
	blobs    storage.Blobs
	tiles    *tilecache.Cache
}

// New creates the executor pipeline.
func New(log *zap.Logger, jobService *jobs.Service, cache *scenecache.Service, provider scenes.Provider, blobs storage.Blobs, tiles *tilecache.Cache) *Pipeline {
	return &Pipeline{
		log:      log,
		jobs:     jobService,
		cache:    cache,
		provider: provider,
		blobs:    blobs,
		tiles:    tiles,
	}
}

// Download returns the executor for download jobs.
func (pipeline *Pipeline) Download() jobs.Executor { return &DownloadExecutor{pipeline} }

// Process returns the executor for process jobs.
func (pipeline *Pipeline) Process() jobs.Executor { return &ProcessExecutor{pipeline} }

// Calculate returns the executor for calculate_index jobs.
func (pipeline *Pipeline) Calculate() jobs.Executor { return &CalculateExecutor{pipeline} }

// RegisterAll installs every executor on the worker.
func (pipeline *Pipeline) RegisterAll(worker *jobs.Worker) {
	worker.Register(accounting.CategoryDownload, pipeline.Download())
	worker.Register(accounting.CategoryProcess, pipeline.Process())
	worker.Register(accounting.CategoryCalculate, pipeline.Calculate())
}

// DerivedPath is where a computed index raster lives in the tenant bucket.
// Index names are lowercased so the path is stable across client spellings.
func DerivedPath(sceneID, indexName string) string {
	return "derived/" + sceneID + "/" + strings.ToLower(indexName) + ".csr"
}
