// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package scenes defines satellite scene metadata and the upstream catalog
// provider interface.
package scenes

import (
	"context"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/zeebo/errs"
)

// ErrUpstream is returned for transient provider failures; callers may retry.
var ErrUpstream = errs.Class("upstream unavailable")

// ErrNoScenes is returned when a search matches nothing.
var ErrNoScenes = errs.Class("no scenes found")

// Metadata describes one satellite acquisition in the provider catalog.
type Metadata struct {
	ID          string
	SensingDate time.Time
	CloudCover  float64
	Footprint   orb.Geometry
}

// SearchRequest selects scenes intersecting a bounding box within a date
// range, under a cloud-cover ceiling.
type SearchRequest struct {
	BBox         orb.Bound
	From         time.Time
	To           time.Time
	CloudCeiling float64
	Limit        int
}

// Provider is the upstream satellite catalog. It is treated as unreliable
// and rate limited; implementations retry transient failures internally.
type Provider interface {
	// Search returns scenes matching the request.
	Search(ctx context.Context, req SearchRequest) ([]Metadata, error)
	// DownloadBand returns the raw raster bytes of one spectral band.
	DownloadBand(ctx context.Context, sceneID, band string) ([]byte, error)
}

// SelectBest picks the preferred scene out of search results: lowest cloud
// cover first, most recent sensing date as the tie breaker.
func SelectBest(results []Metadata) (Metadata, bool) {
	if len(results) == 0 {
		return Metadata{}, false
	}
	sorted := append([]Metadata{}, results...)
	sort.SliceStable(sorted, func(i, k int) bool {
		if sorted[i].CloudCover != sorted[k].CloudCover {
			return sorted[i].CloudCover < sorted[k].CloudCover
		}
		return sorted[i].SensingDate.After(sorted[k].SensingDate)
	})
	return sorted[0], true
}
