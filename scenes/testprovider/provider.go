// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package testprovider implements an in-memory scene provider for tests.
package testprovider

import (
	"context"
	"sync"

	"github.com/cropsight/cropsight/scenes"
)

// Provider is a fake scene catalog with canned scenes and band payloads.
type Provider struct {
	mu     sync.Mutex
	scenes []scenes.Metadata
	bands  map[string]map[string][]byte // scene id -> band -> payload
	err    error

	// DownloadCount records DownloadBand invocations per scene/band key.
	DownloadCount map[string]int
	SearchCount   int
}

// New creates an empty fake provider.
func New() *Provider {
	return &Provider{
		bands:         map[string]map[string][]byte{},
		DownloadCount: map[string]int{},
	}
}

// AddScene registers scene metadata and its band payloads.
func (provider *Provider) AddScene(meta scenes.Metadata, bands map[string][]byte) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	provider.scenes = append(provider.scenes, meta)
	copied := map[string][]byte{}
	for band, data := range bands {
		copied[band] = append([]byte{}, data...)
	}
	provider.bands[meta.ID] = copied
}

// SetError makes all provider calls fail until reset with nil.
func (provider *Provider) SetError(err error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.err = err
}

// Search returns all registered scenes under the cloud ceiling.
func (provider *Provider) Search(ctx context.Context, req scenes.SearchRequest) ([]scenes.Metadata, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.SearchCount++

	if provider.err != nil {
		return nil, provider.err
	}

	var results []scenes.Metadata
	for _, meta := range provider.scenes {
		if req.CloudCeiling > 0 && meta.CloudCover >= req.CloudCeiling {
			continue
		}
		results = append(results, meta)
	}
	return results, nil
}

// DownloadBand returns the canned band payload.
func (provider *Provider) DownloadBand(ctx context.Context, sceneID, band string) ([]byte, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.DownloadCount[sceneID+"/"+band]++

	if provider.err != nil {
		return nil, provider.err
	}

	data, ok := provider.bands[sceneID][band]
	if !ok {
		return nil, scenes.ErrUpstream.New("scene %q band %q not in catalog", sceneID, band)
	}
	return append([]byte{}, data...), nil
}

// Downloads returns the total number of band downloads across all scenes.
func (provider *Provider) Downloads() int {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	total := 0
	for _, n := range provider.DownloadCount {
		total += n
	}
	return total
}
