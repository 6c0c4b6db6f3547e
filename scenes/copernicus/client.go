// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package copernicus implements the scene provider on the Copernicus Data
// Space STAC catalog.
package copernicus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paulmach/orb/geojson"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cropsight/cropsight/scenes"
)

var (
	// Error is the default copernicus errs class.
	Error = errs.Class("copernicus")

	mon = monkit.Package()
)

// Config contains configurable values for the Copernicus client.
type Config struct {
	BaseURL        string        `help:"catalog base url" default:"https://dataspace.copernicus.eu/api/v1/catalog"`
	Token          string        `help:"bearer token for catalog requests" default:""`
	Collection     string        `help:"catalog collection to search" default:"sentinel-s2-l2a-cogs"`
	RequestTimeout time.Duration `help:"timeout for a single catalog request" default:"2m"`
	MaxRetryTime   time.Duration `help:"give up retrying a request after this long" default:"5m"`
}

// Client talks to the Copernicus STAC catalog.
type Client struct {
	log    *zap.Logger
	config Config
	http   *http.Client
}

// NewClient creates a catalog client.
func NewClient(log *zap.Logger, config Config) *Client {
	return &Client{
		log:    log,
		config: config,
		http:   &http.Client{Timeout: config.RequestTimeout},
	}
}

type stacSearch struct {
	Collections []string       `json:"collections"`
	BBox        [4]float64     `json:"bbox"`
	Datetime    string         `json:"datetime"`
	Limit       int            `json:"limit"`
	Query       map[string]any `json:"query,omitempty"`
}

type stacFeatureCollection struct {
	Features []stacFeature `json:"features"`
}

type stacFeature struct {
	ID         string                     `json:"id"`
	Geometry   *geojson.Geometry          `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
	Assets     map[string]stacAsset       `json:"assets"`
}

type stacAsset struct {
	Href string `json:"href"`
}

// Search returns scenes matching the request.
func (client *Client) Search(ctx context.Context, req scenes.SearchRequest) (_ []scenes.Metadata, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	search := stacSearch{
		Collections: []string{client.config.Collection},
		BBox:        [4]float64{req.BBox.Min.X(), req.BBox.Min.Y(), req.BBox.Max.X(), req.BBox.Max.Y()},
		Datetime:    req.From.UTC().Format(time.RFC3339) + "/" + req.To.UTC().Format(time.RFC3339),
		Limit:       limit,
		Query: map[string]any{
			"eo:cloud_cover": map[string]any{"lt": req.CloudCeiling},
		},
	}

	body, err := json.Marshal(search)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var collection stacFeatureCollection
	err = client.retried(ctx, func() error {
		return client.postJSON(ctx, client.config.BaseURL+"/search", body, &collection)
	})
	if err != nil {
		return nil, scenes.ErrUpstream.Wrap(err)
	}

	results := make([]scenes.Metadata, 0, len(collection.Features))
	for _, feature := range collection.Features {
		meta := scenes.Metadata{ID: feature.ID}
		if feature.Geometry != nil {
			meta.Footprint = feature.Geometry.Geometry()
		}
		if raw, ok := feature.Properties["datetime"]; ok {
			var stamp time.Time
			if err := json.Unmarshal(raw, &stamp); err == nil {
				meta.SensingDate = stamp
			}
		}
		if raw, ok := feature.Properties["eo:cloud_cover"]; ok {
			_ = json.Unmarshal(raw, &meta.CloudCover)
		}
		results = append(results, meta)
	}

	client.log.Debug("catalog search",
		zap.Int("results", len(results)),
		zap.Time("from", req.From),
		zap.Time("to", req.To))

	return results, nil
}

// DownloadBand returns the raw raster bytes of one spectral band.
func (client *Client) DownloadBand(ctx context.Context, sceneID, band string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	// asset lookup first, then the actual payload
	var feature stacFeature
	err = client.retried(ctx, func() error {
		url := fmt.Sprintf("%s/collections/%s/items/%s",
			client.config.BaseURL, client.config.Collection, sceneID)
		return client.getJSON(ctx, url, &feature)
	})
	if err != nil {
		return nil, scenes.ErrUpstream.Wrap(err)
	}

	asset, ok := feature.Assets[band]
	if !ok {
		return nil, Error.New("band %q not present in scene %q", band, sceneID)
	}

	var data []byte
	err = client.retried(ctx, func() error {
		data, err = client.getBytes(ctx, asset.Href)
		return err
	})
	if err != nil {
		return nil, scenes.ErrUpstream.Wrap(err)
	}
	return data, nil
}

// retried runs fn with exponential backoff until it succeeds, the context is
// done, or the retry budget is exhausted.
func (client *Client) retried(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = client.config.MaxRetryTime
	return backoff.Retry(fn, backoff.WithContext(policy, ctx))
}

func (client *Client) postJSON(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(Error.Wrap(err))
	}
	req.Header.Set("Content-Type", "application/json")
	client.authorize(req)
	return client.do(req, out)
}

func (client *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(Error.Wrap(err))
	}
	client.authorize(req)
	return client.do(req, out)
}

func (client *Client) getBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(Error.Wrap(err))
	}
	client.authorize(req)

	resp, err := client.http.Do(req)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	return data, Error.Wrap(err)
}

func (client *Client) do(req *http.Request, out any) error {
	resp, err := client.http.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return Error.Wrap(json.NewDecoder(resp.Body).Decode(out))
}

func (client *Client) authorize(req *http.Request) {
	if client.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+client.config.Token)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// client errors won't heal on retry
		return backoff.Permanent(Error.New("unexpected status %s", resp.Status))
	default:
		return Error.New("unexpected status %s", resp.Status)
	}
}
