// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package cropsight assembles the imagery ingestion service: the job
// pipeline, the shared scene cache, quota accounting and the http api.
package cropsight

import (
	"context"
	"errors"
	"net"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/api"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/pipeline"
	"github.com/cropsight/cropsight/private/kvstore"
	"github.com/cropsight/cropsight/private/kvstore/redis"
	"github.com/cropsight/cropsight/scenecache"
	"github.com/cropsight/cropsight/scenes"
	"github.com/cropsight/cropsight/scenes/copernicus"
	"github.com/cropsight/cropsight/storage"
	"github.com/cropsight/cropsight/storage/minio"
	"github.com/cropsight/cropsight/tilecache"
)

var (
	// Error is the default error class for peer setup.
	Error = errs.Class("cropsight")

	mon = monkit.Package()
)

// Config is the complete configuration of a cropsight peer.
type Config struct {
	RedisAddress string `help:"redis url for metadata, counters and caches" default:"redis://127.0.0.1:6379?db=0"`

	Storage  minio.Config
	Provider copernicus.Config

	Limits    accounting.Limits
	Worker    jobs.WorkerConfig
	TileCache tilecache.Config
	API       api.Config
}

// Peer is the assembled cropsight process.
//
// architecture: Peer
type Peer struct {
	Log    *zap.Logger
	Config Config

	Store    *redis.Client
	Blobs    storage.Blobs
	Provider scenes.Provider

	Accounting struct {
		Plans     *accounting.Plans
		Usage     *accounting.UsageTracker
		Validator *accounting.Validator
	}

	SceneCache *scenecache.Service
	TileCache  *tilecache.Cache

	Jobs struct {
		Service  *jobs.Service
		Worker   *jobs.Worker
		Pipeline *pipeline.Pipeline
	}

	API struct {
		Listener net.Listener
		Server   *api.Server
	}
}

// New assembles a peer from configuration.
func New(ctx context.Context, log *zap.Logger, config Config) (_ *Peer, err error) {
	defer mon.Task()(&ctx)(&err)

	peer := &Peer{
		Log:    log,
		Config: config,
	}

	peer.Store, err = redis.OpenClientFrom(ctx, config.RedisAddress)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	peer.Blobs, err = minio.Open(ctx, config.Storage)
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), peer.Store.Close())
	}

	peer.Provider = copernicus.NewClient(log.Named("copernicus"), config.Provider)

	{ // accounting
		peer.Accounting.Plans = accounting.NewPlans(log.Named("plans"), peer.Store, config.Limits)
		peer.Accounting.Usage = accounting.NewUsageTracker(log.Named("usage"), peer.Store)
		peer.Accounting.Validator = accounting.NewValidator(log.Named("quota"), peer.Accounting.Plans, peer.Accounting.Usage, peer.Store)
	}

	{ // caches
		peer.SceneCache = scenecache.NewService(log.Named("scenecache"), peer.Store, peer.Blobs, peer.Provider)
		peer.TileCache = tilecache.New(log.Named("tilecache"), peer.Store, config.TileCache)
	}

	{ // jobs
		peer.Jobs.Service = jobs.NewService(log.Named("jobs"), peer.Store)
		peer.Jobs.Worker = jobs.NewWorker(log.Named("worker"), peer.Jobs.Service, peer.Accounting.Usage, config.Worker)
		peer.Jobs.Pipeline = pipeline.New(log.Named("pipeline"), peer.Jobs.Service, peer.SceneCache, peer.Provider, peer.Blobs, peer.TileCache)
		peer.Jobs.Pipeline.RegisterAll(peer.Jobs.Worker)
	}

	{ // api
		peer.API.Listener, err = net.Listen("tcp", config.API.Address)
		if err != nil {
			return nil, errs.Combine(Error.Wrap(err), peer.Store.Close())
		}
		peer.API.Server = api.NewServer(log.Named("api"), config.API,
			peer.Jobs.Service, peer.Accounting.Validator, peer.Accounting.Usage,
			peer.Accounting.Plans, peer.Blobs, peer.TileCache, peer.API.Listener)
	}

	return peer, nil
}

// Run starts all subsystems until the context is cancelled or one fails.
func (peer *Peer) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCancel(peer.Jobs.Worker.Run(ctx))
	})
	group.Go(func() error {
		return ignoreCancel(peer.API.Server.Run(ctx))
	})
	return group.Wait()
}

// Close shuts down all subsystems.
func (peer *Peer) Close() error {
	var group errs.Group
	if peer.API.Server != nil {
		group.Add(peer.API.Server.Close())
	}
	if peer.Jobs.Worker != nil {
		group.Add(peer.Jobs.Worker.Close())
	}
	if peer.Store != nil {
		group.Add(peer.Store.Close())
	}
	return group.Err()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var _ kvstore.Counters = (*redis.Client)(nil)
