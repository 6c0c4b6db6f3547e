// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package api exposes the tenant-facing HTTP surface: job submission and
// polling, usage snapshots and map tiles.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/storage"
	"github.com/cropsight/cropsight/tilecache"
)

var (
	// Error is an error class for the api server.
	Error = errs.Class("api")

	mon = monkit.Package()
)

// Config contains configuration for the http api server.
type Config struct {
	Address string `help:"server address of the http api" default:"127.0.0.1:8080"`
}

// Server is the tenant-facing http server.
type Server struct {
	log *zap.Logger

	config    Config
	jobs      *jobs.Service
	validator *accounting.Validator
	usage     *accounting.UsageTracker
	plans     *accounting.Plans
	blobs     storage.Blobs
	tiles     *tilecache.Cache

	listener net.Listener
	http     http.Server
}

// NewServer returns a new instance of the http api server.
func NewServer(log *zap.Logger, config Config, jobService *jobs.Service, validator *accounting.Validator, usage *accounting.UsageTracker, plans *accounting.Plans, blobs storage.Blobs, tiles *tilecache.Cache, listener net.Listener) *Server {
	server := &Server{
		log:       log,
		config:    config,
		jobs:      jobService,
		validator: validator,
		usage:     usage,
		plans:     plans,
		blobs:     blobs,
		tiles:     tiles,
		listener:  listener,
	}

	router := mux.NewRouter()
	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	jobsRouter := apiRouter.PathPrefix("/jobs").Subrouter()
	jobsRouter.HandleFunc("", server.createJob).Methods(http.MethodPost)
	jobsRouter.HandleFunc("", server.listJobs).Methods(http.MethodGet)
	jobsRouter.HandleFunc("/{id}", server.getJob).Methods(http.MethodGet)
	jobsRouter.HandleFunc("/{id}/cancel", server.cancelJob).Methods(http.MethodPost)

	apiRouter.HandleFunc("/usage", server.getUsage).Methods(http.MethodGet)
	apiRouter.HandleFunc("/tiles/{scene}/{index}/{z}/{x}/{y}.png", server.getTile).Methods(http.MethodGet)

	server.http = http.Server{
		Handler: router,
	}

	return server
}

// Run starts the api server until the context is cancelled.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group

	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.http.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.http.Serve(server.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})

	return group.Wait()
}

// Close closes the server and underlying listener.
func (server *Server) Close() error {
	return Error.Wrap(server.http.Close())
}
