// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/geo"
	"github.com/cropsight/cropsight/index"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/pipeline"
	"github.com/cropsight/cropsight/storage"
	"github.com/cropsight/cropsight/tilecache"
	"github.com/cropsight/cropsight/tiles"
)

// TenantHeader identifies the calling tenant.
const TenantHeader = "X-Tenant-ID"

type createJobRequest struct {
	Type   accounting.Category `json:"type"`
	Params json.RawMessage     `json:"params"`
}

type usageResponse struct {
	Usage  accounting.MonthlyUsage `json:"usage"`
	Limits accounting.Limits       `json:"limits"`
}

func (server *Server) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		server.jsonError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
		return "", false
	}
	return tenantID, true
}

func (server *Server) createJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := server.tenant(w, r)
	if !ok {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.jsonError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !req.Type.Valid() {
		server.jsonError(w, http.StatusBadRequest, "unknown job type")
		return
	}

	hectares, err := server.requestedHectares(req)
	if err != nil {
		server.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := server.validator.Admit(ctx, tenantID, req.Type, hectares); err != nil {
		var denial *accounting.Denial
		if errors.As(err, &denial) {
			server.jsonStatus(w, http.StatusTooManyRequests, map[string]any{
				"error":  "quota exceeded",
				"denial": denial,
			})
			return
		}
		server.log.Error("admission failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "admission failed")
		return
	}

	job, err := server.jobs.Create(ctx, tenantID, req.Type, req.Params)
	if err != nil {
		server.log.Error("job creation failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "job creation failed")
		return
	}

	if err := server.usage.RecordAdmission(ctx, tenantID, req.Type, hectares); err != nil {
		server.log.Warn("failed to record admission",
			zap.String("tenant", tenantID), zap.Error(err))
	}

	server.jsonStatus(w, http.StatusAccepted, job)
}

// requestedHectares validates the job's geometry and measures its area.
// Download jobs require a geometry; calculate jobs may carry one for
// zonal statistics; process jobs never do.
func (server *Server) requestedHectares(req createJobRequest) (float64, error) {
	var params struct {
		Geometry json.RawMessage `json:"geometry"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return 0, Error.New("malformed params")
		}
	}

	if len(params.Geometry) == 0 {
		if req.Type == accounting.CategoryDownload {
			return 0, Error.New("download jobs require a geometry")
		}
		return 0, nil
	}

	geometry, err := geo.ParsePolygon(params.Geometry)
	if err != nil {
		return 0, err
	}
	return geo.AreaHectares(geometry)
}

func (server *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := server.tenant(w, r)
	if !ok {
		return
	}

	list, err := server.jobs.List(ctx, tenantID)
	if err != nil {
		server.log.Error("job listing failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "job listing failed")
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	server.jsonStatus(w, http.StatusOK, list)
}

func (server *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := server.tenant(w, r)
	if !ok {
		return
	}
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		server.jsonError(w, http.StatusBadRequest, "malformed job id")
		return
	}

	job, err := server.jobs.Get(ctx, tenantID, id)
	if err != nil {
		if jobs.ErrNotFound.Has(err) {
			server.jsonError(w, http.StatusNotFound, "job not found")
			return
		}
		server.log.Error("job lookup failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	server.jsonStatus(w, http.StatusOK, job)
}

func (server *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := server.tenant(w, r)
	if !ok {
		return
	}
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		server.jsonError(w, http.StatusBadRequest, "malformed job id")
		return
	}

	switch err := server.jobs.Cancel(ctx, tenantID, id); {
	case err == nil:
	case jobs.ErrNotFound.Has(err):
		server.jsonError(w, http.StatusNotFound, "job not found")
		return
	case jobs.ErrInvalidTransition.Has(err):
		server.jsonError(w, http.StatusConflict, "job already finished")
		return
	default:
		server.log.Error("job cancel failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "job cancel failed")
		return
	}

	job, err := server.jobs.Get(ctx, tenantID, id)
	if err != nil {
		server.jsonError(w, http.StatusInternalServerError, "job lookup failed")
		return
	}
	server.jsonStatus(w, http.StatusOK, job)
}

func (server *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := server.tenant(w, r)
	if !ok {
		return
	}

	usage, err := server.usage.CurrentMonth(ctx, tenantID)
	if err != nil {
		server.log.Error("usage lookup failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "usage lookup failed")
		return
	}
	server.jsonStatus(w, http.StatusOK, usageResponse{
		Usage:  usage,
		Limits: server.plans.Get(ctx, tenantID),
	})
}

func (server *Server) getTile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, ok := server.tenant(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	indexName := strings.ToLower(vars["index"])
	if !index.Valid(index.Type(indexName)) {
		server.jsonError(w, http.StatusBadRequest, "unknown index")
		return
	}
	zoom, errZ := strconv.Atoi(vars["z"])
	x, errX := strconv.Atoi(vars["x"])
	y, errY := strconv.Atoi(vars["y"])
	if errZ != nil || errX != nil || errY != nil {
		server.jsonError(w, http.StatusBadRequest, "malformed tile coordinates")
		return
	}

	key := tilecache.TileKey{
		SceneID: vars["scene"],
		Index:   indexName,
		Zoom:    zoom,
		X:       x,
		Y:       y,
	}

	ref := storage.BlobRef{
		Bucket: storage.TenantBucket(tenantID),
		Path:   pipeline.DerivedPath(key.SceneID, key.Index),
	}

	// The tile cache is shared between tenants. A cache hit is only served
	// to a tenant that holds a computed raster for the scene.
	if tile, ok, err := server.tiles.Get(ctx, key); err == nil && ok {
		switch exists, err := server.blobs.Exists(ctx, ref); {
		case err != nil:
			server.log.Warn("raster lookup failed", zap.Error(err))
		case exists:
			server.writeTile(w, tile)
			return
		default:
			server.jsonError(w, http.StatusNotFound, "no computed raster for scene")
			return
		}
	} else if err != nil {
		server.log.Warn("tile cache read failed", zap.Error(err))
	}

	data, err := server.blobs.Get(ctx, ref)
	if err != nil {
		if storage.ErrNotExist.Has(err) {
			server.jsonError(w, http.StatusNotFound, "no computed raster for scene")
			return
		}
		server.log.Error("raster read failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "raster read failed")
		return
	}
	raster, err := index.DecodeRaster(data)
	if err != nil {
		server.log.Error("stored raster does not decode", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "raster decode failed")
		return
	}

	tile, err := tiles.Render(raster)
	if err != nil {
		server.log.Error("tile render failed", zap.Error(err))
		server.jsonError(w, http.StatusInternalServerError, "tile render failed")
		return
	}
	if err := server.tiles.Set(ctx, key, tile); err != nil {
		server.log.Warn("tile cache write failed", zap.Error(err))
	}
	server.writeTile(w, tile)
}

func (server *Server) writeTile(w http.ResponseWriter, tile []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile)
}

func (server *Server) jsonStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		server.log.Error("failed to write response", zap.Error(err))
	}
}

func (server *Server) jsonError(w http.ResponseWriter, status int, message string) {
	server.jsonStatus(w, status, map[string]string{"error": message})
}
