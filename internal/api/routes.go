package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/internal/data/tdbstore"
	"github.com/mapsmooth/server/internal/jobstore"
	"github.com/mapsmooth/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.SmoothService
	CORSOrigins []string
	JobManager  *JobManager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/metadata", metadataHandler(cfg.Service))
		r.Get("/maps", mapsHandler(cfg.Service))
		// Map paths contain slashes, so a wildcard captures the whole path.
		r.Get("/maps/*", mapHandler(cfg.Service))
		r.Get("/tiledb/*", tiledbMapHandler(cfg.Service))
		r.Get("/consistency", consistencyHandler(cfg.Service))
		r.Post("/smooth", smoothHandler(cfg.Service))
		r.Get("/stats", statsHandler(cfg.Service))

		r.Route("/smooth/jobs", func(r chi.Router) {
			r.Post("/", jobSubmitHandler(cfg.JobManager))
			r.Get("/", jobListHandler(cfg.JobManager))
			r.Get("/{job_id}", jobStatusHandler(cfg.JobManager))
			r.Get("/{job_id}/results", jobResultsHandler(cfg.JobManager))
			r.Delete("/{job_id}", jobCancelHandler(cfg.JobManager))
		})
	})

	// Heatmap tiles
	r.Get("/tiles/*", tileHandler(cfg.Service))

	return r
}

// Empty cells are NaN; JSON has no NaN, so they go out as null.
func encodeCells(cells []float64) []*float64 {
	out := make([]*float64, len(cells))
	for i := range cells {
		if !math.IsNaN(cells[i]) {
			out[i] = &cells[i]
		}
	}
	return out
}

func decodeCells(enc []*float64) []float64 {
	out := make([]float64, len(enc))
	for i, v := range enc {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errStatus(err error) int {
	var mismatch *binning.BinningMismatchError
	var malformed *binning.MalformedAxisError
	var shape *binning.ShapeMismatchError
	switch {
	case errors.As(err, &mismatch), errors.As(err, &malformed), errors.As(err, &shape):
		return http.StatusBadRequest
	case strings.Contains(err.Error(), "not found"), strings.Contains(err.Error(), "no such"):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func metadataHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md := svc.Store().Metadata()
		target := svc.Store().TargetBinning()
		paths, err := svc.MapPaths()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"dataset_name":   md.DatasetName,
			"format_version": md.FormatVersion,
			"target": map[string]interface{}{
				"ebins":  target.Energy,
				"czbins": target.CosZen,
			},
			"n_maps": len(paths),
		})
	}
}

func mapsHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paths, err := svc.MapPaths()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"maps":  paths,
			"total": len(paths),
		})
	}
}

// mapHandler serves one stored map, on its native binning or smoothed onto
// the target binning when ?smoothed=true.
func mapHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mapPath := chi.URLParam(r, "*")
		if mapPath == "" {
			http.Error(w, "missing map path", http.StatusBadRequest)
			return
		}
		smoothed := r.URL.Query().Get("smoothed") == "true"

		var (
			g   binning.Grid
			b   binning.Binning
			err error
		)
		if smoothed {
			g, b, err = svc.SmoothedMap(mapPath)
		} else {
			g, b, err = svc.FineMap(mapPath)
		}
		if err != nil {
			http.Error(w, err.Error(), errStatus(err))
			return
		}

		empty := 0
		for _, isEmpty := range g.EmptyCells() {
			if isEmpty {
				empty++
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"map_path":    mapPath,
			"smoothed":    smoothed,
			"rows":        g.Rows,
			"cols":        g.Cols,
			"ebins":       b.Energy,
			"czbins":      b.CosZen,
			"cells":       encodeCells(g.Data),
			"empty_cells": empty,
		})
	}
}

// tiledbMapHandler serves a map from the optional TileDB backend.
func tiledbMapHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tdb := svc.TileDB()
		if tdb == nil {
			http.Error(w, "tiledb backend not configured", http.StatusNotFound)
			return
		}
		if !tdb.Supported() {
			http.Error(w, tdbstore.ErrUnsupported.Error(), http.StatusNotImplemented)
			return
		}

		name := chi.URLParam(r, "*")
		if name == "" {
			http.Error(w, "missing array name", http.StatusBadRequest)
			return
		}
		smoothed := r.URL.Query().Get("smoothed") == "true"

		g, b, err := svc.TileDBMap(name, smoothed)
		if err != nil {
			http.Error(w, err.Error(), errStatus(err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"array":    name,
			"smoothed": smoothed,
			"rows":     g.Rows,
			"cols":     g.Cols,
			"ebins":    b.Energy,
			"czbins":   b.CosZen,
			"cells":    encodeCells(g.Data),
		})
	}
}

// consistencyHandler verifies that every stored map shares one binning.
func consistencyHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := svc.CheckConsistency()
		if err != nil {
			var mismatch *binning.BinningMismatchError
			if errors.As(err, &mismatch) {
				writeJSON(w, http.StatusConflict, map[string]interface{}{
					"consistent": false,
					"axis":       mismatch.Kind,
					"error":      err.Error(),
				})
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"consistent": true,
			"ebins":      b.Energy,
			"czbins":     b.CosZen,
		})
	}
}

type smoothRequest struct {
	Rows         int        `json:"rows"`
	Cols         int        `json:"cols"`
	Cells        []*float64 `json:"cells"`
	FineEBins    []float64  `json:"fine_ebins"`
	FineCZBins   []float64  `json:"fine_czbins"`
	CoarseEBins  []float64  `json:"coarse_ebins"`
	CoarseCZBins []float64  `json:"coarse_czbins"`
}

// smoothHandler smooths a caller-supplied grid from a fine onto a coarse
// binning.
func smoothHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req smoothRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Rows <= 0 || req.Cols <= 0 {
			http.Error(w, "rows and cols must be positive", http.StatusBadRequest)
			return
		}
		if len(req.Cells) != req.Rows*req.Cols {
			http.Error(w, "cells length does not match rows*cols", http.StatusBadRequest)
			return
		}

		g := binning.Grid{Rows: req.Rows, Cols: req.Cols, Data: decodeCells(req.Cells)}
		fine := binning.Binning{
			Energy: binning.Axis(req.FineEBins),
			CosZen: binning.Axis(req.FineCZBins),
		}
		coarse := binning.Binning{
			Energy: binning.Axis(req.CoarseEBins),
			CosZen: binning.Axis(req.CoarseCZBins),
		}

		out, err := svc.Smooth(g, fine, coarse)
		if err != nil {
			http.Error(w, err.Error(), errStatus(err))
			return
		}

		method := "resample"
		if _, ok := svc.Plan(coarse, fine); ok {
			method = "rebin"
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"rows":   out.Rows,
			"cols":   out.Cols,
			"cells":  encodeCells(out.Data),
			"method": method,
		})
	}
}

func statsHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paths, err := svc.MapPaths()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		md := svc.Store().Metadata()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"dataset_name": md.DatasetName,
			"n_maps":       len(paths),
			"cache":        svc.CacheStats(),
		})
	}
}

// tileHandler serves a PNG heatmap of a stored map. The path is the map
// path with a .png extension; ?colormap= and ?smoothed= select the variant.
func tileHandler(svc *service.SmoothService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mapPath := strings.TrimSuffix(chi.URLParam(r, "*"), ".png")
		if mapPath == "" {
			http.Error(w, "missing map path", http.StatusBadRequest)
			return
		}
		colormap := r.URL.Query().Get("colormap")
		if colormap == "" {
			colormap = "viridis"
		}
		smoothed := r.URL.Query().Get("smoothed") == "true"

		data, err := svc.HeatmapPNG(mapPath, colormap, smoothed)
		if err != nil {
			http.Error(w, err.Error(), errStatus(err))
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

// Smoothing job handlers

type jobSubmitRequest struct {
	TargetEBins  []float64 `json:"target_ebins"`
	TargetCZBins []float64 `json:"target_czbins"`
	Maps         []string  `json:"maps"`
}

func jobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req jobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		job, err := jm.Submit(jobstore.JobParams{
			TargetEBins:  req.TargetEBins,
			TargetCZBins: req.TargetCZBins,
			Maps:         req.Maps,
		})
		if err != nil {
			if errors.Is(err, ErrBadJobParams) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func jobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobs, err := jm.List()
		if err != nil {
			http.Error(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jobs":  jobs,
			"total": len(jobs),
		})
	}
}

func jobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":      job.ID,
			"status":      job.Status,
			"created_at":  job.CreatedAt,
			"started_at":  job.StartedAt,
			"finished_at": job.FinishedAt,
			"progress":    job.Progress,
			"error":       job.Error,
		})
	}
}

func jobResultsHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if job.Status != jobstore.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		// Parse pagination params
		offset := 0
		limit := 100
		if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
			if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
				offset = v
			}
		}
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
				limit = v
				if limit > 500 {
					limit = 500
				}
			}
		}

		items, total, err := jm.Store().QueryResults(jobID, offset, limit)
		if err != nil {
			http.Error(w, "failed to query results: "+err.Error(), http.StatusInternalServerError)
			return
		}

		out := make([]map[string]interface{}, len(items))
		for i, item := range items {
			out[i] = map[string]interface{}{
				"map_path":    item.MapPath,
				"method":      item.Method,
				"rows":        item.Rows,
				"cols":        item.Cols,
				"cells":       encodeCells(item.Cells),
				"empty_cells": item.EmptyCells,
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"params": job.Params,
			"total":  total,
			"offset": offset,
			"limit":  limit,
			"items":  out,
		})
	}
}

func jobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		jm.Cancel(jobID)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": true,
		})
	}
}
