// Package service provides business logic for the map smoothing server.
package service

import (
	"fmt"
	"strings"

	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/internal/cache"
	"github.com/mapsmooth/server/internal/data/mapstore"
	"github.com/mapsmooth/server/internal/data/tdbstore"
	"github.com/mapsmooth/server/internal/render"
)

// SmoothServiceConfig contains smooth service configuration.
type SmoothServiceConfig struct {
	Store    *mapstore.Reader
	Cache    *cache.Manager
	Renderer *render.HeatmapRenderer
	TileDB   *tdbstore.Reader // optional
}

// SmoothService serves fine and smoothed maps from a store, memoizing rebin
// plans and smoothed results.
type SmoothService struct {
	store    *mapstore.Reader
	cache    *cache.Manager
	renderer *render.HeatmapRenderer
	tdb      *tdbstore.Reader
}

// NewSmoothService creates a new smooth service.
func NewSmoothService(cfg SmoothServiceConfig) *SmoothService {
	return &SmoothService{
		store:    cfg.Store,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
		tdb:      cfg.TileDB,
	}
}

// Store returns the underlying map store.
func (s *SmoothService) Store() *mapstore.Reader {
	return s.store
}

// TileDB returns the optional TileDB map reader, nil when not configured.
func (s *SmoothService) TileDB() *tdbstore.Reader {
	return s.tdb
}

// TileDBMap reads a map from the TileDB backend, optionally smoothed onto
// the store's target binning.
func (s *SmoothService) TileDBMap(name string, smoothed bool) (binning.Grid, binning.Binning, error) {
	if s.tdb == nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("tiledb backend not configured")
	}
	g, fine, err := s.tdb.ReadMap(name)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}
	if !smoothed {
		return g, fine, nil
	}
	coarse := s.store.TargetBinning()
	out, err := s.Smooth(g, fine, coarse)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to smooth tiledb map %q: %w", name, err)
	}
	return out, coarse, nil
}

// CheckConsistency verifies that every map in the store shares one binning
// and returns it.
func (s *SmoothService) CheckConsistency() (binning.Binning, error) {
	tree, err := s.store.Tree()
	if err != nil {
		return binning.Binning{}, err
	}
	return binning.CheckBinning(tree)
}

// MapPaths lists the stored maps.
func (s *SmoothService) MapPaths() ([]string, error) {
	return s.store.MapPaths()
}

// FineMap returns a stored map on its native (fine) binning.
func (s *SmoothService) FineMap(mapPath string) (binning.Grid, binning.Binning, error) {
	leaf, err := s.store.LookupLeaf(splitMapPath(mapPath)...)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}
	fine := binning.Binning{Energy: leaf.EBins, CosZen: leaf.CZBins}
	return leaf.Map, fine, nil
}

// SmoothedMap returns a stored map resampled onto the store's target
// binning. Results and detection plans are cached; repeated calls for the
// same map are served from memory.
func (s *SmoothService) SmoothedMap(mapPath string) (binning.Grid, binning.Binning, error) {
	coarse := s.store.TargetBinning()

	mapKey := cache.SmoothedMapKey(mapPath, coarse)
	if g, ok := s.cache.GetMap(mapKey); ok {
		return g, coarse, nil
	}

	g, fine, err := s.FineMap(mapPath)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, err
	}

	out, err := s.Smooth(g, fine, coarse)
	if err != nil {
		return binning.Grid{}, binning.Binning{}, fmt.Errorf("failed to smooth %q: %w", mapPath, err)
	}

	s.cache.SetMap(mapKey, out)
	return out, coarse, nil
}

// Smooth resamples one grid from a fine onto a coarse binning with the
// detection plan memoized per binning pair. The dispatch is the same two-way
// one as binning.Smooth: block rebin when an integer sub-binning exists,
// weighted resampling otherwise.
func (s *SmoothService) Smooth(g binning.Grid, fine, coarse binning.Binning) (binning.Grid, error) {
	if err := fine.Validate(); err != nil {
		return binning.Grid{}, err
	}
	if err := coarse.Validate(); err != nil {
		return binning.Grid{}, err
	}
	if err := binning.CheckShape(g, fine); err != nil {
		return binning.Grid{}, err
	}

	if plan, ok := s.Plan(coarse, fine); ok {
		return binning.RebinBlocks(g, plan)
	}
	return binning.ResampleWeighted(g, fine, coarse)
}

// Plan returns the memoized sub-binning plan for a binning pair, running
// the detection on a cache miss. Negative outcomes are cached too so
// incompatible pairs do not re-run the search.
func (s *SmoothService) Plan(coarse, fine binning.Binning) (binning.RebinPlan, bool) {
	planKey := cache.BinningKey(coarse, fine)
	entry, ok := s.cache.GetPlan(planKey)
	if !ok {
		plan, found := binning.FindSubbinning(coarse, fine, binning.DefaultEqualTol)
		entry = cache.PlanEntry{Plan: plan, Found: found}
		s.cache.SetPlan(planKey, entry)
	}
	return entry.Plan, entry.Found
}

// HeatmapPNG renders a stored map (fine or smoothed) as a PNG heatmap,
// cached by map path, colormap and variant.
func (s *SmoothService) HeatmapPNG(mapPath, colormapName string, smoothed bool) ([]byte, error) {
	tileKey := cache.TileKey(mapPath, colormapName, smoothed)
	if data, ok := s.cache.GetTile(tileKey); ok {
		return data, nil
	}

	var (
		g   binning.Grid
		err error
	)
	if smoothed {
		g, _, err = s.SmoothedMap(mapPath)
	} else {
		g, _, err = s.FineMap(mapPath)
	}
	if err != nil {
		return nil, err
	}

	data, err := s.renderer.RenderHeatmap(g, colormapName)
	if err != nil {
		return nil, fmt.Errorf("failed to render %q: %w", mapPath, err)
	}

	s.cache.SetTile(tileKey, data)
	return data, nil
}

// CacheStats exposes cache statistics for the stats endpoint.
func (s *SmoothService) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}

func splitMapPath(mapPath string) []string {
	return strings.Split(strings.Trim(mapPath, "/"), "/")
}
