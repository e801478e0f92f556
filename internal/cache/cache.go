// Package cache provides caching for rendered tiles, rebin plans and
// smoothed maps.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mapsmooth/server/internal/binning"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	PlanCacheSize   int
	MapCacheSize    int
}

// PlanEntry is a memoized sub-binning detection result. Found=false is
// cached too: a pair with no integer sub-binning stays that way, and the
// negative answer is the expensive one to recompute.
type PlanEntry struct {
	Plan  binning.RebinPlan
	Found bool
}

// Manager manages the tile, plan and map caches.
type Manager struct {
	tileCache *bigcache.BigCache
	planCache *lru.Cache[string, PlanEntry]
	mapCache  *lru.Cache[string, binning.Grid]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	planCache, err := lru.New[string, PlanEntry](cfg.PlanCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	mapCache, err := lru.New[string, binning.Grid](cfg.MapCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create map cache: %w", err)
	}

	return &Manager{
		tileCache: tileCache,
		planCache: planCache,
		mapCache:  mapCache,
	}, nil
}

// GetTile retrieves a rendered tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores a rendered tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetPlan retrieves a memoized detection result.
func (m *Manager) GetPlan(key string) (PlanEntry, bool) {
	return m.planCache.Get(key)
}

// SetPlan stores a detection result.
func (m *Manager) SetPlan(key string, entry PlanEntry) {
	m.planCache.Add(key, entry)
}

// GetMap retrieves a smoothed map from cache.
func (m *Manager) GetMap(key string) (binning.Grid, bool) {
	return m.mapCache.Get(key)
}

// SetMap stores a smoothed map.
func (m *Manager) SetMap(key string, g binning.Grid) {
	m.mapCache.Add(key, g)
}

// BinningKey hashes a binning pair into a stable cache key. Detection
// depends only on the edge values, so two calls over equal edges share the
// memoized plan.
func BinningKey(coarse, fine binning.Binning) string {
	h := sha256.New()
	hashBinning(h, coarse)
	hashBinning(h, fine)
	return "plan:" + hex.EncodeToString(h.Sum(nil))[:16]
}

// hashBinning feeds a binning's edges into h, one separator-terminated
// run of little-endian float64 bits per axis.
func hashBinning(h hash.Hash, b binning.Binning) {
	for _, edges := range b.Axes() {
		var buf [8]byte
		for _, e := range edges {
			bits := math.Float64bits(e)
			for i := 0; i < 8; i++ {
				buf[i] = byte(bits >> (8 * i))
			}
			h.Write(buf[:])
		}
		h.Write([]byte{0xff}) // axis separator
	}
}

// SmoothedMapKey generates a cache key for a map smoothed onto the given
// target binning.
func SmoothedMapKey(mapPath string, target binning.Binning) string {
	h := sha256.New()
	hashBinning(h, target)
	return fmt.Sprintf("map:%s:%s", mapPath, hex.EncodeToString(h.Sum(nil))[:16])
}

// TileKey generates a cache key for a rendered tile.
func TileKey(mapPath, colormap string, smoothed bool) string {
	return fmt.Sprintf("tile:%s:%s:%v", mapPath, colormap, smoothed)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len": m.tileCache.Len(),
		"tile_cache_cap": m.tileCache.Capacity(),
		"plan_cache_len": m.planCache.Len(),
		"map_cache_len":  m.mapCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
