// Package main is the entry point for the MapSmooth server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mapsmooth/server/internal/api"
	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/internal/cache"
	"github.com/mapsmooth/server/internal/config"
	"github.com/mapsmooth/server/internal/data/mapstore"
	"github.com/mapsmooth/server/internal/data/tdbstore"
	"github.com/mapsmooth/server/internal/render"
	"github.com/mapsmooth/server/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting MapSmooth server on port %d", cfg.Server.Port)

	ctx := context.Background()

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		PlanCacheSize:   cfg.Cache.PlanCacheSize,
		MapCacheSize:    cfg.Cache.MapCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	// Initialize heatmap renderer
	renderer := render.NewHeatmapRenderer(render.Config{
		ImageSize:       cfg.Render.ImageSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	// Open the map store
	store, err := mapstore.NewReader(cfg.Data.StorePath)
	if err != nil {
		log.Fatalf("Failed to open map store: %v", err)
	}
	defer store.Close()

	md := store.Metadata()
	paths, err := store.MapPaths()
	if err != nil {
		log.Fatalf("Failed to list maps: %v", err)
	}
	log.Printf("Loaded store %q from %s: %d maps", md.DatasetName, cfg.Data.StorePath, len(paths))

	// Verify every map shares one binning before serving anything.
	tree, err := store.Tree()
	if err != nil {
		log.Fatalf("Failed to build map tree: %v", err)
	}
	shared, err := binning.CheckBinning(tree)
	if err != nil {
		log.Fatalf("Binning consistency check failed: %v", err)
	}
	log.Printf("Consistent fine binning: %d x %d cells", shared.Energy.NBins(), shared.CosZen.NBins())

	// Optional TileDB backend
	var tdb *tdbstore.Reader
	if cfg.Data.TileDBPath != "" {
		r, err := tdbstore.NewReader(cfg.Data.TileDBPath)
		if err != nil {
			log.Printf("TileDB backend not initialized: %v", err)
		} else {
			tdb = r
			defer tdb.Close()
			log.Printf("TileDB backend: %s (supported=%v)", tdb.GroupURI(), tdb.Supported())
		}
	}

	// Initialize smooth service
	smoothService := service.NewSmoothService(service.SmoothServiceConfig{
		Store:    store,
		Cache:    cacheManager,
		Renderer: renderer,
		TileDB:   tdb,
	})

	// Initialize job manager for batch smoothing (SQLite persistence)
	jobManager, err := api.NewJobManager(api.JobManagerConfig{
		Service:       smoothService,
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		SQLitePath:    cfg.Jobs.SQLitePath,
		RetentionDays: cfg.Jobs.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job manager: %v", err)
	}
	log.Printf("Job manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Jobs.MaxConcurrent, cfg.Jobs.RetentionDays, cfg.Jobs.SQLitePath)

	jobManager.Start()
	defer jobManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     smoothService,
		CORSOrigins: cfg.Server.CORSOrigins,
		JobManager:  jobManager,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
