// terrad serves composited terrain and imagery tiles over HTTP, backed by a
// configurable layer stack, a shared Redis tile cache, and Kafka-driven
// cache invalidation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/tylerbrawl/rocky/internal/cache/redistile"
	"github.com/tylerbrawl/rocky/internal/config"
	"github.com/tylerbrawl/rocky/internal/invalidation"
	"github.com/tylerbrawl/rocky/internal/layer"
	"github.com/tylerbrawl/rocky/internal/logger"
	"github.com/tylerbrawl/rocky/internal/observability"
	"github.com/tylerbrawl/rocky/internal/server"
	"github.com/tylerbrawl/rocky/internal/source"
	"github.com/tylerbrawl/rocky/internal/source/mem"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

type layersFile struct {
	Elevation []layer.ElevationConfig `json:"elevation"`
	Imagery   []layer.ImageConfig     `json:"imagery"`
}

func loadLayers(path string) (layersFile, error) {
	if path == "" {
		// demo stack: analytic terrain plus a gradient basemap
		return layersFile{
			Elevation: []layer.ElevationConfig{
				{Name: "terrain", URI: "mem://geodetic", Open: true},
			},
			Imagery: []layer.ImageConfig{
				{Name: "basemap", URI: "mem://geodetic", Open: true},
			},
		}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return layersFile{}, fmt.Errorf("read layers file: %w", err)
	}
	var lf layersFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return layersFile{}, fmt.Errorf("parse layers file: %w", err)
	}
	return lf, nil
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "terrad",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting terrad", "addr", cfg.Addr, "version", Version, "tile_size", cfg.TileSize)

	lf, err := loadLayers(cfg.LayersFile)
	if err != nil {
		appLog.Error("layer configuration failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var elevations []*layer.ElevationLayer
	for _, lc := range lf.Elevation {
		if lc.TileSize == 0 {
			lc.TileSize = cfg.TileSize
		}
		memCfg, err := mem.FromURI(lc.URI)
		if err != nil {
			appLog.Error("elevation layer setup failed", "layer", lc.Name, "err", err)
			return 1
		}
		l := layer.NewElevationLayer(lc, func() (source.Driver, error) {
			return mem.New(memCfg), nil
		}, zl)
		if lc.Open {
			if err := l.Open(ctx); err != nil {
				appLog.Error("elevation layer open failed", "layer", lc.Name, "err", err)
			}
		}
		elevations = append(elevations, l)
	}
	stack := layer.NewElevationStack(zl, elevations...)

	var images []*layer.ImageLayer
	for _, lc := range lf.Imagery {
		memCfg, err := mem.FromURI(lc.URI)
		if err != nil {
			appLog.Error("imagery layer setup failed", "layer", lc.Name, "err", err)
			return 1
		}
		l := layer.NewImageLayer(lc, func() (source.ImageDriver, error) {
			return mem.New(memCfg), nil
		}, zl)
		if lc.Open {
			if err := l.Open(ctx); err != nil {
				appLog.Error("imagery layer open failed", "layer", lc.Name, "err", err)
			}
		}
		images = append(images, l)
	}

	engine := &server.Engine{
		Log:            appLog,
		Stack:          stack,
		Images:         images,
		Profile:        tiling.GlobalGeodetic(),
		TileSize:       cfg.TileSize,
		CacheOpTimeout: cfg.CacheOpTimeout,
	}

	if cfg.RedisAddr != "" {
		remote, err := redistile.New(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			appLog.Error("redis tile cache unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = remote.Close() }()
		engine.Remote = remote

		// any layer revision change makes the composite stale too
		purge := func(name string, _ int64) {
			if _, err := remote.InvalidateLayer(context.Background(), name); err != nil {
				appLog.Warn("remote purge failed", "layer", name, "err", err)
			}
			if _, err := remote.InvalidateLayer(context.Background(), "composite"); err != nil {
				appLog.Warn("remote purge failed", "layer", "composite", "err", err)
			}
		}
		for _, l := range elevations {
			l.OnRevision(purge)
		}
		for _, l := range images {
			l.OnRevision(purge)
		}
	}

	if cfg.Invalidation.Enabled {
		// a typed nil must not leak into the interface
		var remote invalidation.RemoteCache
		if engine.Remote != nil {
			remote = engine.Remote
		}
		runner := invalidation.NewRunner(cfg.Invalidation, remote, engine, appLog)
		if err := runner.Start(ctx); err != nil {
			appLog.Error("invalidation runner failed", "err", err)
			return 1
		}
		defer runner.Stop()
	}

	if err := server.Run(ctx, cfg.Addr, engine); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}

	for _, l := range elevations {
		_ = l.Close()
	}
	for _, l := range images {
		_ = l.Close()
	}
	appLog.Info("server stopped")
	return 0
}
