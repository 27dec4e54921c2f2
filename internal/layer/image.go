package layer

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/tylerbrawl/rocky/internal/cache/keys"
	"github.com/tylerbrawl/rocky/internal/depcache"
	"github.com/tylerbrawl/rocky/internal/geo"
	"github.com/tylerbrawl/rocky/internal/observability"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/source"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// ImageConfig is the serialized configuration of one imagery layer.
type ImageConfig struct {
	Name        string `json:"name"`
	URI         string `json:"uri,omitempty"`
	Attribution string `json:"attribution,omitempty"`
	Open        bool   `json:"open,omitempty"`

	MinLevel     int  `json:"min_level,omitempty"`
	MaxLevel     *int `json:"max_level,omitempty"`
	MaxDataLevel int  `json:"max_data_level,omitempty"`

	TileSize    int `json:"tile_size,omitempty"`
	L2CacheSize int `json:"l2_cache_size,omitempty"`
}

// ImageLayer produces color tiles. Where the driver has no tile at the
// requested level it upsamples the nearest ancestor, so imagery stays
// continuous past the resolution of the data.
type ImageLayer struct {
	TileLayer

	factory func() (source.ImageDriver, error)
	pool    *source.Pool[source.ImageDriver]

	deps *depcache.Cache[tiling.TileKey, raster.GeoImage]
	l2   *lru.Cache[string, raster.GeoImage]

	cfgMaxDataLevel int
	l2Size          int
}

func NewImageLayer(cfg ImageConfig, factory func() (source.ImageDriver, error), log zerolog.Logger) *ImageLayer {
	l := &ImageLayer{
		factory:         factory,
		deps:            depcache.New[tiling.TileKey, raster.GeoImage](),
		cfgMaxDataLevel: cfg.MaxDataLevel,
		l2Size:          cfg.L2CacheSize,
	}
	l.Layer = newLayer(cfg.Name, cfg.Attribution, cfg.Open, log)
	l.tileSize = cfg.TileSize
	if l.tileSize <= 0 {
		l.tileSize = 256
	}
	l.minLevel = cfg.MinLevel
	l.maxLevel = DefaultMaxLevel
	if cfg.MaxLevel != nil {
		l.maxLevel = *cfg.MaxLevel
	}
	if l.l2Size <= 0 {
		l.l2Size = DefaultL2CacheSize
	}
	return l
}

func (l *ImageLayer) Open(ctx context.Context) error {
	defer l.bumpRevision()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return nil
	}

	pool := source.NewPool(l.factory)
	d, err := pool.Acquire()
	if err != nil {
		_ = pool.Close()
		l.openErr = Errorf(StatusConfigurationError, "layer %q: create driver: %w", l.name, err)
		return l.openErr
	}
	start := time.Now()
	info, err := d.Open(ctx, l.name, source.Options{MaxDataLevel: l.cfgMaxDataLevel}, l.tileSize)
	observability.ObserveDriver("open", time.Since(start).Seconds())
	pool.Release(d)
	if err != nil {
		_ = pool.Close()
		l.openErr = Errorf(StatusResourceUnavailable, "layer %q: open: %w", l.name, err)
		return l.openErr
	}
	if !info.Profile.Valid() {
		_ = pool.Close()
		l.openErr = Errorf(StatusConfigurationError, "layer %q: driver reported no profile", l.name)
		return l.openErr
	}

	l.setOpenInfo(info, l.cfgMaxDataLevel)
	l.l2, _ = lru.New[string, raster.GeoImage](l.l2Size)
	l.pool = pool
	l.opened = true
	l.openErr = nil
	l.log.Info().Str("profile", l.profile.Name()).Int("max_data_level", l.maxDataLevel).Msg("image layer open")
	return nil
}

func (l *ImageLayer) Close() error {
	defer l.bumpRevision()
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened {
		l.openErr = nil
		return nil
	}
	err := l.pool.Close()
	l.pool = nil
	l.opened = false
	l.openErr = nil
	l.l2.Purge()
	l.deps = depcache.New[tiling.TileKey, raster.GeoImage]()
	return err
}

func (l *ImageLayer) Invalidate() {
	defer l.bumpRevision()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.l2 != nil {
		l.l2.Purge()
	}
	l.deps = depcache.New[tiling.TileKey, raster.GeoImage]()
}

func (l *ImageLayer) ensureOpen(ctx context.Context) error {
	l.mu.RLock()
	opened, openErr, auto := l.opened, l.openErr, l.openAuto
	l.mu.RUnlock()
	if opened {
		return nil
	}
	if openErr != nil {
		return openErr
	}
	if !auto {
		return Errorf(StatusResourceUnavailable, "layer %q is not open", l.Name())
	}
	return l.Open(ctx)
}

// CreateImage produces the color tile for a key in any profile. A zero result
// with a nil error means no data.
func (l *ImageLayer) CreateImage(ctx context.Context, key tiling.TileKey) (raster.GeoImage, error) {
	start := time.Now()
	if err := l.ensureOpen(ctx); err != nil {
		return raster.GeoImage{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.opened {
		return raster.GeoImage{}, Errorf(StatusResourceUnavailable, "layer %q is not open", l.name)
	}
	if !key.Valid() || !l.IsKeyInLegalRange(key) || !l.MayHaveData(key) {
		return raster.GeoImage{}, nil
	}

	ck := keys.Tile(l.name, key)
	if v, ok := l.l2.Get(ck); ok {
		observability.IncCacheHit("l2")
		return v, nil
	}
	observability.IncCacheMiss("l2")

	var (
		img *raster.Image
		err error
	)
	if key.Profile.HorizontalEquals(l.profile) {
		img, err = l.createInProfile(ctx, key)
	} else {
		img, err = l.assemble(ctx, key)
	}
	if err != nil {
		return raster.GeoImage{}, err
	}
	if ctx.Err() != nil || img == nil {
		return raster.GeoImage{}, nil
	}
	if w, h := img.Width(), img.Height(); w < 1 || h < 1 || w > raster.MaxDim || h > raster.MaxDim {
		return raster.GeoImage{}, Errorf(StatusGeneralError,
			"layer %q produced a %dx%d image for %s", l.name, w, h, key)
	}

	out := raster.NewGeoImage(img, key.Extent())
	l.l2.Add(ck, out)
	observability.ObserveTile("imagery", "ok", time.Since(start).Seconds())
	return out, nil
}

// WriteImage is unsupported: layers serve read-only datasets.
func (l *ImageLayer) WriteImage(context.Context, tiling.TileKey, *raster.Image) error {
	return Errorf(StatusServiceUnavailable, "layer %q is read only", l.Name())
}

// createInProfile fetches the key's tile, falling back to the nearest
// ancestor with data and cropping it onto the requested grid.
func (l *ImageLayer) createInProfile(ctx context.Context, key tiling.TileKey) (*raster.Image, error) {
	for k := key; k.Valid(); k = k.Parent() {
		if !l.MayHaveData(k) {
			continue
		}
		img, err := l.createDirect(ctx, k)
		if err != nil {
			return nil, err
		}
		if img == nil {
			continue
		}
		if k.Equals(key) {
			return img, nil
		}
		return cropImage(raster.NewGeoImage(img, k.Extent()), key.Extent(), l.tileSize), nil
	}
	return nil, nil
}

func (l *ImageLayer) createDirect(ctx context.Context, key tiling.TileKey) (*raster.Image, error) {
	d, err := l.pool.Acquire()
	if err != nil {
		return nil, Errorf(StatusResourceUnavailable, "layer %q: acquire driver: %w", l.name, err)
	}
	defer l.pool.Release(d)
	start := time.Now()
	img, err := d.CreateImage(ctx, key, l.tileSize)
	observability.ObserveDriver("create_image", time.Since(start).Seconds())
	if err != nil {
		l.log.Debug().Err(err).Stringer("key", key).Msg("driver create image failed")
		return nil, nil
	}
	return img, nil
}

// assemble is the imagery counterpart of the elevation mosaic: intersecting
// tiles in the layer's own profile resampled onto the foreign grid, finest
// source first, transparent where nothing covers a pixel.
func (l *ImageLayer) assemble(ctx context.Context, key tiling.TileKey) (*raster.Image, error) {
	intersecting := key.IntersectingKeys(l.profile)
	if len(intersecting) == 0 {
		return nil, nil
	}

	var retained []tiling.TileKey
	defer func() {
		l.deps.Release(retained...)
		l.deps.Clean()
	}()

	seen := make(map[tiling.TileKey]bool, len(intersecting))
	sources := make([]raster.GeoImage, 0, len(intersecting))
	for _, sk := range intersecting {
		if ctx.Err() != nil {
			return nil, nil
		}
		for k := sk; k.Valid(); k = k.Parent() {
			if seen[k] {
				break
			}
			if !l.MayHaveData(k) {
				continue
			}
			gi, ok := l.deps.Get(k)
			if !ok {
				img, err := l.createDirect(ctx, k)
				if err != nil {
					return nil, err
				}
				if img == nil {
					continue
				}
				gi = l.deps.Put(k, raster.NewGeoImage(img, k.Extent()))
			}
			l.deps.Retain(k)
			retained = append(retained, k)
			seen[k] = true
			sources = append(sources, gi)
			break
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}
	observability.ObserveMosaicSources(len(sources))

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].XInterval() < sources[j].XInterval()
	})

	w, h := l.tileSize, l.tileSize
	for _, s := range sources {
		if sw := s.Image().Width(); sw > w {
			w = sw
		}
		if sh := s.Image().Height(); sh > h {
			h = sh
		}
	}
	if w > raster.MaxDim {
		w = raster.MaxDim
	}
	if h > raster.MaxDim {
		h = raster.MaxDim
	}

	ext := key.Extent()
	op := ext.SRS.To(l.profile.SRS())
	if !op.Valid() {
		return nil, Errorf(StatusGeneralError, "layer %q: no transform from %s", l.name, key.Profile.Name())
	}

	// cell-registered: one point per pixel center
	pts := make([]geo.Point, w*h)
	for row := range h {
		y := ext.YMax - ext.Height()*(float64(row)+0.5)/float64(h)
		for col := range w {
			pts[row*w+col] = geo.Point{
				X: ext.XMin + ext.Width()*(float64(col)+0.5)/float64(w),
				Y: y,
			}
		}
	}
	op.TransformArray(pts)

	out := raster.NewImage(w, h)
	for row := range h {
		if ctx.Err() != nil {
			return nil, nil
		}
		for col := range w {
			p := pts[row*w+col]
			for _, s := range sources {
				px, ok := s.ReadAt(p.X, p.Y, raster.Bilinear)
				if !ok || px[3] == 0 {
					continue
				}
				out.WritePixel(col, row, px)
				break
			}
		}
	}
	return out, nil
}

// cropImage resamples a georeferenced image onto a square grid covering a
// sub-extent, used when an ancestor tile stands in for a missing child.
func cropImage(src raster.GeoImage, ext geo.GeoExtent, size int) *raster.Image {
	out := raster.NewImage(size, size)
	for row := range size {
		y := ext.YMax - ext.Height()*(float64(row)+0.5)/float64(size)
		for col := range size {
			x := ext.XMin + ext.Width()*(float64(col)+0.5)/float64(size)
			if px, ok := src.ReadAt(x, y, raster.Bilinear); ok {
				out.WritePixel(col, row, px)
			}
		}
	}
	return out
}
