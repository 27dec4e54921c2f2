package layer

import (
	"context"
	"math"
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

// EncodingMapboxRGB selects Terrain-RGB decoding: the driver produces color
// tiles whose RGB channels encode elevation.
const EncodingMapboxRGB = "mapboxrgb"

// DefaultL2CacheSize bounds the per-layer cache of finished tiles.
const DefaultL2CacheSize = 32

// ElevationConfig is the serialized configuration of one elevation layer.
type ElevationConfig struct {
	Name        string `json:"name"`
	URI         string `json:"uri,omitempty"`
	Attribution string `json:"attribution,omitempty"`

	// Open makes the layer open itself on first use instead of requiring an
	// explicit Open call.
	Open bool `json:"open,omitempty"`

	// Offset marks the layer as a delta applied on top of absolute layers
	// rather than a terrain source of its own.
	Offset bool `json:"offset,omitempty"`

	Encoding string `json:"encoding,omitempty"`

	NoDataValue   *float32 `json:"no_data_value,omitempty"`
	MinValidValue *float32 `json:"min_valid_value,omitempty"`
	MaxValidValue *float32 `json:"max_valid_value,omitempty"`

	MinLevel     int  `json:"min_level,omitempty"`
	MaxLevel     *int `json:"max_level,omitempty"`
	MaxDataLevel int  `json:"max_data_level,omitempty"`

	TileSize    int `json:"tile_size,omitempty"`
	L2CacheSize int `json:"l2_cache_size,omitempty"`
}

// ElevationLayer produces heightfields from one data driver, mosaicking
// across profiles when the request does not match the driver's own scheme.
type ElevationLayer struct {
	TileLayer

	offset   bool
	encoding string

	noDataValue float32
	minValid    float32
	maxValid    float32

	factory func() (source.Driver, error)
	pool    *source.Pool[source.Driver]

	deps *depcache.Cache[tiling.TileKey, raster.GeoHeightfield]
	l2   *lru.Cache[string, raster.GeoHeightfield]

	cfgMaxDataLevel int
	l2Size          int
}

func NewElevationLayer(cfg ElevationConfig, factory func() (source.Driver, error), log zerolog.Logger) *ElevationLayer {
	l := &ElevationLayer{
		offset:          cfg.Offset,
		encoding:        cfg.Encoding,
		noDataValue:     raster.NoData,
		minValid:        -math.MaxFloat32,
		maxValid:        math.MaxFloat32,
		factory:         factory,
		deps:            depcache.New[tiling.TileKey, raster.GeoHeightfield](),
		cfgMaxDataLevel: cfg.MaxDataLevel,
		l2Size:          cfg.L2CacheSize,
	}
	l.Layer = newLayer(cfg.Name, cfg.Attribution, cfg.Open, log)
	l.tileSize = cfg.TileSize
	if l.tileSize <= 0 {
		l.tileSize = DefaultTileSize
	}
	l.minLevel = cfg.MinLevel
	l.maxLevel = DefaultMaxLevel
	if cfg.MaxLevel != nil {
		l.maxLevel = *cfg.MaxLevel
	}
	if cfg.NoDataValue != nil {
		l.noDataValue = *cfg.NoDataValue
	}
	if cfg.MinValidValue != nil {
		l.minValid = *cfg.MinValidValue
	}
	if cfg.MaxValidValue != nil {
		l.maxValid = *cfg.MaxValidValue
	}
	if l.l2Size <= 0 {
		l.l2Size = DefaultL2CacheSize
	}
	return l
}

// IsOffset reports whether this layer's heights are deltas to add on top of
// the terrain rather than absolute elevations.
func (l *ElevationLayer) IsOffset() bool { return l.offset }

// Open connects the driver and records what it knows about the dataset. The
// result is sticky: a failed open is reported from every subsequent call
// until Close resets the layer.
func (l *ElevationLayer) Open(ctx context.Context) error {
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
	info, err := d.Open(ctx, l.name, source.Options{
		NoDataValue:   l.noDataValue,
		MinValidValue: l.minValid,
		MaxValidValue: l.maxValid,
		MaxDataLevel:  l.cfgMaxDataLevel,
	}, l.tileSize)
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
	l.l2, _ = lru.New[string, raster.GeoHeightfield](l.l2Size)
	l.pool = pool
	l.opened = true
	l.openErr = nil
	l.log.Info().Str("profile", l.profile.Name()).Int("max_data_level", l.maxDataLevel).Msg("elevation layer open")
	return nil
}

func (l *ElevationLayer) Close() error {
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
	l.deps = depcache.New[tiling.TileKey, raster.GeoHeightfield]()
	return err
}

// Invalidate bumps the layer revision so cache purging hooks fire, and drops
// locally cached tiles.
func (l *ElevationLayer) Invalidate() {
	defer l.bumpRevision()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.l2 != nil {
		l.l2.Purge()
	}
	l.deps = depcache.New[tiling.TileKey, raster.GeoHeightfield]()
}

func (l *ElevationLayer) ensureOpen(ctx context.Context) error {
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

// CreateHeightfield produces the heightfield for a tile key in any profile.
// An invalid (zero) result with a nil error means the layer has no data for
// the key; a non-nil error is a real failure carrying a Status.
func (l *ElevationLayer) CreateHeightfield(ctx context.Context, key tiling.TileKey) (raster.GeoHeightfield, error) {
	start := time.Now()
	if err := l.ensureOpen(ctx); err != nil {
		return raster.GeoHeightfield{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.opened {
		return raster.GeoHeightfield{}, Errorf(StatusResourceUnavailable, "layer %q is not open", l.name)
	}
	if !key.Valid() || !l.IsKeyInLegalRange(key) || !l.MayHaveData(key) {
		return raster.GeoHeightfield{}, nil
	}

	ck := keys.Tile(l.name, key)
	if v, ok := l.l2.Get(ck); ok {
		observability.IncCacheHit("l2")
		return v, nil
	}
	observability.IncCacheMiss("l2")

	var (
		hf  *raster.Heightfield
		err error
	)
	if key.Profile.HorizontalEquals(l.profile) {
		hf, err = l.createDirect(ctx, key)
	} else {
		hf, err = l.assemble(ctx, key)
	}
	if err != nil {
		return raster.GeoHeightfield{}, err
	}
	if ctx.Err() != nil || hf == nil {
		return raster.GeoHeightfield{}, nil
	}
	if w, h := hf.Width(), hf.Height(); w < 1 || h < 1 || w > raster.MaxDim || h > raster.MaxDim {
		return raster.GeoHeightfield{}, Errorf(StatusGeneralError,
			"layer %q produced a %dx%d heightfield for %s", l.name, w, h, key)
	}
	l.normalize(hf)

	out := raster.NewGeoHeightfield(hf, key.Extent())
	l.l2.Add(ck, out)
	observability.ObserveTile("elevation", "ok", time.Since(start).Seconds())
	return out, nil
}

// WriteHeightfield is unsupported: layers serve read-only datasets.
func (l *ElevationLayer) WriteHeightfield(context.Context, tiling.TileKey, *raster.Heightfield) error {
	return Errorf(StatusServiceUnavailable, "layer %q is read only", l.Name())
}

// createDirect asks the driver for a tile in the layer's own profile. Driver
// failures are demoted to "no data" after a debug log so one flaky source
// cannot poison a whole composite; cancellation passes through as no data.
func (l *ElevationLayer) createDirect(ctx context.Context, key tiling.TileKey) (*raster.Heightfield, error) {
	d, err := l.pool.Acquire()
	if err != nil {
		return nil, Errorf(StatusResourceUnavailable, "layer %q: acquire driver: %w", l.name, err)
	}
	defer l.pool.Release(d)

	if l.encoding == EncodingMapboxRGB {
		id, ok := d.(source.ImageDriver)
		if !ok {
			return nil, Errorf(StatusConfigurationError,
				"layer %q: encoding %q needs an image driver", l.name, l.encoding)
		}
		start := time.Now()
		img, err := id.CreateImage(ctx, key, l.tileSize)
		observability.ObserveDriver("create_image", time.Since(start).Seconds())
		if err != nil {
			l.log.Debug().Err(err).Stringer("key", key).Msg("driver create image failed")
			return nil, nil
		}
		if img == nil {
			return nil, nil
		}
		return DecodeMapboxRGB(img), nil
	}

	ed, ok := d.(source.ElevationDriver)
	if !ok {
		return nil, Errorf(StatusConfigurationError, "layer %q: driver cannot produce heightfields", l.name)
	}
	start := time.Now()
	hf, err := ed.CreateHeightfield(ctx, key, l.tileSize)
	observability.ObserveDriver("create_heightfield", time.Since(start).Seconds())
	if err != nil {
		l.log.Debug().Err(err).Stringer("key", key).Msg("driver create heightfield failed")
		return nil, nil
	}
	return hf, nil
}

// assemble builds a tile in a foreign profile by fetching every intersecting
// tile in the layer's own profile (walking up to ancestors where the exact
// level has nothing) and resampling them onto the requested grid. Source
// tiles are shared through the dependency cache so overlapping requests do
// not refetch them.
func (l *ElevationLayer) assemble(ctx context.Context, key tiling.TileKey) (*raster.Heightfield, error) {
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
	sources := make([]raster.GeoHeightfield, 0, len(intersecting))
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
			ghf, ok := l.deps.Get(k)
			if !ok {
				hf, err := l.createDirect(ctx, k)
				if err != nil {
					return nil, err
				}
				if hf == nil {
					continue
				}
				ghf = l.deps.Put(k, raster.NewGeoHeightfield(hf, k.Extent()))
			}
			l.deps.Retain(k)
			retained = append(retained, k)
			seen[k] = true
			sources = append(sources, ghf)
			break
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}
	observability.ObserveMosaicSources(len(sources))

	// finest sources win; stable keeps the tile order deterministic on ties
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].XInterval() < sources[j].XInterval()
	})

	w, h := l.tileSize, l.tileSize
	for _, s := range sources {
		if sw := s.Heightfield().Width(); sw > w {
			w = sw
		}
		if sh := s.Heightfield().Height(); sh > h {
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
	vshift := ext.SRS.Vertical != l.profile.SRS().Vertical

	// one grid-registered point per output sample, transformed in batch
	pts := make([]geo.Point, w*h)
	dx := ext.Width() / float64(w-1)
	dy := ext.Height() / float64(h-1)
	for row := range h {
		y := ext.YMax - dy*float64(row)
		for col := range w {
			pts[row*w+col] = geo.Point{X: ext.XMin + dx*float64(col), Y: y}
		}
	}
	op.TransformArray(pts)

	out := raster.NewHeightfield(w, h)
	out.Fill(raster.NoData)
	for row := range h {
		if ctx.Err() != nil {
			return nil, nil
		}
		for col := range w {
			p := pts[row*w+col]
			for _, s := range sources {
				v := s.HeightAt(p.X, p.Y, raster.Bilinear)
				if !raster.ValidHeight(v) {
					continue
				}
				if vshift {
					v = float32(op.Inverse(geo.Point{X: p.X, Y: p.Y, Z: float64(v)}).Z)
				}
				out.SetHeight(col, row, v)
				break
			}
		}
	}
	return out, nil
}

// normalize rewrites every invalid sample to the canonical NoData sentinel:
// NaN, the configured no-data value, and anything outside the valid range.
func (l *ElevationLayer) normalize(hf *raster.Heightfield) {
	hf.ForEach(func(v float32) float32 {
		if v != v || v == l.noDataValue || v < l.minValid || v > l.maxValid {
			return raster.NoData
		}
		return v
	})
}

// DecodeMapboxRGB converts a Terrain-RGB tile to a heightfield:
// height = -10000 + (R*65536 + G*256 + B) * 0.1. Transparent pixels and
// decoded values outside the plausible range become NoData.
func DecodeMapboxRGB(img *raster.Image) *raster.Heightfield {
	w, h := img.Width(), img.Height()
	hf := raster.NewHeightfield(w, h)
	for row := range h {
		for col := range w {
			px := img.ReadPixel(col, row)
			if px[3] == 0 {
				hf.SetHeight(col, row, raster.NoData)
				continue
			}
			v := -10000 + (float64(px[0])*65536+float64(px[1])*256+float64(px[2]))*0.1
			if v < -9999 || v > 999999 {
				hf.SetHeight(col, row, raster.NoData)
				continue
			}
			hf.SetHeight(col, row, float32(v))
		}
	}
	return hf
}
