package layer

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tylerbrawl/rocky/internal/geo"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// stackCacheCap bounds the per-request raster cache. When full it is cleared
// wholesale: requests touch a handful of tiles, so eviction policy does not
// earn its complexity here.
const stackCacheCap = 50

// ElevationStack composites several elevation layers into one heightfield.
// Layers are ordered by ascending priority: the last layer wins wherever it
// has data, earlier layers fill its gaps, and offset layers add deltas on
// top of whatever resolved below them.
type ElevationStack struct {
	layers []*ElevationLayer
	log    zerolog.Logger
}

func NewElevationStack(log zerolog.Logger, layers ...*ElevationLayer) *ElevationStack {
	return &ElevationStack{layers: layers, log: log}
}

func (s *ElevationStack) Layers() []*ElevationLayer { return s.layers }

// Layer returns the layer with the given name, or nil.
func (s *ElevationStack) Layer(name string) *ElevationLayer {
	for _, l := range s.layers {
		if l.Name() == name {
			return l
		}
	}
	return nil
}

type stackContender struct {
	layer *ElevationLayer
	key   tiling.TileKey
	// fallback means the layer can only supply an ancestor of the requested
	// key, not the key itself.
	fallback bool
	// position in the stack, for the offset on-top rule
	index int
}

// CreateHeightfield allocates a grid of the given size and populates it from
// the stack. The bool reports whether any layer contributed data at this
// level, as opposed to resampled ancestor tiles.
func (s *ElevationStack) CreateHeightfield(ctx context.Context, key tiling.TileKey, size int) (raster.GeoHeightfield, bool, error) {
	hf := raster.NewHeightfield(size, size)
	real, err := s.PopulateHeightfield(ctx, key, hf, nil)
	if err != nil || !real {
		return raster.GeoHeightfield{}, real, err
	}
	return raster.NewGeoHeightfield(hf, key.Extent()), true, nil
}

// PopulateHeightfield fills hf with composited elevations for the key.
// Sampling happens in ellipsoidal heights: the key's vertical datum is
// stripped for layer queries and invalid cells are backfilled with the datum
// surface itself, so a key with a geoid datum gets geoid heights where no
// layer has data.
//
// The bool is true only when a non-fallback layer wrote at least one sample;
// a grid built purely from upsampled ancestors reports false.
//
// resolutions, when non-nil and sized w*h, receives the x resolution of the
// tile key that supplied each sample, -1 where nothing did.
func (s *ElevationStack) PopulateHeightfield(ctx context.Context, key tiling.TileKey, hf *raster.Heightfield, resolutions []float64) (bool, error) {
	if !key.Valid() || hf == nil {
		return false, nil
	}
	w, h := hf.Width(), hf.Height()
	if resolutions != nil && len(resolutions) != w*h {
		resolutions = nil
	}

	// query layers in height-above-ellipsoid space
	hfKey := key
	hfKey.Profile = key.Profile.NoVerticalDatum()

	var (
		contenders []stackContender
		offsets    []stackContender
		fallbacks  int
	)
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		// only the minimum level excludes a layer here: one whose maximum is
		// below the requested level still has ancestor tiles to fall back on
		if l.levelInProfile(hfKey) < l.minLevel {
			continue
		}
		// account for the output-size/layer-tile-size differential: a smaller
		// output grid is already satisfied by an ancestor tile
		mapped := hfKey.MapResolution(w, l.tileSize)
		bk, ok := l.BestAvailableTileKey(mapped)
		if !ok {
			continue
		}
		c := stackContender{layer: l, key: bk, fallback: !bk.Equals(mapped), index: i}
		if c.fallback {
			fallbacks++
		}
		if l.IsOffset() {
			offsets = append(offsets, c)
		} else {
			contenders = append(contenders, c)
		}
	}
	if len(contenders) == 0 && len(offsets) == 0 {
		return false, nil
	}

	// when every usable layer, offsets included, would only upsample an
	// ancestor there is nothing new at this level; the caller should keep
	// using the parent tile
	if fallbacks == len(contenders)+len(offsets) {
		return false, nil
	}

	// single exact source and no offsets: copy its buffer through
	if len(contenders) == 1 && len(offsets) == 0 && !contenders[0].fallback {
		ghf, err := contenders[0].layer.CreateHeightfield(ctx, contenders[0].key)
		if err != nil {
			return false, err
		}
		if !ghf.Valid() {
			return false, nil
		}
		if hf.CopyFrom(ghf.Heightfield()) {
			if resolutions != nil {
				rx, _ := contenders[0].key.Resolution(contenders[0].layer.TileSize())
				for i := range resolutions {
					resolutions[i] = rx
				}
			}
			s.resolveInvalidHeights(key, hf)
			return true, nil
		}
		// dimensions differ, resample through the general path below
	}

	cache := newStackCache()
	ext := hfKey.Extent()
	dx := ext.Width() / float64(w-1)
	dy := ext.Height() / float64(h-1)

	realData := false
	for row := range h {
		if ctx.Err() != nil {
			return false, nil
		}
		y := ext.YMax - dy*float64(row)
		for col := range w {
			x := ext.XMin + dx*float64(col)

			value := raster.NoData
			resolvedIndex := -1
			cellRes := -1.0
			for _, c := range contenders {
				ghf, err := cache.fetch(ctx, c.layer, c.key)
				if err != nil {
					return false, err
				}
				if !ghf.Valid() {
					continue
				}
				v := ghf.HeightAtSRS(x, y, ext.SRS, raster.Bilinear)
				if !raster.ValidHeight(v) {
					continue
				}
				value = v
				resolvedIndex = c.index
				cellRes, _ = c.key.Resolution(c.layer.TileSize())
				if !c.fallback {
					realData = true
				}
				break
			}

			// offsets stack on top of the layer that resolved the cell;
			// an offset sitting below it in priority is already overridden
			for _, o := range offsets {
				if resolvedIndex >= 0 && o.index < resolvedIndex {
					continue
				}
				ghf, err := cache.fetch(ctx, o.layer, o.key)
				if err != nil {
					return false, err
				}
				if !ghf.Valid() {
					continue
				}
				ov := ghf.HeightAtSRS(x, y, ext.SRS, raster.Bilinear)
				if !raster.ValidHeight(ov) || ov == 0 {
					continue
				}
				// a cell no layer resolved stays invalid for the backfill
				// pass; an offset displaces heights, it does not create them
				if !raster.ValidHeight(value) {
					continue
				}
				value += ov
				if !o.fallback {
					realData = true
				}
				// an offset coarser than the base coarsens the cell
				if orx, _ := o.key.Resolution(o.layer.TileSize()); orx > cellRes {
					cellRes = orx
				}
			}

			hf.SetHeight(col, row, value)
			if resolutions != nil {
				resolutions[row*w+col] = cellRes
			}
		}
	}
	if !realData {
		return false, nil
	}

	s.resolveInvalidHeights(key, hf)
	return true, nil
}

// resolveInvalidHeights backfills remaining NoData cells. A profile with a
// vertical datum gets the datum surface in ellipsoidal terms; otherwise zero.
func (s *ElevationStack) resolveInvalidHeights(key tiling.TileKey, hf *raster.Heightfield) {
	datum := key.Profile.SRS().Vertical
	w, h := hf.Width(), hf.Height()
	ext := key.Extent()
	toGeodetic := geo.Operation{}
	if datum != "" && !ext.SRS.IsGeodetic() {
		toGeodetic = ext.SRS.To(ext.SRS.Geodetic())
	}
	dx := ext.Width() / float64(w-1)
	dy := ext.Height() / float64(h-1)
	for row := range h {
		for col := range w {
			if raster.ValidHeight(hf.HeightAt(col, row)) {
				continue
			}
			v := float32(0)
			if datum != "" {
				lon := ext.XMin + dx*float64(col)
				lat := ext.YMax - dy*float64(row)
				if toGeodetic.Valid() {
					p := toGeodetic.Transform(geo.Point{X: lon, Y: lat})
					lon, lat = p.X, p.Y
				}
				if gh, ok := geo.VerticalDatumHeight(datum, lat, lon); ok {
					v = float32(gh)
				}
			}
			hf.SetHeight(col, row, v)
		}
	}
}

type stackCacheKey struct {
	uid int64
	key tiling.TileKey
}

// stackCache memoizes layer results for the duration of one populate call.
// Misses are cached too so a layer with no data is asked only once.
type stackCache struct {
	m map[stackCacheKey]raster.GeoHeightfield
}

func newStackCache() *stackCache {
	return &stackCache{m: make(map[stackCacheKey]raster.GeoHeightfield)}
}

func (c *stackCache) fetch(ctx context.Context, l *ElevationLayer, key tiling.TileKey) (raster.GeoHeightfield, error) {
	k := stackCacheKey{uid: l.UID(), key: key}
	if v, ok := c.m[k]; ok {
		return v, nil
	}
	ghf, err := l.CreateHeightfield(ctx, key)
	if err != nil {
		return raster.GeoHeightfield{}, err
	}
	if len(c.m) >= stackCacheCap {
		clear(c.m)
	}
	c.m[k] = ghf
	return ghf, nil
}
