package layer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tylerbrawl/rocky/internal/geo"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/source"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// fakeDriver is a scriptable elevation driver: constant fill inside an
// optional valid extent, no tiles past sparseAbove, and call counting so
// tests can assert on caching behavior.
type fakeDriver struct {
	mu sync.Mutex

	profile tiling.Profile
	extents []source.DataExtent

	fill        float32
	validExtent *geo.GeoExtent // NoData outside, nil means everywhere
	sparseAbove int            // levels above this have no tiles; <0 disables

	openErr   error
	createErr error

	openCalls   int
	createCalls int
}

func newFakeDriver(fill float32) *fakeDriver {
	p := tiling.GlobalGeodetic()
	return &fakeDriver{
		profile:     p,
		extents:     []source.DataExtent{{Extent: p.Extent(), MinLevel: 0, MaxLevel: 10}},
		fill:        fill,
		sparseAbove: -1,
	}
}

func (d *fakeDriver) Open(_ context.Context, _ string, _ source.Options, _ int) (source.OpenInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openCalls++
	if d.openErr != nil {
		return source.OpenInfo{}, d.openErr
	}
	return source.OpenInfo{Profile: d.profile, DataExtents: d.extents}, nil
}

func (d *fakeDriver) Intersects(key tiling.TileKey) bool {
	ext := key.Extent()
	for _, de := range d.extents {
		if de.Extent.Intersects(ext) {
			return true
		}
	}
	return false
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) calls() (open, create int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCalls, d.createCalls
}

func (d *fakeDriver) CreateHeightfield(ctx context.Context, key tiling.TileKey, tileSize int) (*raster.Heightfield, error) {
	d.mu.Lock()
	d.createCalls++
	err := d.createErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.sparseAbove >= 0 && key.Level > d.sparseAbove {
		return nil, nil
	}
	if !d.Intersects(key) {
		return nil, nil
	}

	ext := key.Extent()
	hf := raster.NewHeightfield(tileSize, tileSize)
	dx := ext.Width() / float64(tileSize-1)
	dy := ext.Height() / float64(tileSize-1)
	for row := 0; row < tileSize; row++ {
		y := ext.YMax - dy*float64(row)
		for col := 0; col < tileSize; col++ {
			x := ext.XMin + dx*float64(col)
			v := d.fill
			if d.validExtent != nil && !d.validExtent.Contains(x, y) {
				v = raster.NoData
			}
			hf.SetHeight(col, row, v)
		}
	}
	return hf, nil
}

func newTestElevation(cfg ElevationConfig, d *fakeDriver) *ElevationLayer {
	return NewElevationLayer(cfg, func() (source.Driver, error) {
		return d, nil
	}, zerolog.Nop())
}

func openTestElevation(cfg ElevationConfig, d *fakeDriver) *ElevationLayer {
	l := newTestElevation(cfg, d)
	if err := l.Open(context.Background()); err != nil {
		panic(err)
	}
	return l
}
