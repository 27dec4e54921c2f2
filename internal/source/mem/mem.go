// Package mem provides a synthetic in-memory data driver. It serves as the
// default backend for the demo server and as the reference driver in tests:
// elevation is an analytic function of position, imagery is a plain gradient,
// so any tile can be produced without I/O and results are reproducible.
package mem

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync"

	"github.com/tylerbrawl/rocky/internal/geo"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/source"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// Config shapes the synthetic dataset.
type Config struct {
	Profile      tiling.Profile
	DataExtents  []source.DataExtent
	MaxDataLevel int
	// Amplitude of the synthetic terrain in meters.
	Amplitude float64
	// Wavelength of the terrain undulation in degrees.
	Wavelength float64
}

// FromURI builds a Config from a mem:// URI, e.g.
// mem://mercator?amplitude=1200&wavelength=25&maxlevel=15. The host selects
// the profile; geodetic is the default.
func FromURI(uri string) (Config, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Config{}, fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if u.Scheme != "mem" {
		return Config{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	cfg := Config{}
	switch u.Host {
	case "", "geodetic":
		cfg.Profile = tiling.GlobalGeodetic()
	case "mercator":
		cfg.Profile = tiling.SphericalMercatorProfile()
	default:
		return Config{}, fmt.Errorf("unknown profile %q", u.Host)
	}
	q := u.Query()
	if v := q.Get("amplitude"); v != "" {
		if cfg.Amplitude, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("amplitude: %w", err)
		}
	}
	if v := q.Get("wavelength"); v != "" {
		if cfg.Wavelength, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("wavelength: %w", err)
		}
	}
	if v := q.Get("maxlevel"); v != "" {
		if cfg.MaxDataLevel, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("maxlevel: %w", err)
		}
	}
	return cfg, nil
}

// Driver generates heightfields and images analytically. Each instance is
// independent; layers create one per pool worker.
type Driver struct {
	mu     sync.Mutex
	cfg    Config
	opts   source.Options
	opened bool
}

func New(cfg Config) *Driver {
	if !cfg.Profile.Valid() {
		cfg.Profile = tiling.GlobalGeodetic()
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 1000
	}
	if cfg.Wavelength == 0 {
		cfg.Wavelength = 30
	}
	if cfg.MaxDataLevel == 0 {
		cfg.MaxDataLevel = 19
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) Open(_ context.Context, _ string, opts source.Options, _ int) (source.OpenInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = opts
	d.opened = true

	extents := d.cfg.DataExtents
	if len(extents) == 0 {
		extents = []source.DataExtent{{
			Extent:   d.cfg.Profile.Extent(),
			MinLevel: 0,
			MaxLevel: d.cfg.MaxDataLevel,
		}}
	}
	return source.OpenInfo{Profile: d.cfg.Profile, DataExtents: extents}, nil
}

func (d *Driver) Intersects(key tiling.TileKey) bool {
	ext := key.Extent()
	for _, de := range d.dataExtents() {
		if de.Extent.Intersects(ext) {
			return true
		}
	}
	return false
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

// ElevationAt is the analytic terrain function, exported so tests can compare
// sampled output against ground truth.
func (d *Driver) ElevationAt(lon, lat float64) float32 {
	k := 2 * math.Pi / d.cfg.Wavelength
	return float32(d.cfg.Amplitude * math.Sin(k*lon) * math.Cos(k*lat))
}

func (d *Driver) CreateHeightfield(ctx context.Context, key tiling.TileKey, tileSize int) (*raster.Heightfield, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key.Level > d.maxLevel() || !d.Intersects(key) {
		return nil, nil
	}
	ext := key.Extent()
	geodetic := ext
	if !ext.SRS.IsGeodetic() {
		geodetic = ext.Transform(geo.WGS84())
	}
	hf := raster.NewHeightfield(tileSize, tileSize)
	dx := geodetic.Width() / float64(tileSize-1)
	dy := geodetic.Height() / float64(tileSize-1)
	for row := 0; row < tileSize; row++ {
		lat := geodetic.YMax - dy*float64(row)
		for col := 0; col < tileSize; col++ {
			lon := geodetic.XMin + dx*float64(col)
			hf.SetHeight(col, row, d.ElevationAt(lon, lat))
		}
	}
	return hf, nil
}

func (d *Driver) CreateImage(ctx context.Context, key tiling.TileKey, tileSize int) (*raster.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key.Level > d.maxLevel() || !d.Intersects(key) {
		return nil, nil
	}
	ext := key.Extent()
	root := key.Profile.Extent()
	img := raster.NewImage(tileSize, tileSize)
	for row := 0; row < tileSize; row++ {
		y := ext.YMax - ext.Height()*(float64(row)+0.5)/float64(tileSize)
		g := uint8(255 * (y - root.YMin) / root.Height())
		for col := 0; col < tileSize; col++ {
			x := ext.XMin + ext.Width()*(float64(col)+0.5)/float64(tileSize)
			r := uint8(255 * (x - root.XMin) / root.Width())
			img.WritePixel(col, row, raster.Pixel{r, g, 128, 255})
		}
	}
	return img, nil
}

func (d *Driver) dataExtents() []source.DataExtent {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cfg.DataExtents) > 0 {
		return d.cfg.DataExtents
	}
	return []source.DataExtent{{
		Extent:   d.cfg.Profile.Extent(),
		MinLevel: 0,
		MaxLevel: d.cfg.MaxDataLevel,
	}}
}

func (d *Driver) maxLevel() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.MaxDataLevel > 0 && d.opts.MaxDataLevel < d.cfg.MaxDataLevel {
		return d.opts.MaxDataLevel
	}
	return d.cfg.MaxDataLevel
}
