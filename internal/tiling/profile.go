// Package tiling defines quadtree tiling schemes (profiles) and tile
// addresses (keys) over them.
package tiling

import (
	"math"

	"github.com/tylerbrawl/rocky/internal/geo"
)

// Profile is a tiling scheme: a spatial reference, a root extent and the
// number of tiles at level zero. Two profiles may share an SRS but lay their
// quadtrees out differently. Profiles are small value types; compare with
// Equals.
type Profile struct {
	name       string
	srs        geo.SRS
	extent     geo.GeoExtent
	baseTilesX int
	baseTilesY int
}

const mercatorBound = 20037508.342789244

// GlobalGeodetic is the WGS84 lat/lon profile with two root tiles side by
// side.
func GlobalGeodetic() Profile {
	return Profile{
		name:       "global-geodetic",
		srs:        geo.WGS84(),
		extent:     geo.NewExtent(geo.WGS84(), -180, -90, 180, 90),
		baseTilesX: 2,
		baseTilesY: 1,
	}
}

// SphericalMercatorProfile is the web mercator profile with a single root
// tile.
func SphericalMercatorProfile() Profile {
	return Profile{
		name:       "spherical-mercator",
		srs:        geo.SphericalMercator(),
		extent:     geo.NewExtent(geo.SphericalMercator(), -mercatorBound, -mercatorBound, mercatorBound, mercatorBound),
		baseTilesX: 1,
		baseTilesY: 1,
	}
}

// GeodeticWithVerticalDatum returns the global-geodetic layout with heights
// referenced to the named vertical datum.
func GeodeticWithVerticalDatum(datum string) Profile {
	p := GlobalGeodetic()
	p.srs = geo.WGS84WithVerticalDatum(datum)
	p.extent.SRS = p.srs
	p.name = "global-geodetic/" + datum
	return p
}

func (p Profile) Valid() bool {
	return p.baseTilesX > 0 && p.baseTilesY > 0 && p.extent.Valid()
}

func (p Profile) Name() string          { return p.name }
func (p Profile) SRS() geo.SRS          { return p.srs }
func (p Profile) Extent() geo.GeoExtent { return p.extent }

// NoVerticalDatum strips the vertical datum, keeping the tiling layout.
// Elevation compositing samples in a height-above-ellipsoid frame this way.
func (p Profile) NoVerticalDatum() Profile {
	p.srs.Vertical = ""
	p.extent.SRS.Vertical = ""
	return p
}

func (p Profile) Equals(o Profile) bool {
	return p.srs.Equals(o.srs) &&
		p.baseTilesX == o.baseTilesX && p.baseTilesY == o.baseTilesY &&
		p.extent == o.extent
}

// HorizontalEquals ignores vertical datums when comparing layouts.
func (p Profile) HorizontalEquals(o Profile) bool {
	return p.srs.HorizontalEquals(o.srs) &&
		p.baseTilesX == o.baseTilesX && p.baseTilesY == o.baseTilesY
}

// NumTiles returns the tile counts along each axis at a level.
func (p Profile) NumTiles(level int) (nx, ny int) {
	return p.baseTilesX << uint(level), p.baseTilesY << uint(level)
}

// TileDims returns the width and height of one tile at a level, in the
// profile's SRS units.
func (p Profile) TileDims(level int) (dx, dy float64) {
	nx, ny := p.NumTiles(level)
	return p.extent.Width() / float64(nx), p.extent.Height() / float64(ny)
}

// TileExtent computes the extent of tile (x, y) at a level. Tile y runs from
// the top (north) edge downward.
func (p Profile) TileExtent(level, x, y int) geo.GeoExtent {
	dx, dy := p.TileDims(level)
	xmin := p.extent.XMin + dx*float64(x)
	ymax := p.extent.YMax - dy*float64(y)
	return geo.NewExtent(p.srs, xmin, ymax-dy, xmin+dx, ymax)
}

// degreesPerTile is the tile width at a level expressed in degrees, used to
// compare resolution across profiles with different SRS.
func (p Profile) degreesPerTile(level int) float64 {
	ext := p.extent
	if !p.srs.IsGeodetic() {
		ext = ext.Transform(geo.WGS84())
	}
	nx, _ := p.NumTiles(level)
	return ext.Width() / float64(nx)
}

// EquivalentLevel returns the level in p whose tile resolution most closely
// matches other's resolution at otherLevel.
func (p Profile) EquivalentLevel(other Profile, otherLevel int) int {
	if p.HorizontalEquals(other) {
		return otherLevel
	}
	target := other.degreesPerTile(otherLevel)
	best, bestDiff := 0, math.Inf(1)
	for level := 0; level <= otherLevel+4; level++ {
		diff := math.Abs(p.degreesPerTile(level) - target)
		if diff < bestDiff {
			best, bestDiff = level, diff
		}
	}
	return best
}
