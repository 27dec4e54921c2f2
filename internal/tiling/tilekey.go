package tiling

import (
	"fmt"
	"math"

	"github.com/tylerbrawl/rocky/internal/geo"
)

// TileKey addresses one quadtree cell in a profile. Keys are value types;
// the zero value is invalid.
type TileKey struct {
	Level   int
	X, Y    int
	Profile Profile
}

func NewTileKey(level, x, y int, p Profile) TileKey {
	return TileKey{Level: level, X: x, Y: y, Profile: p}
}

func (k TileKey) Valid() bool {
	if !k.Profile.Valid() || k.Level < 0 || k.X < 0 || k.Y < 0 {
		return false
	}
	nx, ny := k.Profile.NumTiles(k.Level)
	return k.X < nx && k.Y < ny
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Level, k.X, k.Y)
}

func (k TileKey) Extent() geo.GeoExtent {
	if !k.Valid() {
		return geo.GeoExtent{}
	}
	return k.Profile.TileExtent(k.Level, k.X, k.Y)
}

// Parent returns the key one level up; level zero has no parent and yields
// an invalid key, which terminates fallback walks.
func (k TileKey) Parent() TileKey {
	if !k.Valid() || k.Level == 0 {
		return TileKey{}
	}
	return TileKey{Level: k.Level - 1, X: k.X / 2, Y: k.Y / 2, Profile: k.Profile}
}

// Equals compares level, position and profile layout.
func (k TileKey) Equals(o TileKey) bool {
	return k.Level == o.Level && k.X == o.X && k.Y == o.Y && k.Profile.Equals(o.Profile)
}

// Resolution returns the per-sample resolution (SRS units per pixel) of this
// tile when rendered at the given raster size.
func (k TileKey) Resolution(tileSize int) (rx, ry float64) {
	if tileSize <= 0 || !k.Valid() {
		return 0, 0
	}
	dx, dy := k.Profile.TileDims(k.Level)
	return dx / float64(tileSize), dy / float64(tileSize)
}

// MapResolution adjusts the key for a tile-size differential between the
// requested raster and a layer's native tiles: when the output raster is
// smaller than the layer tile, an ancestor key already carries equivalent
// detail, so walk up until the doubled output size reaches the layer size.
func (k TileKey) MapResolution(targetSize, layerSize int) TileKey {
	if k.Level == 0 || targetSize >= layerSize {
		return k
	}
	if targetSize < 2 {
		targetSize = 2
	}
	size := nextPowerOf2(targetSize)
	level := k.Level
	for size < layerSize && level > 0 {
		size *= 2
		level--
	}
	shift := uint(k.Level - level)
	return TileKey{Level: level, X: k.X >> shift, Y: k.Y >> shift, Profile: k.Profile}
}

// IntersectingKeys returns the keys in the target profile, at the level of
// detail equivalent to k's, whose extents overlap k's extent.
func (k TileKey) IntersectingKeys(target Profile) []TileKey {
	if !k.Valid() || !target.Valid() {
		return nil
	}
	level := target.EquivalentLevel(k.Profile, k.Level)
	return IntersectingKeysAtLevel(k.Extent(), level, target)
}

// IntersectingKeysAtLevel enumerates the keys at one level of a profile whose
// extents overlap ext. The extent is reprojected into the profile's SRS when
// needed.
func IntersectingKeysAtLevel(ext geo.GeoExtent, level int, p Profile) []TileKey {
	if !ext.Valid() || !p.Valid() || level < 0 {
		return nil
	}
	if !ext.SRS.HorizontalEquals(p.SRS()) {
		ext = ext.Transform(p.SRS())
	}
	root := p.Extent()
	if !ext.Intersects(root) {
		return nil
	}
	dx, dy := p.TileDims(level)
	nx, ny := p.NumTiles(level)

	// quantize to the covering tile range, clamped to the root grid
	x0 := clampInt(int(math.Floor((ext.XMin-root.XMin)/dx)), 0, nx-1)
	x1 := clampInt(int(math.Ceil((ext.XMax-root.XMin)/dx))-1, 0, nx-1)
	y0 := clampInt(int(math.Floor((root.YMax-ext.YMax)/dy)), 0, ny-1)
	y1 := clampInt(int(math.Ceil((root.YMax-ext.YMin)/dy))-1, 0, ny-1)

	keys := make([]TileKey, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			k := TileKey{Level: level, X: x, Y: y, Profile: p}
			if k.Extent().Intersects(ext) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nextPowerOf2(v int) int {
	n := 1
	for n < v {
		n *= 2
	}
	return n
}
