// Package source defines the boundary between the tile engine and
// format-specific data drivers. A driver knows how to open one dataset,
// report its profile and coverage, and produce rasters for tile keys.
package source

import (
	"context"

	"github.com/tylerbrawl/rocky/internal/geo"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// DataExtent is a region of the dataset known to contain data, with the
// level range at which it is available. MaxLevel < 0 means unbounded.
type DataExtent struct {
	Extent   geo.GeoExtent
	MinLevel int
	MaxLevel int
}

// Options carries the value-validity policy a layer pushes down into its
// driver.
type Options struct {
	NoDataValue   float32
	MinValidValue float32
	MaxValidValue float32
	MaxDataLevel  int
}

// OpenInfo is what a driver discovers about its dataset on open.
type OpenInfo struct {
	Profile     tiling.Profile
	DataExtents []DataExtent
}

// Driver is the common surface of every data driver. Implementations are not
// required to be safe for concurrent use; layers run them through a Pool.
type Driver interface {
	Open(ctx context.Context, name string, opts Options, tileSize int) (OpenInfo, error)
	Intersects(key tiling.TileKey) bool
	Close() error
}

// ElevationDriver produces heightfields. A nil heightfield with a nil error
// means "no data here", distinct from failure.
type ElevationDriver interface {
	Driver
	CreateHeightfield(ctx context.Context, key tiling.TileKey, tileSize int) (*raster.Heightfield, error)
}

// ImageDriver produces color rasters. Elevation layers configured with the
// mapboxrgb encoding also consume an ImageDriver and decode its output.
type ImageDriver interface {
	Driver
	CreateImage(ctx context.Context, key tiling.TileKey, tileSize int) (*raster.Image, error)
}
