// Package geo provides spatial reference systems, geographic extents and
// coordinate transforms for the tile engine.
package geo

import "math"

const (
	// EPSGGeodetic is plain WGS84 longitude/latitude in degrees.
	EPSGGeodetic = 4326
	// EPSGSphericalMercator is the web mercator projection used by most
	// slippy-map tile sets.
	EPSGSphericalMercator = 3857
)

const earthRadius = 6378137.0

// SRS identifies a horizontal spatial reference plus an optional vertical
// datum. The zero value is invalid.
type SRS struct {
	EPSG     int
	Vertical string
}

func WGS84() SRS             { return SRS{EPSG: EPSGGeodetic} }
func SphericalMercator() SRS { return SRS{EPSG: EPSGSphericalMercator} }

// WGS84WithVerticalDatum returns a geodetic SRS whose heights are relative to
// the named vertical datum (see RegisterVerticalDatum).
func WGS84WithVerticalDatum(name string) SRS {
	return SRS{EPSG: EPSGGeodetic, Vertical: name}
}

func (s SRS) Valid() bool {
	return s.EPSG == EPSGGeodetic || s.EPSG == EPSGSphericalMercator
}

func (s SRS) IsGeodetic() bool { return s.EPSG == EPSGGeodetic }

// Geodetic returns the geodetic SRS with the same vertical datum stripped.
func (s SRS) Geodetic() SRS { return SRS{EPSG: EPSGGeodetic} }

// HorizontalEquals reports whether two SRS share the horizontal reference,
// ignoring vertical datums.
func (s SRS) HorizontalEquals(o SRS) bool { return s.EPSG == o.EPSG }

func (s SRS) Equals(o SRS) bool { return s == o }

// toWGS84 converts projected coordinates to lon/lat degrees.
func (s SRS) toWGS84(x, y float64) (lon, lat float64) {
	switch s.EPSG {
	case EPSGSphericalMercator:
		lon = x / earthRadius * 180 / math.Pi
		lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
		return lon, lat
	default:
		return x, y
	}
}

// fromWGS84 converts lon/lat degrees to projected coordinates.
func (s SRS) fromWGS84(lon, lat float64) (x, y float64) {
	switch s.EPSG {
	case EPSGSphericalMercator:
		x = lon * math.Pi / 180 * earthRadius
		lat = clampLat(lat)
		y = earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
		return x, y
	default:
		return lon, lat
	}
}

// web mercator is undefined at the poles
func clampLat(lat float64) float64 {
	const limit = 85.0511287798
	if lat > limit {
		return limit
	}
	if lat < -limit {
		return -limit
	}
	return lat
}
