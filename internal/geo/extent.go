package geo

import "math"

// GeoExtent is an axis-aligned bounding rectangle in a specific SRS.
// The zero value is invalid.
type GeoExtent struct {
	SRS                    SRS
	XMin, YMin, XMax, YMax float64
}

func NewExtent(srs SRS, xmin, ymin, xmax, ymax float64) GeoExtent {
	return GeoExtent{SRS: srs, XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax}
}

func (e GeoExtent) Valid() bool {
	return e.SRS.Valid() && e.XMax > e.XMin && e.YMax > e.YMin
}

func (e GeoExtent) Width() float64  { return e.XMax - e.XMin }
func (e GeoExtent) Height() float64 { return e.YMax - e.YMin }

func (e GeoExtent) Contains(x, y float64) bool {
	return x >= e.XMin && x <= e.XMax && y >= e.YMin && y <= e.YMax
}

// Intersects reports whether two extents in the same horizontal SRS overlap.
// Touching edges do not count as an intersection.
func (e GeoExtent) Intersects(o GeoExtent) bool {
	if !e.Valid() || !o.Valid() {
		return false
	}
	return e.XMin < o.XMax && e.XMax > o.XMin && e.YMin < o.YMax && e.YMax > o.YMin
}

// Transform reprojects the extent by projecting all four corners and taking
// the extremes.
func (e GeoExtent) Transform(dst SRS) GeoExtent {
	if !e.Valid() {
		return GeoExtent{}
	}
	op := e.SRS.To(dst)
	if !op.Valid() {
		return GeoExtent{}
	}
	corners := []Point{
		{X: e.XMin, Y: e.YMin},
		{X: e.XMin, Y: e.YMax},
		{X: e.XMax, Y: e.YMin},
		{X: e.XMax, Y: e.YMax},
	}
	op.TransformArray(corners)
	out := GeoExtent{
		SRS:  dst,
		XMin: math.Inf(1), YMin: math.Inf(1),
		XMax: math.Inf(-1), YMax: math.Inf(-1),
	}
	for _, c := range corners {
		out.XMin = math.Min(out.XMin, c.X)
		out.YMin = math.Min(out.YMin, c.Y)
		out.XMax = math.Max(out.XMax, c.X)
		out.YMax = math.Max(out.YMax, c.Y)
	}
	return out
}
