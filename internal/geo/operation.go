package geo

// Point is a 3-D coordinate in some SRS. Z carries elevation through
// transforms untouched except for vertical datum shifts.
type Point struct {
	X, Y, Z float64
}

// Operation converts coordinates from a source SRS to a destination SRS,
// including a vertical datum shift when both datums resolve to a geoid.
// The zero Operation is invalid; an identity transform is still valid.
type Operation struct {
	src, dst SRS
	identity bool
	valid    bool
}

// To builds the transform from s to dst. Returns an invalid Operation when
// either SRS is unknown.
func (s SRS) To(dst SRS) Operation {
	if !s.Valid() || !dst.Valid() {
		return Operation{}
	}
	return Operation{
		src:      s,
		dst:      dst,
		identity: s == dst,
		valid:    true,
	}
}

func (op Operation) Valid() bool { return op.valid }

// Transform converts a single point from the source to the destination SRS.
func (op Operation) Transform(p Point) Point {
	if !op.valid || op.identity {
		return p
	}
	lon, lat := op.src.toWGS84(p.X, p.Y)
	z := op.shiftZ(lon, lat, p.Z, op.src.Vertical, op.dst.Vertical)
	x, y := op.dst.fromWGS84(lon, lat)
	return Point{X: x, Y: y, Z: z}
}

// Inverse converts a single point from the destination back to the source SRS.
func (op Operation) Inverse(p Point) Point {
	if !op.valid || op.identity {
		return p
	}
	lon, lat := op.dst.toWGS84(p.X, p.Y)
	z := op.shiftZ(lon, lat, p.Z, op.dst.Vertical, op.src.Vertical)
	x, y := op.src.fromWGS84(lon, lat)
	return Point{X: x, Y: y, Z: z}
}

// TransformArray converts points in place. Batching the whole grid through
// one call keeps the hot mosaic path free of per-pixel dispatch.
func (op Operation) TransformArray(pts []Point) {
	if !op.valid || op.identity {
		return
	}
	for i := range pts {
		pts[i] = op.Transform(pts[i])
	}
}

// InverseArray converts points in place from destination to source.
func (op Operation) InverseArray(pts []Point) {
	if !op.valid || op.identity {
		return
	}
	for i := range pts {
		pts[i] = op.Inverse(pts[i])
	}
}

// shiftZ rebases z from one vertical datum to another. Datums without a
// registered geoid are treated as ellipsoidal (no shift).
func (op Operation) shiftZ(lon, lat, z float64, from, to string) float64 {
	if from == to {
		return z
	}
	if g := lookupGeoid(from); g != nil {
		z += g.Height(lat, lon)
	}
	if g := lookupGeoid(to); g != nil {
		z -= g.Height(lat, lon)
	}
	return z
}
