package raster

import "github.com/tylerbrawl/rocky/internal/geo"

// GeoHeightfield pairs a heightfield with the extent it covers. Heightfields
// are grid-registered: the outer sample rows and columns lie on the extent
// edges, so the sample interval is width/(w-1).
type GeoHeightfield struct {
	hf     *Heightfield
	extent geo.GeoExtent
}

func NewGeoHeightfield(hf *Heightfield, extent geo.GeoExtent) GeoHeightfield {
	return GeoHeightfield{hf: hf, extent: extent}
}

func (g GeoHeightfield) Valid() bool {
	return g.hf != nil && g.extent.Valid()
}

func (g GeoHeightfield) Heightfield() *Heightfield { return g.hf }
func (g GeoHeightfield) Extent() geo.GeoExtent     { return g.extent }
func (g GeoHeightfield) SRS() geo.SRS              { return g.extent.SRS }

// XInterval is the horizontal distance between adjacent samples, used to
// order mosaic sources finest-first.
func (g GeoHeightfield) XInterval() float64 {
	if !g.Valid() || g.hf.Width() < 2 {
		return 0
	}
	return g.extent.Width() / float64(g.hf.Width()-1)
}

// HeightAt samples the field at a location given in the extent's own SRS.
// Locations outside the extent yield NoData so mosaicking can move on to the
// next source.
func (g GeoHeightfield) HeightAt(x, y float64, interp Interpolation) float32 {
	if !g.Valid() || !g.extent.Contains(x, y) {
		return NoData
	}
	fx := (x - g.extent.XMin) / g.extent.Width() * float64(g.hf.Width()-1)
	fy := (g.extent.YMax - y) / g.extent.Height() * float64(g.hf.Height()-1)
	return g.hf.sample(fx, fy, interp)
}

// HeightAtSRS samples at a location given in a different SRS, transforming
// the query point in and the sampled height back out so vertical datum
// differences round-trip correctly.
func (g GeoHeightfield) HeightAtSRS(x, y float64, srs geo.SRS, interp Interpolation) float32 {
	if !g.Valid() {
		return NoData
	}
	if srs.Equals(g.extent.SRS) {
		return g.HeightAt(x, y, interp)
	}
	op := srs.To(g.extent.SRS)
	if !op.Valid() {
		return NoData
	}
	p := op.Transform(geo.Point{X: x, Y: y})
	h := g.HeightAt(p.X, p.Y, interp)
	if !ValidHeight(h) {
		return NoData
	}
	back := op.Inverse(geo.Point{X: p.X, Y: p.Y, Z: float64(h)})
	return float32(back.Z)
}

// GeoImage pairs an image with the extent it covers. Images are
// cell-registered: samples sit at pixel centers.
type GeoImage struct {
	img    *Image
	extent geo.GeoExtent
}

func NewGeoImage(img *Image, extent geo.GeoExtent) GeoImage {
	return GeoImage{img: img, extent: extent}
}

func (g GeoImage) Valid() bool {
	return g.img != nil && g.extent.Valid()
}

func (g GeoImage) Image() *Image          { return g.img }
func (g GeoImage) Extent() geo.GeoExtent  { return g.extent }
func (g GeoImage) SRS() geo.SRS           { return g.extent.SRS }

func (g GeoImage) XInterval() float64 {
	if !g.Valid() || g.img.Width() == 0 {
		return 0
	}
	return g.extent.Width() / float64(g.img.Width())
}

// ReadAt samples the image at a location in the extent's own SRS. The second
// return value is false when the location falls outside the extent.
func (g GeoImage) ReadAt(x, y float64, interp Interpolation) (Pixel, bool) {
	if !g.Valid() || !g.extent.Contains(x, y) {
		return Pixel{}, false
	}
	fx := (x-g.extent.XMin)/g.extent.Width()*float64(g.img.Width()) - 0.5
	fy := (g.extent.YMax-y)/g.extent.Height()*float64(g.img.Height()) - 0.5
	return g.img.sample(fx, fy, interp), true
}
