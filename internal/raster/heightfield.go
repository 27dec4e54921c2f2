// Package raster provides in-memory sample grids: float32 heightfields and
// RGBA images, plus georeferenced wrappers that support point sampling.
package raster

import "math"

// NoData is the canonical no-data sentinel for elevation samples. All invalid
// heights are normalized to this value before a raster is published.
const NoData = float32(-math.MaxFloat32)

// MaxDim is the largest raster edge a driver may produce.
const MaxDim = 1024

// Interpolation selects the point-sampling kernel.
type Interpolation int

const (
	Bilinear Interpolation = iota
	Nearest
)

// Heightfield is a dense row-major float32 elevation grid. The producer
// mutates it during construction; once published it is read-only.
type Heightfield struct {
	w, h int
	data []float32
}

func NewHeightfield(w, h int) *Heightfield {
	return &Heightfield{w: w, h: h, data: make([]float32, w*h)}
}

func (f *Heightfield) Width() int  { return f.w }
func (f *Heightfield) Height() int { return f.h }

// Data exposes the raw sample buffer. Row-major, no padding.
func (f *Heightfield) Data() []float32 { return f.data }

func (f *Heightfield) HeightAt(col, row int) float32 {
	return f.data[row*f.w+col]
}

func (f *Heightfield) SetHeight(col, row int, v float32) {
	f.data[row*f.w+col] = v
}

func (f *Heightfield) Fill(v float32) {
	for i := range f.data {
		f.data[i] = v
	}
}

// ForEach applies fn to every sample in place.
func (f *Heightfield) ForEach(fn func(v float32) float32) {
	for i, v := range f.data {
		f.data[i] = fn(v)
	}
}

// Clone deep-copies the grid.
func (f *Heightfield) Clone() *Heightfield {
	out := NewHeightfield(f.w, f.h)
	copy(out.data, f.data)
	return out
}

// CopyFrom overwrites this grid with src. Dimensions must match; the
// single-contender fast path in the compositor relies on this being a plain
// buffer copy.
func (f *Heightfield) CopyFrom(src *Heightfield) bool {
	if src == nil || src.w != f.w || src.h != f.h {
		return false
	}
	copy(f.data, src.data)
	return true
}

// sample interpolates at fractional pixel coordinates. No-data and NaN
// neighbors are excluded from the bilinear weights so they do not bleed into
// valid terrain; if every neighbor is invalid the result is NoData.
func (f *Heightfield) sample(fx, fy float64, interp Interpolation) float32 {
	if f.w == 0 || f.h == 0 {
		return NoData
	}
	if interp == Nearest {
		col := clamp(int(math.Floor(fx+0.5)), 0, f.w-1)
		row := clamp(int(math.Floor(fy+0.5)), 0, f.h-1)
		return f.HeightAt(col, row)
	}

	x0 := clamp(int(math.Floor(fx)), 0, f.w-1)
	y0 := clamp(int(math.Floor(fy)), 0, f.h-1)
	x1 := clamp(x0+1, 0, f.w-1)
	y1 := clamp(y0+1, 0, f.h-1)
	dx := fx - math.Floor(fx)
	dy := fy - math.Floor(fy)

	var sum, wsum float64
	accum := func(v float32, w float64) {
		if w == 0 || !ValidHeight(v) {
			return
		}
		sum += float64(v) * w
		wsum += w
	}
	accum(f.HeightAt(x0, y0), (1-dx)*(1-dy))
	accum(f.HeightAt(x1, y0), dx*(1-dy))
	accum(f.HeightAt(x0, y1), (1-dx)*dy)
	accum(f.HeightAt(x1, y1), dx*dy)

	if wsum == 0 {
		return NoData
	}
	return float32(sum / wsum)
}

// ValidHeight reports whether v is a usable sample.
func ValidHeight(v float32) bool {
	return v != NoData && !math.IsNaN(float64(v))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
