package raster

import "math"

// Pixel is an RGBA sample. Alpha zero marks no-data.
type Pixel [4]uint8

// Image is a dense row-major RGBA grid. Same ownership rules as Heightfield:
// mutable during construction, read-only once published.
type Image struct {
	w, h int
	pix  []uint8
}

func NewImage(w, h int) *Image {
	return &Image{w: w, h: h, pix: make([]uint8, w*h*4)}
}

func (m *Image) Width() int  { return m.w }
func (m *Image) Height() int { return m.h }

// Pix exposes the raw RGBA buffer, 4 bytes per sample, row-major.
func (m *Image) Pix() []uint8 { return m.pix }

func (m *Image) ReadPixel(col, row int) Pixel {
	off := (row*m.w + col) * 4
	return Pixel{m.pix[off], m.pix[off+1], m.pix[off+2], m.pix[off+3]}
}

func (m *Image) WritePixel(col, row int, p Pixel) {
	off := (row*m.w + col) * 4
	m.pix[off], m.pix[off+1], m.pix[off+2], m.pix[off+3] = p[0], p[1], p[2], p[3]
}

func (m *Image) Clone() *Image {
	out := NewImage(m.w, m.h)
	copy(out.pix, m.pix)
	return out
}

// sample interpolates at fractional pixel coordinates. Alpha-zero neighbors
// are excluded from the RGB weights; alpha itself interpolates with the full
// weights so data edges fade smoothly.
func (m *Image) sample(fx, fy float64, interp Interpolation) Pixel {
	if m.w == 0 || m.h == 0 {
		return Pixel{}
	}
	if interp == Nearest {
		col := clamp(int(math.Floor(fx+0.5)), 0, m.w-1)
		row := clamp(int(math.Floor(fy+0.5)), 0, m.h-1)
		return m.ReadPixel(col, row)
	}

	x0 := clamp(int(math.Floor(fx)), 0, m.w-1)
	y0 := clamp(int(math.Floor(fy)), 0, m.h-1)
	x1 := clamp(x0+1, 0, m.w-1)
	y1 := clamp(y0+1, 0, m.h-1)
	dx := fx - math.Floor(fx)
	dy := fy - math.Floor(fy)

	corners := [4]Pixel{
		m.ReadPixel(x0, y0), m.ReadPixel(x1, y0),
		m.ReadPixel(x0, y1), m.ReadPixel(x1, y1),
	}
	weights := [4]float64{
		(1 - dx) * (1 - dy), dx * (1 - dy),
		(1 - dx) * dy, dx * dy,
	}

	var r, g, b, a, wRGB float64
	for i, p := range corners {
		w := weights[i]
		a += float64(p[3]) * w
		if p[3] == 0 {
			continue
		}
		r += float64(p[0]) * w
		g += float64(p[1]) * w
		b += float64(p[2]) * w
		wRGB += w
	}
	if wRGB == 0 {
		return Pixel{}
	}
	return Pixel{
		clampByte(r / wRGB), clampByte(g / wRGB), clampByte(b / wRGB),
		clampByte(a),
	}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
