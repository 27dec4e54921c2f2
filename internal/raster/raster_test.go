package raster

import (
	"math"
	"testing"

	"github.com/tylerbrawl/rocky/internal/geo"
)

func TestHeightfieldFillAndClone(t *testing.T) {
	hf := NewHeightfield(4, 3)
	hf.Fill(7)
	hf.SetHeight(2, 1, 42)

	cp := hf.Clone()
	cp.SetHeight(0, 0, -1)
	if hf.HeightAt(0, 0) != 7 {
		t.Fatalf("clone aliases the original")
	}
	if cp.HeightAt(2, 1) != 42 {
		t.Fatalf("clone lost data")
	}
}

func TestCopyFrom_RequiresMatchingDims(t *testing.T) {
	dst := NewHeightfield(4, 4)
	if dst.CopyFrom(NewHeightfield(5, 4)) {
		t.Fatalf("mismatched dims must not copy")
	}
	src := NewHeightfield(4, 4)
	src.Fill(3)
	if !dst.CopyFrom(src) {
		t.Fatalf("copy failed")
	}
	if dst.HeightAt(3, 3) != 3 {
		t.Fatalf("copy incomplete")
	}
}

func TestValidHeight(t *testing.T) {
	if ValidHeight(NoData) {
		t.Fatalf("NoData must be invalid")
	}
	if ValidHeight(float32(math.NaN())) {
		t.Fatalf("NaN must be invalid")
	}
	if !ValidHeight(0) || !ValidHeight(-12000) {
		t.Fatalf("plain values must be valid")
	}
}

func TestGeoHeightfield_BilinearSkipsNoData(t *testing.T) {
	hf := NewHeightfield(2, 2)
	hf.SetHeight(0, 0, 100)
	hf.SetHeight(1, 0, 100)
	hf.SetHeight(0, 1, NoData)
	hf.SetHeight(1, 1, NoData)
	g := NewGeoHeightfield(hf, geo.NewExtent(geo.WGS84(), 0, 0, 1, 1))

	// center sample: the two no-data neighbors drop out of the weights
	v := g.HeightAt(0.5, 0.5, Bilinear)
	if math.Abs(float64(v)-100) > 1e-4 {
		t.Fatalf("got %v, want 100", v)
	}

	// all-invalid neighborhood yields NoData
	hf.Fill(NoData)
	if got := g.HeightAt(0.5, 0.5, Bilinear); ValidHeight(got) {
		t.Fatalf("expected NoData, got %v", got)
	}
}

func TestGeoHeightfield_OutsideExtent(t *testing.T) {
	hf := NewHeightfield(3, 3)
	hf.Fill(5)
	g := NewGeoHeightfield(hf, geo.NewExtent(geo.WGS84(), 0, 0, 1, 1))
	if got := g.HeightAt(2, 0.5, Bilinear); ValidHeight(got) {
		t.Fatalf("sample outside extent must be NoData, got %v", got)
	}
}

func TestGeoHeightfield_GridRegistration(t *testing.T) {
	// a 3x3 grid over [0,1]: samples sit on 0, 0.5, 1
	hf := NewHeightfield(3, 3)
	for row := range 3 {
		for col := range 3 {
			hf.SetHeight(col, row, float32(col))
		}
	}
	g := NewGeoHeightfield(hf, geo.NewExtent(geo.WGS84(), 0, 0, 1, 1))
	if v := g.HeightAt(0.5, 0.5, Nearest); v != 1 {
		t.Fatalf("center sample = %v, want 1", v)
	}
	if v := g.HeightAt(1, 0, Nearest); v != 2 {
		t.Fatalf("east edge sample = %v, want 2", v)
	}
	if iv := g.XInterval(); math.Abs(iv-0.5) > 1e-12 {
		t.Fatalf("x interval = %v, want 0.5", iv)
	}
}

func TestGeoHeightfield_HeightAtSRS_VerticalShift(t *testing.T) {
	geo.RegisterVerticalDatum("test-geoid-b", geo.OffsetGeoid(20))

	hf := NewHeightfield(2, 2)
	hf.Fill(100)
	ext := geo.NewExtent(geo.WGS84WithVerticalDatum("test-geoid-b"), 0, 0, 1, 1)
	g := NewGeoHeightfield(hf, ext)

	// 100m above a geoid 20m over the ellipsoid is 120m HAE
	v := g.HeightAtSRS(0.5, 0.5, geo.WGS84(), Bilinear)
	if math.Abs(float64(v)-120) > 1e-4 {
		t.Fatalf("got %v, want 120", v)
	}
}

func TestGeoImage_AlphaAwareSampling(t *testing.T) {
	img := NewImage(2, 2)
	img.WritePixel(0, 0, Pixel{200, 0, 0, 255})
	img.WritePixel(1, 0, Pixel{200, 0, 0, 255})
	// bottom row transparent
	g := NewGeoImage(img, geo.NewExtent(geo.WGS84(), 0, 0, 1, 1))

	px, ok := g.ReadAt(0.5, 0.5, Bilinear)
	if !ok {
		t.Fatalf("sample inside extent reported outside")
	}
	if px[0] != 200 {
		t.Fatalf("transparent neighbors leaked into color: %v", px)
	}
	// alpha itself interpolates toward zero
	if px[3] == 0 || px[3] == 255 {
		t.Fatalf("alpha should be partial at the boundary: %v", px)
	}

	if _, ok := g.ReadAt(5, 5, Bilinear); ok {
		t.Fatalf("outside extent must report false")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	hf := NewHeightfield(3, 2)
	hf.SetHeight(0, 0, 1.5)
	hf.SetHeight(2, 1, NoData)
	buf := EncodeHeightfield(hf)
	got, err := DecodeHeightfield(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Width() != 3 || got.Height() != 2 {
		t.Fatalf("dims %dx%d", got.Width(), got.Height())
	}
	if got.HeightAt(0, 0) != 1.5 || ValidHeight(got.HeightAt(2, 1)) {
		t.Fatalf("samples corrupted")
	}

	img := NewImage(2, 2)
	img.WritePixel(1, 1, Pixel{1, 2, 3, 4})
	gi, err := DecodeImage(EncodeImage(img))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if gi.ReadPixel(1, 1) != (Pixel{1, 2, 3, 4}) {
		t.Fatalf("pixel corrupted")
	}
}

func TestCodecRejectsCorruptPayloads(t *testing.T) {
	if _, err := DecodeHeightfield(nil); err == nil {
		t.Fatalf("short payload accepted")
	}
	if _, err := DecodeHeightfield(EncodeImage(NewImage(1, 1))); err == nil {
		t.Fatalf("wrong magic accepted")
	}
	buf := EncodeHeightfield(NewHeightfield(2, 2))
	if _, err := DecodeHeightfield(buf[:len(buf)-1]); err == nil {
		t.Fatalf("truncated payload accepted")
	}
}
