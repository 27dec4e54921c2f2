package layer

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/tylerbrawl/rocky/internal/geo"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

func westHalf(key tiling.TileKey) *geo.GeoExtent {
	ext := key.Extent()
	half := geo.NewExtent(ext.SRS, ext.XMin, ext.YMin, (ext.XMin+ext.XMax)/2, ext.YMax)
	return &half
}

func stackOf(layers ...*ElevationLayer) *ElevationStack {
	return NewElevationStack(zerolog.Nop(), layers...)
}

func TestStack_LastLayerWins(t *testing.T) {
	low := openTestElevation(ElevationConfig{Name: "low", TileSize: 9}, newFakeDriver(10))
	high := openTestElevation(ElevationConfig{Name: "high", TileSize: 9}, newFakeDriver(20))
	s := stackOf(low, high)
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())

	hf := raster.NewHeightfield(9, 9)
	real, err := s.PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(4, 4); v != 20 {
		t.Fatalf("center = %v, want the higher-priority layer's 20", v)
	}
}

func TestStack_LowerPriorityFillsGaps(t *testing.T) {
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())

	base := openTestElevation(ElevationConfig{Name: "base", TileSize: 9}, newFakeDriver(10))
	hd := newFakeDriver(20)
	hd.validExtent = westHalf(key)
	high := openTestElevation(ElevationConfig{Name: "high", TileSize: 9}, hd)
	s := stackOf(base, high)

	hf := raster.NewHeightfield(9, 9)
	resolutions := make([]float64, 9*9)
	real, err := s.PopulateHeightfield(context.Background(), key, hf, resolutions)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(0, 0); v != 20 {
		t.Fatalf("west corner = %v, want the high-priority 20", v)
	}
	if v := hf.HeightAt(8, 8); v != 10 {
		t.Fatalf("east corner = %v, want the base layer's 10", v)
	}
	rx, _ := key.Resolution(9)
	if resolutions[0] != rx || resolutions[8*9+8] != rx {
		t.Fatalf("resolutions not recorded: %v, %v", resolutions[0], resolutions[8*9+8])
	}
}

func TestStack_AllFallbackIsNotRealData(t *testing.T) {
	d := newFakeDriver(10)
	d.extents[0].MaxLevel = 1
	l := openTestElevation(ElevationConfig{Name: "coarse", TileSize: 9}, d)
	s := stackOf(l)

	hf := raster.NewHeightfield(9, 9)
	real, err := s.PopulateHeightfield(context.Background(), tiling.NewTileKey(3, 2, 2, tiling.GlobalGeodetic()), hf, nil)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	if real {
		t.Fatalf("upsampling an ancestor must not count as data at this level")
	}
}

func TestStack_FallbackWinnerIsNotRealData(t *testing.T) {
	key := tiling.NewTileKey(3, 2, 2, tiling.GlobalGeodetic())

	coarse := newFakeDriver(10)
	coarse.extents[0].MaxLevel = 1
	holes := newFakeDriver(20)
	elsewhere := tiling.NewTileKey(3, 7, 7, tiling.GlobalGeodetic()).Extent()
	holes.validExtent = &elsewhere
	s := stackOf(
		openTestElevation(ElevationConfig{Name: "coarse", TileSize: 9}, coarse),
		openTestElevation(ElevationConfig{Name: "holes", TileSize: 9}, holes),
	)

	hf := raster.NewHeightfield(9, 9)
	real, err := s.PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil {
		t.Fatalf("populate: %v", err)
	}
	// the exact-level layer had no valid sample anywhere, so everything
	// written came from an upsampled ancestor
	if real {
		t.Fatalf("fallback-only samples must not count as data at this level")
	}
}

func TestStack_OffsetsAloneProduceNoData(t *testing.T) {
	off := openTestElevation(ElevationConfig{Name: "off", Offset: true, TileSize: 9}, newFakeDriver(5))
	s := stackOf(off)

	// offsets survive classification on their own, but with no base layer to
	// displace they never write a sample
	hf := raster.NewHeightfield(9, 9)
	real, err := s.PopulateHeightfield(context.Background(), tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic()), hf, nil)
	if err != nil || real {
		t.Fatalf("offset-only stack = (%v, %v), want no data", real, err)
	}
	if v := hf.HeightAt(4, 4); raster.ValidHeight(v) {
		t.Fatalf("center = %v, an offset must not materialize a height", v)
	}
}

func TestStack_ExactOffsetOverFallbackBaseIsRealData(t *testing.T) {
	base := newFakeDriver(10)
	base.extents[0].MaxLevel = 1
	s := stackOf(
		openTestElevation(ElevationConfig{Name: "coarse", TileSize: 9}, base),
		openTestElevation(ElevationConfig{Name: "bump", Offset: true, TileSize: 9}, newFakeDriver(5)),
	)

	hf := raster.NewHeightfield(9, 9)
	real, err := s.PopulateHeightfield(context.Background(), tiling.NewTileKey(3, 2, 2, tiling.GlobalGeodetic()), hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v), an exact offset brings new data to this level", real, err)
	}
	if v := hf.HeightAt(4, 4); v != 15 {
		t.Fatalf("center = %v, want ancestor 10 + offset 5", v)
	}
}

func TestStack_SingleLayerMatchesDirectRead(t *testing.T) {
	l := openTestElevation(ElevationConfig{Name: "only", TileSize: 17}, newFakeDriver(42))
	s := stackOf(l)
	key := tiling.NewTileKey(2, 0, 1, tiling.GlobalGeodetic())

	ghf, real, err := s.CreateHeightfield(context.Background(), key, 17)
	if err != nil || !real {
		t.Fatalf("stack create = (%v, %v)", real, err)
	}
	direct, err := l.CreateHeightfield(context.Background(), key)
	if err != nil || !direct.Valid() {
		t.Fatalf("direct create = (%v, %v)", direct.Valid(), err)
	}
	if diff := cmp.Diff(direct.Heightfield().Data(), ghf.Heightfield().Data()); diff != "" {
		t.Fatalf("stack output differs from the layer's own tile:\n%s", diff)
	}
}

func TestStack_OffsetAddsOnTop(t *testing.T) {
	base := openTestElevation(ElevationConfig{Name: "base", TileSize: 9}, newFakeDriver(100))
	off := openTestElevation(ElevationConfig{Name: "bump", Offset: true, TileSize: 9}, newFakeDriver(5))
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())

	hf := raster.NewHeightfield(9, 9)
	real, err := stackOf(base, off).PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(4, 4); v != 105 {
		t.Fatalf("center = %v, want base 100 + offset 5", v)
	}
}

func TestStack_OffsetBelowResolvedLayerIsIgnored(t *testing.T) {
	off := openTestElevation(ElevationConfig{Name: "bump", Offset: true, TileSize: 9}, newFakeDriver(5))
	base := openTestElevation(ElevationConfig{Name: "base", TileSize: 9}, newFakeDriver(100))
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())

	hf := raster.NewHeightfield(9, 9)
	real, err := stackOf(off, base).PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(4, 4); v != 100 {
		t.Fatalf("center = %v, the overridden offset leaked through", v)
	}
}

func TestStack_OffsetDoesNotFillUnresolvedCells(t *testing.T) {
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())
	bd := newFakeDriver(20)
	bd.validExtent = westHalf(key)
	base := openTestElevation(ElevationConfig{Name: "partial", TileSize: 9}, bd)
	off := openTestElevation(ElevationConfig{Name: "bump", Offset: true, TileSize: 9}, newFakeDriver(5))

	hf := raster.NewHeightfield(9, 9)
	real, err := stackOf(base, off).PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(0, 0); v != 25 {
		t.Fatalf("west corner = %v, want base 20 + offset 5", v)
	}
	// no base layer resolved the east half; the offset displaces nothing
	// there and the cells backfill like any other gap
	if v := hf.HeightAt(8, 8); v != 0 {
		t.Fatalf("east corner = %v, the offset must not become a height", v)
	}
}

func TestStack_ZeroOffsetSamplesAreSkipped(t *testing.T) {
	key := tiling.NewTileKey(3, 2, 2, tiling.GlobalGeodetic())
	base := openTestElevation(ElevationConfig{Name: "base", TileSize: 9}, newFakeDriver(100))
	od := newFakeDriver(0)
	od.extents[0].MaxLevel = 1
	off := openTestElevation(ElevationConfig{Name: "flat", Offset: true, TileSize: 9}, od)

	hf := raster.NewHeightfield(9, 9)
	resolutions := make([]float64, 9*9)
	real, err := stackOf(base, off).PopulateHeightfield(context.Background(), key, hf, resolutions)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(4, 4); v != 100 {
		t.Fatalf("center = %v, want the base 100", v)
	}
	// a zero offset contributes nothing, so the coarse offset tile must not
	// degrade the recorded cell resolution either
	rx, _ := key.Resolution(9)
	if resolutions[4*9+4] != rx {
		t.Fatalf("resolution = %v, want the base layer's %v", resolutions[4*9+4], rx)
	}
}

func TestStack_DepthLimitedLayerStillFallsBack(t *testing.T) {
	key := tiling.NewTileKey(3, 2, 2, tiling.GlobalGeodetic())
	base := openTestElevation(ElevationConfig{Name: "shallow", MaxLevel: intptr(2), TileSize: 9}, newFakeDriver(10))
	hd := newFakeDriver(20)
	hd.validExtent = westHalf(key)
	high := openTestElevation(ElevationConfig{Name: "deep", TileSize: 9}, hd)

	hf := raster.NewHeightfield(9, 9)
	real, err := stackOf(base, high).PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(0, 0); v != 20 {
		t.Fatalf("west corner = %v, want the deep layer's 20", v)
	}
	// the shallow layer tops out above this level but its ancestor tiles
	// still fill the gap, ahead of the zero backfill
	if v := hf.HeightAt(8, 8); v != 10 {
		t.Fatalf("east corner = %v, want the shallow layer's upsampled 10", v)
	}
}

func TestStack_SmallOutputSamplesAncestorResolution(t *testing.T) {
	key := tiling.NewTileKey(3, 2, 2, tiling.GlobalGeodetic())
	l := openTestElevation(ElevationConfig{Name: "only", TileSize: 17}, newFakeDriver(7))

	// a 5-cell grid needs far less than a level-3 tile of 17 samples; the
	// stack should read the ancestor that already covers that resolution
	hf := raster.NewHeightfield(5, 5)
	resolutions := make([]float64, 5*5)
	real, err := stackOf(l).PopulateHeightfield(context.Background(), key, hf, resolutions)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(2, 2); v != 7 {
		t.Fatalf("center = %v, want 7", v)
	}
	mapped := key.MapResolution(5, 17)
	if mapped.Level >= key.Level {
		t.Fatalf("mapped level = %d, want an ancestor of level %d", mapped.Level, key.Level)
	}
	rx, _ := mapped.Resolution(17)
	if resolutions[0] != rx {
		t.Fatalf("resolution = %v, want the ancestor tile's %v", resolutions[0], rx)
	}
}

func TestStack_BackfillsGapsWithZero(t *testing.T) {
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())
	d := newFakeDriver(20)
	d.validExtent = westHalf(key)
	l := openTestElevation(ElevationConfig{Name: "partial", TileSize: 9}, d)

	hf := raster.NewHeightfield(9, 9)
	real, err := stackOf(l).PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(0, 0); v != 20 {
		t.Fatalf("west corner = %v, want 20", v)
	}
	if v := hf.HeightAt(8, 8); v != 0 {
		t.Fatalf("east corner = %v, uncovered cells must read zero", v)
	}
}

func TestStack_BackfillsGapsWithDatumSurface(t *testing.T) {
	geo.RegisterVerticalDatum("stack-test-geoid", geo.OffsetGeoid(30))
	key := tiling.NewTileKey(2, 1, 1, tiling.GeodeticWithVerticalDatum("stack-test-geoid"))

	d := newFakeDriver(20)
	d.validExtent = westHalf(tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic()))
	l := openTestElevation(ElevationConfig{Name: "partial", TileSize: 9}, d)

	hf := raster.NewHeightfield(9, 9)
	real, err := stackOf(l).PopulateHeightfield(context.Background(), key, hf, nil)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	if v := hf.HeightAt(0, 0); v != 20 {
		t.Fatalf("west corner = %v, want the layer's ellipsoidal 20", v)
	}
	if v := hf.HeightAt(8, 8); v != 30 {
		t.Fatalf("east corner = %v, want the geoid surface height 30", v)
	}
}

func TestStack_ResolutionsMarkUnresolvedCells(t *testing.T) {
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())
	a := newFakeDriver(10)
	a.validExtent = westHalf(key)
	b := newFakeDriver(20)
	b.validExtent = westHalf(key)
	la := openTestElevation(ElevationConfig{Name: "a", TileSize: 9}, a)
	lb := openTestElevation(ElevationConfig{Name: "b", TileSize: 9}, b)

	hf := raster.NewHeightfield(9, 9)
	resolutions := make([]float64, 9*9)
	real, err := stackOf(la, lb).PopulateHeightfield(context.Background(), key, hf, resolutions)
	if err != nil || !real {
		t.Fatalf("populate = (%v, %v)", real, err)
	}
	rx, _ := key.Resolution(9)
	if resolutions[0] != rx {
		t.Fatalf("resolved cell reports %v, want %v", resolutions[0], rx)
	}
	if resolutions[8*9+8] != -1 {
		t.Fatalf("unresolved cell reports %v, want -1", resolutions[8*9+8])
	}
}

func TestStack_CancellationIsQuiet(t *testing.T) {
	low := openTestElevation(ElevationConfig{Name: "low", TileSize: 9}, newFakeDriver(10))
	high := openTestElevation(ElevationConfig{Name: "high", TileSize: 9}, newFakeDriver(20))
	s := stackOf(low, high)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hf := raster.NewHeightfield(9, 9)
	real, err := s.PopulateHeightfield(ctx, tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic()), hf, nil)
	if err != nil || real {
		t.Fatalf("cancelled populate = (%v, %v), want quiet no-data", real, err)
	}
}

func TestStack_LayerLookup(t *testing.T) {
	a := openTestElevation(ElevationConfig{Name: "a"}, newFakeDriver(1))
	s := stackOf(a)
	if s.Layer("a") != a {
		t.Fatalf("lookup by name failed")
	}
	if s.Layer("nope") != nil {
		t.Fatalf("unknown name returned a layer")
	}
}
