package layer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/source"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

func f32ptr(v float32) *float32 { return &v }
func intptr(v int) *int         { return &v }

func TestCreateHeightfield_RequiresOpen(t *testing.T) {
	l := newTestElevation(ElevationConfig{Name: "t"}, newFakeDriver(1))
	_, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(0, 0, 0, tiling.GlobalGeodetic()))
	if StatusOf(err) != StatusResourceUnavailable {
		t.Fatalf("status = %v, a closed layer is an unavailable resource", StatusOf(err))
	}
}

func TestCreateHeightfield_AutoOpensOnce(t *testing.T) {
	d := newFakeDriver(1)
	l := newTestElevation(ElevationConfig{Name: "t", Open: true, TileSize: 9}, d)
	key := tiling.NewTileKey(1, 0, 0, tiling.GlobalGeodetic())

	for range 3 {
		if _, err := l.CreateHeightfield(context.Background(), key); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if open, _ := d.calls(); open != 1 {
		t.Fatalf("driver opened %d times", open)
	}
}

func TestOpenFailureIsSticky(t *testing.T) {
	d := newFakeDriver(1)
	d.openErr = errors.New("boom")
	l := newTestElevation(ElevationConfig{Name: "t", Open: true}, d)
	key := tiling.NewTileKey(0, 0, 0, tiling.GlobalGeodetic())

	_, err := l.CreateHeightfield(context.Background(), key)
	if StatusOf(err) != StatusResourceUnavailable {
		t.Fatalf("status = %v, want resource unavailable", StatusOf(err))
	}
	_, err2 := l.CreateHeightfield(context.Background(), key)
	if StatusOf(err2) != StatusResourceUnavailable {
		t.Fatalf("second status = %v", StatusOf(err2))
	}
	if open, _ := d.calls(); open != 1 {
		t.Fatalf("failed open retried %d times without a Close", open)
	}
}

func TestOpen_FactoryError(t *testing.T) {
	l := NewElevationLayer(ElevationConfig{Name: "t"}, func() (source.Driver, error) {
		return nil, errors.New("no such driver")
	}, zerolog.Nop())
	if StatusOf(l.Open(context.Background())) != StatusConfigurationError {
		t.Fatalf("factory failure must be a configuration error")
	}
}

func TestCreateHeightfield_OutOfRangeIsEmptyWithoutDriverCall(t *testing.T) {
	d := newFakeDriver(1)
	l := openTestElevation(ElevationConfig{Name: "t", MaxLevel: intptr(5), TileSize: 9}, d)

	ghf, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(6, 0, 0, tiling.GlobalGeodetic()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ghf.Valid() {
		t.Fatalf("out-of-range key produced data")
	}
	if _, create := d.calls(); create != 0 {
		t.Fatalf("driver was asked for an out-of-range tile")
	}
}

func TestCreateHeightfield_L2ServesRepeats(t *testing.T) {
	d := newFakeDriver(5)
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 9}, d)
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())

	a, err := l.CreateHeightfield(context.Background(), key)
	if err != nil || !a.Valid() {
		t.Fatalf("first create = (%v, %v)", a.Valid(), err)
	}
	b, err := l.CreateHeightfield(context.Background(), key)
	if err != nil || !b.Valid() {
		t.Fatalf("second create = (%v, %v)", b.Valid(), err)
	}
	if _, create := d.calls(); create != 1 {
		t.Fatalf("driver called %d times for one key", create)
	}
	if a.Heightfield() != b.Heightfield() {
		t.Fatalf("cache returned a different raster")
	}
}

func TestInvalidate_DropsL2AndBumpsRevision(t *testing.T) {
	d := newFakeDriver(5)
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 9}, d)
	key := tiling.NewTileKey(2, 1, 1, tiling.GlobalGeodetic())

	fired := 0
	l.OnRevision(func(string, int64) { fired++ })
	rev := l.Revision()

	if _, err := l.CreateHeightfield(context.Background(), key); err != nil {
		t.Fatalf("create: %v", err)
	}
	l.Invalidate()
	if l.Revision() == rev {
		t.Fatalf("revision did not move")
	}
	if fired == 0 {
		t.Fatalf("revision hook did not fire")
	}
	if _, err := l.CreateHeightfield(context.Background(), key); err != nil {
		t.Fatalf("create after invalidate: %v", err)
	}
	if _, create := d.calls(); create != 2 {
		t.Fatalf("invalidate kept the cached tile (driver calls = %d)", create)
	}
}

func TestCreateHeightfield_Normalization(t *testing.T) {
	cases := []struct {
		name string
		fill float32
		cfg  ElevationConfig
	}{
		{"nan", float32(math.NaN()), ElevationConfig{}},
		{"no data value", 255, ElevationConfig{NoDataValue: f32ptr(255)}},
		{"below minimum", -500, ElevationConfig{MinValidValue: f32ptr(-100)}},
		{"above maximum: 9500", 9500, ElevationConfig{MaxValidValue: f32ptr(9000)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.Name = "t"
			cfg.TileSize = 9
			l := openTestElevation(cfg, newFakeDriver(tc.fill))
			ghf, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(1, 0, 0, tiling.GlobalGeodetic()))
			if err != nil || !ghf.Valid() {
				t.Fatalf("create = (%v, %v)", ghf.Valid(), err)
			}
			if v := ghf.Heightfield().HeightAt(4, 4); raster.ValidHeight(v) {
				t.Fatalf("sample %v survived normalization", v)
			}
		})
	}

	// a plain valid value passes through untouched
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 9, MinValidValue: f32ptr(-100)}, newFakeDriver(12.5))
	ghf, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(1, 0, 0, tiling.GlobalGeodetic()))
	if err != nil || !ghf.Valid() {
		t.Fatalf("create = (%v, %v)", ghf.Valid(), err)
	}
	if v := ghf.Heightfield().HeightAt(4, 4); v != 12.5 {
		t.Fatalf("valid sample rewritten to %v", v)
	}
}

func TestCreateHeightfield_OversizedTileRejected(t *testing.T) {
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: raster.MaxDim + 76}, newFakeDriver(1))
	_, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(1, 0, 0, tiling.GlobalGeodetic()))
	if StatusOf(err) != StatusGeneralError {
		t.Fatalf("status = %v, want general error", StatusOf(err))
	}
}

func TestCreateHeightfield_CancellationIsEmptyNotError(t *testing.T) {
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 9}, newFakeDriver(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ghf, err := l.CreateHeightfield(ctx, tiling.NewTileKey(1, 0, 0, tiling.GlobalGeodetic()))
	if err != nil {
		t.Fatalf("cancellation surfaced as %v", err)
	}
	if ghf.Valid() {
		t.Fatalf("cancelled request produced data")
	}
}

func TestCreateHeightfield_DriverErrorDemotedToNoData(t *testing.T) {
	d := newFakeDriver(1)
	d.createErr = errors.New("read timeout")
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 9}, d)
	ghf, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(1, 0, 0, tiling.GlobalGeodetic()))
	if err != nil {
		t.Fatalf("driver failure must not surface: %v", err)
	}
	if ghf.Valid() {
		t.Fatalf("failed fetch produced data")
	}
}

func TestWriteHeightfield_Unsupported(t *testing.T) {
	l := openTestElevation(ElevationConfig{Name: "t"}, newFakeDriver(1))
	err := l.WriteHeightfield(context.Background(), tiling.NewTileKey(0, 0, 0, tiling.GlobalGeodetic()), raster.NewHeightfield(9, 9))
	if StatusOf(err) != StatusServiceUnavailable {
		t.Fatalf("status = %v, want service unavailable", StatusOf(err))
	}
}

func TestCreateHeightfield_MosaicsAcrossProfiles(t *testing.T) {
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 17}, newFakeDriver(7))
	key := tiling.NewTileKey(3, 2, 3, tiling.SphericalMercatorProfile())

	ghf, err := l.CreateHeightfield(context.Background(), key)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ghf.Valid() {
		t.Fatalf("no mosaic for a covered mercator key")
	}
	if ghf.Extent() != key.Extent() {
		t.Fatalf("mosaic extent %+v, want the requested key's", ghf.Extent())
	}
	hf := ghf.Heightfield()
	for _, p := range [][2]int{{0, 0}, {hf.Width() - 1, 0}, {0, hf.Height() - 1}, {hf.Width() / 2, hf.Height() / 2}} {
		if v := hf.HeightAt(p[0], p[1]); v != 7 {
			t.Fatalf("sample %v = %v, want 7", p, v)
		}
	}
}

func TestCreateHeightfield_MosaicFromAncestorsOnly(t *testing.T) {
	// the exact equivalent level has no tiles; the assembler must still build
	// the mosaic from coarser ancestors instead of reporting no data
	d := newFakeDriver(7)
	d.sparseAbove = 1
	l := openTestElevation(ElevationConfig{Name: "t", TileSize: 17}, d)

	ghf, err := l.CreateHeightfield(context.Background(), tiling.NewTileKey(4, 5, 6, tiling.SphericalMercatorProfile()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !ghf.Valid() {
		t.Fatalf("mosaic refused when only ancestor tiles exist")
	}
	if v := ghf.Heightfield().HeightAt(8, 8); v != 7 {
		t.Fatalf("sample = %v, want 7", v)
	}
}

func TestDecodeMapboxRGB(t *testing.T) {
	img := raster.NewImage(2, 2)
	// -10000 + (1*65536 + 134*256 + 160) * 0.1 == 0
	img.WritePixel(0, 0, raster.Pixel{1, 134, 160, 255})
	// transparent pixel
	img.WritePixel(1, 0, raster.Pixel{1, 134, 160, 0})
	// all-white decodes past the plausible ceiling
	img.WritePixel(0, 1, raster.Pixel{255, 255, 255, 255})
	// -10000 + 100836*0.1 == 83.6
	img.WritePixel(1, 1, raster.Pixel{1, 137, 228, 255})

	hf := DecodeMapboxRGB(img)
	if v := hf.HeightAt(0, 0); v != 0 {
		t.Fatalf("decoded %v, want 0", v)
	}
	if raster.ValidHeight(hf.HeightAt(1, 0)) {
		t.Fatalf("transparent pixel decoded to a height")
	}
	if raster.ValidHeight(hf.HeightAt(0, 1)) {
		t.Fatalf("out-of-range value decoded to a height")
	}
	if v := hf.HeightAt(1, 1); math.Abs(float64(v)-83.6) > 1e-3 {
		t.Fatalf("decoded %v, want 83.6", v)
	}
}
