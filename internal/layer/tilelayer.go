package layer

import (
	"github.com/tylerbrawl/rocky/internal/source"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// DefaultTileSize matches the usual terrain tile grid.
const DefaultTileSize = 257

// DefaultMaxLevel bounds how deep a layer serves tiles unless configured.
const DefaultMaxLevel = 23

// TileLayer is the tiled half of a layer: the profile its driver speaks, the
// level range it serves, and the regions known to contain data. Fields are
// populated on open and read under the layer's read lock afterwards.
type TileLayer struct {
	Layer

	profile      tiling.Profile
	tileSize     int
	minLevel     int
	maxLevel     int
	maxDataLevel int
	dataExtents  []source.DataExtent
}

// Profile is the tiling scheme of the layer's own data. Requests in any other
// profile go through the mosaic assembler.
func (t *TileLayer) Profile() tiling.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.profile
}

func (t *TileLayer) TileSize() int { return t.tileSize }

// MaxDataLevel is the deepest level at which real data exists anywhere in the
// layer. Requests below it fall back to ancestor tiles.
func (t *TileLayer) MaxDataLevel() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxDataLevel
}

// DataExtents reports the regions the driver declared data for, in the
// layer's own SRS.
func (t *TileLayer) DataExtents() []source.DataExtent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]source.DataExtent, len(t.dataExtents))
	copy(out, t.dataExtents)
	return out
}

// setOpenInfo installs what the driver discovered on open. Caller holds the
// write lock.
func (t *TileLayer) setOpenInfo(info source.OpenInfo, cfgMaxDataLevel int) {
	t.profile = info.Profile
	t.dataExtents = info.DataExtents

	maxData := -1
	for _, de := range info.DataExtents {
		if de.MaxLevel < 0 {
			maxData = t.maxLevel
			break
		}
		if de.MaxLevel > maxData {
			maxData = de.MaxLevel
		}
	}
	if maxData < 0 {
		maxData = t.maxLevel
	}
	if cfgMaxDataLevel > 0 && cfgMaxDataLevel < maxData {
		maxData = cfgMaxDataLevel
	}
	t.maxDataLevel = maxData
}

// levelInProfile maps a key's level into this layer's profile, accounting for
// profiles whose root tile grids differ.
func (t *TileLayer) levelInProfile(key tiling.TileKey) int {
	if key.Profile.HorizontalEquals(t.profile) {
		return key.Level
	}
	return t.profile.EquivalentLevel(key.Profile, key.Level)
}

// IsKeyInLegalRange reports whether the layer serves tiles at the key's level
// at all, regardless of data coverage.
func (t *TileLayer) IsKeyInLegalRange(key tiling.TileKey) bool {
	if !key.Valid() {
		return false
	}
	lvl := t.levelInProfile(key)
	return lvl >= t.minLevel && lvl <= t.maxLevel
}

// MayHaveData reports whether real data can exist for the key: the level is
// in range, does not exceed the deepest data level, and the key touches a
// declared data extent.
func (t *TileLayer) MayHaveData(key tiling.TileKey) bool {
	if !t.IsKeyInLegalRange(key) {
		return false
	}
	lvl := t.levelInProfile(key)
	if lvl > t.maxDataLevel {
		return false
	}
	if len(t.dataExtents) == 0 {
		return true
	}
	ext := key.Extent()
	if !ext.SRS.HorizontalEquals(t.profile.SRS()) {
		ext = ext.Transform(t.profile.SRS())
		if !ext.Valid() {
			return false
		}
	}
	for _, de := range t.dataExtents {
		if lvl < de.MinLevel {
			continue
		}
		if de.MaxLevel >= 0 && lvl > de.MaxLevel {
			continue
		}
		if de.Extent.Intersects(ext) {
			return true
		}
	}
	return false
}

// BestAvailableTileKey returns the key itself when data may exist there, or
// the nearest ancestor that may have data. Keys deeper than the layer's
// maximum level clamp to an ancestor rather than failing, so a depth-limited
// layer can still serve fallback tiles; only keys above the minimum level
// have no answer. The second return is false when no ancestor qualifies.
func (t *TileLayer) BestAvailableTileKey(key tiling.TileKey) (tiling.TileKey, bool) {
	if !key.Valid() || t.levelInProfile(key) < t.minLevel {
		return tiling.TileKey{}, false
	}
	k := key
	// jump over the levels that cannot have data before walking extents
	for k.Valid() && t.levelInProfile(k) > t.maxDataLevel {
		k = k.Parent()
	}
	for k.Valid() {
		if t.MayHaveData(k) {
			return k, true
		}
		k = k.Parent()
	}
	return tiling.TileKey{}, false
}
