// Package keys builds cache key strings for composited tiles.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/tylerbrawl/rocky/internal/tiling"
)

// Tile returns the cache key for one composited tile of a layer. The tiling
// profile is folded in as a hash so the same level/x/y addressed under two
// different schemes never collides.
func Tile(layer string, key tiling.TileKey) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(layer))
	sum := xxhash.Sum64String(key.Profile.Name())
	return fmt.Sprintf("tile:%s:%s:p=%016x", layerNorm, key.String(), sum)
}

// LayerIndex returns the key of the per-layer set that records every tile key
// written for the layer, so invalidation can delete them in one sweep.
func LayerIndex(layer string) string {
	return "tileidx:" + sanitizeLayer(strings.TrimSpace(layer))
}

func sanitizeLayer(s string) string {
	if s == "" {
		return "-"
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
