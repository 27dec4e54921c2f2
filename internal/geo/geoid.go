package geo

import "sync"

// Geoid models a vertical datum surface: the height of the datum above the
// ellipsoid at a geodetic location.
type Geoid interface {
	Height(lat, lon float64) float64
}

// OffsetGeoid is a constant-offset geoid, mostly useful in tests and as a
// cheap stand-in for a gridded model.
type OffsetGeoid float64

func (g OffsetGeoid) Height(lat, lon float64) float64 { return float64(g) }

var (
	geoidMu  sync.RWMutex
	geoidReg = map[string]Geoid{}
)

// RegisterVerticalDatum makes a geoid available under a datum name so that
// transforms between SRS with different vertical datums can shift heights.
func RegisterVerticalDatum(name string, g Geoid) {
	geoidMu.Lock()
	defer geoidMu.Unlock()
	geoidReg[name] = g
}

// VerticalDatumHeight reports the registered geoid height for a datum at a
// geodetic location. ok is false when no geoid is registered under the name.
func VerticalDatumHeight(name string, lat, lon float64) (h float64, ok bool) {
	g := lookupGeoid(name)
	if g == nil {
		return 0, false
	}
	return g.Height(lat, lon), true
}

func lookupGeoid(name string) Geoid {
	if name == "" {
		return nil
	}
	geoidMu.RLock()
	defer geoidMu.RUnlock()
	return geoidReg[name]
}
