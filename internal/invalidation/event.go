// Package invalidation distributes layer cache purges: when a dataset behind
// a layer changes, an event on the bus tells every node to drop its cached
// tiles for that layer and bump the layer revision.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const OpInvalidate = "invalidate"

// Event is the wire format of one invalidation. Version is a monotonically
// increasing counter per layer; consumers drop events they have already seen.
type Event struct {
	Version uint64    `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Op != OpInvalidate {
		return fmt.Errorf("op must be %q", OpInvalidate)
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if e.Version == 0 {
		return fmt.Errorf("version is required")
	}
	return nil
}
