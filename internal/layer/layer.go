// Package layer implements the tile-producing layers of the engine:
// elevation and imagery layers over pluggable data drivers, and the
// elevation stack that composites several layers into one heightfield.
package layer

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var nextUID atomic.Int64

// Layer carries the identity and lifecycle state shared by every layer kind.
// The mutex protocol is: tile production holds the read lock, open and close
// hold the write lock, so readers never observe a half-open layer.
type Layer struct {
	mu  sync.RWMutex
	log zerolog.Logger

	uid         int64
	name        string
	attribution string
	openAuto    bool

	opened  bool
	openErr error

	revision   atomic.Int64
	onRevision []func(name string, revision int64)
}

func newLayer(name, attribution string, openAuto bool, log zerolog.Logger) Layer {
	return Layer{
		uid:         nextUID.Add(1),
		name:        name,
		attribution: attribution,
		openAuto:    openAuto,
		log:         log.With().Str("layer", name).Logger(),
	}
}

// UID is unique per layer instance within the process, used to key per-layer
// request caches.
func (l *Layer) UID() int64 { return l.uid }

func (l *Layer) Name() string        { return l.name }
func (l *Layer) Attribution() string { return l.attribution }

func (l *Layer) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.opened
}

// OpenStatus returns the sticky result of the last open attempt. nil means
// either open succeeded or no attempt has been made yet.
func (l *Layer) OpenStatus() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.openErr
}

// Revision increments every time the layer's content generation changes:
// open, close, or an explicit Invalidate.
func (l *Layer) Revision() int64 { return l.revision.Load() }

// OnRevision registers a hook invoked after each revision bump, e.g. to purge
// remote caches. Hooks must not call back into the layer.
func (l *Layer) OnRevision(fn func(name string, revision int64)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRevision = append(l.onRevision, fn)
}

func (l *Layer) bumpRevision() {
	rev := l.revision.Add(1)
	l.mu.RLock()
	hooks := make([]func(string, int64), len(l.onRevision))
	copy(hooks, l.onRevision)
	name := l.name
	l.mu.RUnlock()
	for _, fn := range hooks {
		fn(name, rev)
	}
}
