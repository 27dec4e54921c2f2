package source

import (
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Acquire after the owning layer has closed.
var ErrPoolClosed = errors.New("source: driver pool closed")

// Pool hands out per-worker driver instances for formats whose native
// handles are not safe to share across threads. Instances are created
// lazily on first acquire and torn down together when the owning layer
// closes. There is no hidden global state: each layer owns its pool.
type Pool[D Driver] struct {
	mu      sync.Mutex
	idle    []D
	all     []D
	closed  bool
	factory func() (D, error)
}

func NewPool[D Driver](factory func() (D, error)) *Pool[D] {
	return &Pool[D]{factory: factory}
}

// Acquire returns an idle driver or lazily constructs a new one. The caller
// must hand it back with Release.
func (p *Pool[D]) Acquire() (D, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero D
	if p.closed {
		return zero, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		d := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return d, nil
	}
	d, err := p.factory()
	if err != nil {
		return zero, err
	}
	p.all = append(p.all, d)
	return d, nil
}

func (p *Pool[D]) Release(d D) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = d.Close()
		return
	}
	p.idle = append(p.idle, d)
}

// Close shuts down every driver ever created by the pool, including ones
// currently checked out (callers racing a close see ErrPoolClosed on their
// next acquire). Returns the first close error encountered.
func (p *Pool[D]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var first error
	for _, d := range p.all {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.idle = nil
	p.all = nil
	return first
}

// Size reports how many driver instances the pool has created.
func (p *Pool[D]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
