package pool

import "context"

// gate is a non-reentrant 1-token lock built on a buffered channel.
// Unlike sync.Mutex it supports context-aware acquisition, which admission
// needs so callers parked behind a busy source honor cancellation.
type gate struct {
	ch chan struct{} // holds the token while unlocked
}

func newGate() *gate {
	g := &gate{ch: make(chan struct{}, 1)}
	g.ch <- struct{}{}
	return g
}

// Lock blocks until the token is taken.
func (g *gate) Lock() { <-g.ch }

// LockContext takes the token, or gives up when ctx is done.
func (g *gate) LockContext(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock takes the token without blocking and reports whether it did.
func (g *gate) TryLock() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Unlock returns the token. Unlocking an unlocked gate is a protocol
// violation and panics.
func (g *gate) Unlock() {
	select {
	case g.ch <- struct{}{}:
	default:
		panic("pool: unlock of unlocked gate")
	}
}
