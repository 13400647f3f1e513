package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edirooss/indexpool-server/internal/index"
	"golang.org/x/sync/semaphore"
)

// Handle pairs one open index view with its admission state.
//
// Lifecycle: current (registered, admitting) → retired (unregistered,
// draining) → closed (view released). Retirement is one-way and happens
// while the source gate is held, so it never races a new admission; the
// close itself is the atomic drain-check in tryClose.
type Handle struct {
	source   string
	view     index.View
	openedAt time.Time

	capacity int64
	permits  *semaphore.Weighted
	inUse    atomic.Int64 // admitted users, for observability only

	mu      sync.Mutex
	retired bool
	closed  bool
}

func newHandle(source string, view index.View, capacity int64) *Handle {
	return &Handle{
		source:   source,
		view:     view,
		openedAt: time.Now(),
		capacity: capacity,
		permits:  semaphore.NewWeighted(capacity),
	}
}

// acquirePermit admits one user, blocking while the handle is at capacity.
func (h *Handle) acquirePermit(ctx context.Context) error {
	if err := h.permits.Acquire(ctx, 1); err != nil {
		return err
	}
	h.inUse.Add(1)
	return nil
}

// releasePermit returns one admission. Returning more permits than were
// acquired corrupts accounting and panics inside the semaphore.
func (h *Handle) releasePermit() {
	h.inUse.Add(-1)
	h.permits.Release(1)
}

func (h *Handle) markRetired() {
	h.mu.Lock()
	h.retired = true
	h.mu.Unlock()
}

func (h *Handle) isRetired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}

// tryClose closes the view iff the handle is retired, not yet closed, and
// has zero admitted users. The zero-user check and the transition to
// closed are atomic: claiming every permit in one TryAcquire succeeds only
// when no admission is outstanding, and the closed flag makes the
// transition one-shot. Reports whether this call performed the close.
func (h *Handle) tryClose(eng index.Engine) (bool, error) {
	h.mu.Lock()
	if !h.retired || h.closed {
		h.mu.Unlock()
		return false, nil
	}
	if !h.permits.TryAcquire(h.capacity) {
		h.mu.Unlock()
		return false, nil // still admitted somewhere; last release reaps
	}
	h.closed = true
	h.mu.Unlock()

	// Hand the permits back so an admission racing pool shutdown unblocks
	// and then observes retired instead of parking forever.
	h.permits.Release(h.capacity)
	return true, eng.Close(h.view)
}
