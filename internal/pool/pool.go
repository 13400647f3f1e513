// Package pool manages the lifecycle of open search-index handles.
//
// One handle per source is current at any time. Admission onto a handle is
// bounded by per-handle permits, staleness is probed by a per-source
// refresh loop, and superseded handles drain in a pending-retirement set
// until their last user releases.
//
// Runtime model:
//   - Per-source gate (1-token lock): serializes open, admission, swap and
//     drop for that source. Never held during engine probes or reopens of
//     fresh views, so a slow reopen does not block other sources.
//   - Registry (map under p.mu): source → current handle. p.mu is always
//     the innermost lock; nothing blocks while holding it.
//   - Pending-retirement set: superseded handles with users still admitted.
//     Closed handle-by-handle by whichever release drains them last.
//
// Contract:
//   - Acquire/Release are balanced; releasing a lease twice is a protocol
//     violation and panics when detected.
//   - Drop and Close retire handles but never interrupt admitted users.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edirooss/indexpool-server/internal/index"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	// DefaultHandleCapacity bounds concurrent admitted users per handle.
	DefaultHandleCapacity = 100
	// DefaultRefreshInterval is the staleness probe period per source.
	DefaultRefreshInterval = 120 * time.Second
)

var (
	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("pool closed")
	// ErrUnknownSource is returned when an operation names a source the
	// pool has no registration for.
	ErrUnknownSource = errors.New("unknown source")
)

// Options tunes a Pool. Zero values fall back to defaults.
type Options struct {
	// MaxSources caps registered sources. When the cap is hit, registering
	// a new source evicts the least recently acquired one. 0 = unbounded.
	MaxSources int
	// HandleCapacity is the per-handle admission bound.
	HandleCapacity int64
	// RefreshInterval is the per-source staleness probe period. The first
	// probe fires one full interval after registration.
	RefreshInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.HandleCapacity <= 0 {
		o.HandleCapacity = DefaultHandleCapacity
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
}

// Pool coordinates open index handles across sources.
type Pool struct {
	log  *zap.Logger
	eng  index.Engine
	opts Options

	gates sync.Map // source → *gate; grows with the source universe

	mu         sync.RWMutex
	handles    map[string]*Handle
	retiring   map[*Handle]struct{}
	refreshers map[string]*refresher
	recency    *lru.Cache[string, struct{}] // nil unless MaxSources > 0
	closed     bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Pool on top of eng. The pool owns every view it opens and
// closes them as handles retire and drain.
func New(log *zap.Logger, eng index.Engine, opts Options) (*Pool, error) {
	opts.setDefaults()

	p := &Pool{
		log:        log.Named("pool"),
		eng:        eng,
		opts:       opts,
		handles:    make(map[string]*Handle),
		retiring:   make(map[*Handle]struct{}),
		refreshers: make(map[string]*refresher),
	}
	if opts.MaxSources > 0 {
		c, err := lru.New[string, struct{}](opts.MaxSources)
		if err != nil {
			return nil, fmt.Errorf("recency cache: %w", err)
		}
		p.recency = c
	}
	p.baseCtx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// --- admission -------------------------------------------------------------

// Lease is one admitted use of a source's current handle. The view stays
// valid until Release. Release exactly once.
type Lease struct {
	pool   *Pool
	handle *Handle
}

// View returns the pinned index view.
func (l *Lease) View() index.View { return l.handle.view }

// Source returns the source the lease was acquired for.
func (l *Lease) Source() string { return l.handle.source }

// Release returns the admission. The backing view is closed here if the
// handle was superseded and this was its last user.
func (l *Lease) Release() { l.pool.release(l.handle) }

// Acquire admits the caller onto the current handle for source, opening
// and registering one first if needed. Blocks while another caller holds
// the source gate or the handle is at capacity; ctx bounds the wait.
func (p *Pool) Acquire(ctx context.Context, source string) (*Lease, error) {
	if source == "" {
		return nil, errors.New("empty source")
	}

	g := p.gate(source)
	if err := g.LockContext(ctx); err != nil {
		return nil, err
	}
	defer g.Unlock()

	h, err := p.currentHandle(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := h.acquirePermit(ctx); err != nil {
		return nil, err
	}
	if h.isRetired() {
		// Lost a race with pool shutdown, the one retire path that does
		// not hold the source gate.
		h.releasePermit()
		p.reap(h)
		return nil, ErrPoolClosed
	}
	return &Lease{pool: p, handle: h}, nil
}

// currentHandle resolves the registered handle for source, opening and
// registering one when absent. Caller holds the source gate.
func (p *Pool) currentHandle(ctx context.Context, source string) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if h, ok := p.handles[source]; ok {
		if p.recency != nil {
			p.recency.Get(source) // touch
		}
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	// Single open per source: the gate is held, so no concurrent caller
	// reaches here for the same source.
	v, err := p.eng.Open(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", source, err)
	}
	h := newHandle(source, v, p.opts.HandleCapacity)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.closeView(v)
			return nil, ErrPoolClosed
		}
		if p.opts.MaxSources <= 0 || len(p.handles) < p.opts.MaxSources {
			p.handles[source] = h
			if p.recency != nil {
				p.recency.Add(source, struct{}{})
			}
			p.startRefresherLocked(source)
			p.mu.Unlock()
			p.log.Info("registered source",
				zap.String("source", source),
				zap.Uint64("generation", v.Generation()),
				zap.Int("docs", v.DocCount()))
			return h, nil
		}
		victim, _, ok := p.recency.GetOldest()
		p.mu.Unlock()
		if !ok {
			p.closeView(v)
			return nil, fmt.Errorf("registry full (%d) with empty recency cache", p.opts.MaxSources)
		}
		if err := p.evict(ctx, victim); err != nil {
			p.closeView(v)
			return nil, fmt.Errorf("evict %q: %w", victim, err)
		}
	}
}

// evict drops victim to make room for a new registration. The victim is a
// registered source and the caller's source is not, so the two gates are
// distinct and the wait cannot cycle.
func (p *Pool) evict(ctx context.Context, victim string) error {
	g := p.gate(victim)
	if err := g.LockContext(ctx); err != nil {
		return err
	}
	defer g.Unlock()

	err := p.dropGated(victim)
	if err != nil && !errors.Is(err, ErrUnknownSource) {
		return err
	}
	if err == nil {
		p.log.Info("evicted least recently used source", zap.String("source", victim))
	}
	return nil
}

// release returns one admission on h and reaps it if that was the last
// user of a superseded handle.
func (p *Pool) release(h *Handle) {
	h.releasePermit()
	p.reap(h)
}

// reap runs the atomic check-and-close on h and, when the close fires,
// clears it from the pending-retirement set.
func (p *Pool) reap(h *Handle) {
	done, err := h.tryClose(p.eng)
	if err != nil {
		p.log.Error("close index view",
			zap.String("source", h.source),
			zap.Uint64("generation", h.view.Generation()),
			zap.Error(err))
	}
	if !done {
		return
	}
	p.mu.Lock()
	delete(p.retiring, h)
	p.mu.Unlock()
	p.log.Debug("closed retired handle",
		zap.String("source", h.source),
		zap.Uint64("generation", h.view.Generation()))
}

// --- source lifecycle ------------------------------------------------------

// Drop unregisters source and retires its current handle. Admitted users
// keep their views; the close happens when the last one releases. Returns
// ErrUnknownSource if nothing is registered.
func (p *Pool) Drop(ctx context.Context, source string) error {
	g := p.gate(source)
	if err := g.LockContext(ctx); err != nil {
		return err
	}
	defer g.Unlock()
	return p.dropGated(source)
}

// dropGated does the unregister + retire under an already-held source gate.
func (p *Pool) dropGated(source string) error {
	p.mu.Lock()
	h, ok := p.handles[source]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownSource
	}
	delete(p.handles, source)
	if p.recency != nil {
		p.recency.Remove(source)
	}
	r := p.refreshers[source]
	delete(p.refreshers, source)
	p.retiring[h] = struct{}{}
	p.mu.Unlock()

	if r != nil {
		r.stop()
	}
	h.markRetired()
	p.reap(h)
	p.log.Info("dropped source", zap.String("source", source))
	return nil
}

// ForceRefresh schedules an immediate staleness probe for source. The
// probe runs on the source's refresh loop; back-to-back calls coalesce.
func (p *Pool) ForceRefresh(source string) error {
	p.mu.RLock()
	r, ok := p.refreshers[source]
	p.mu.RUnlock()
	if !ok {
		return ErrUnknownSource
	}
	r.kick()
	return nil
}

// ForceRefreshAll nudges every registered source's refresh loop and
// reports how many were nudged.
func (p *Pool) ForceRefreshAll() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.refreshers {
		r.kick()
	}
	return len(p.refreshers)
}

// SetRefreshInterval overrides the staleness probe period for one
// registered source. d <= 0 restores the pool default. The running loop
// re-arms its ticker, so the next probe fires one full new period out.
func (p *Pool) SetRefreshInterval(source string, d time.Duration) error {
	if d <= 0 {
		d = p.opts.RefreshInterval
	}
	p.mu.RLock()
	r, ok := p.refreshers[source]
	p.mu.RUnlock()
	if !ok {
		return ErrUnknownSource
	}
	r.setPeriod(d)
	return nil
}

// --- observability ---------------------------------------------------------

// SourceStat describes one registered source.
type SourceStat struct {
	Source        string
	Generation    uint64
	DocCount      int
	InUse         int64
	Capacity      int64
	OpenedAt      time.Time
	PendingRetire int // superseded handles of this source still draining
}

// Snapshot is a point-in-time picture of the pool.
type Snapshot struct {
	Sources  []SourceStat
	Retiring int // draining handles across all sources
}

// Stats captures a snapshot. Handle pointers are copied under p.mu and the
// per-handle reads happen after it is released; counts are approximate
// under concurrent churn.
func (p *Pool) Stats() Snapshot {
	p.mu.RLock()
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	retireBySource := make(map[string]int, len(p.retiring))
	for h := range p.retiring {
		retireBySource[h.source]++
	}
	retiring := len(p.retiring)
	p.mu.RUnlock()

	snap := Snapshot{Sources: make([]SourceStat, 0, len(handles)), Retiring: retiring}
	for _, h := range handles {
		snap.Sources = append(snap.Sources, SourceStat{
			Source:        h.source,
			Generation:    h.view.Generation(),
			DocCount:      h.view.DocCount(),
			InUse:         h.inUse.Load(),
			Capacity:      h.capacity,
			OpenedAt:      h.openedAt,
			PendingRetire: retireBySource[h.source],
		})
	}
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].Source < snap.Sources[j].Source })
	return snap
}

// --- shutdown --------------------------------------------------------------

// Close stops every refresh loop, unregisters all sources and closes every
// handle with no admitted users. Handles still in use drain through their
// leases' Release as usual. Second Close returns ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[string]*Handle)
	p.refreshers = make(map[string]*refresher)
	if p.recency != nil {
		p.recency.Purge()
	}
	p.mu.Unlock()

	var errs []error
	for _, h := range handles {
		p.mu.Lock()
		p.retiring[h] = struct{}{}
		p.mu.Unlock()

		h.markRetired()
		done, err := h.tryClose(p.eng)
		if err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", h.source, err))
		}
		if done {
			p.mu.Lock()
			delete(p.retiring, h)
			p.mu.Unlock()
		}
	}

	p.mu.RLock()
	pending := len(p.retiring)
	p.mu.RUnlock()
	if pending > 0 {
		p.log.Warn("pool closed with handles still admitted", zap.Int("pending", pending))
	}
	return errors.Join(errs...)
}

// --- internals -------------------------------------------------------------

// gate returns the per-source gate, creating it on first use. Gates are
// never removed; the map grows with the set of sources ever seen.
func (p *Pool) gate(source string) *gate {
	if v, ok := p.gates.Load(source); ok {
		return v.(*gate)
	}
	v, _ := p.gates.LoadOrStore(source, newGate())
	return v.(*gate)
}

// loadGate is the non-creating lookup used by the refresh path, where a
// missing gate for a registered source means pool state is corrupt.
func (p *Pool) loadGate(source string) (*gate, bool) {
	v, ok := p.gates.Load(source)
	if !ok {
		return nil, false
	}
	return v.(*gate), true
}

// closeView releases a view that never made it into a handle.
func (p *Pool) closeView(v index.View) {
	if err := p.eng.Close(v); err != nil {
		p.log.Error("close unregistered view", zap.String("source", v.Source()), zap.Error(err))
	}
}
