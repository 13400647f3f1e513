package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// refresher is the per-source staleness loop. One is started when a source
// registers and stopped when it is dropped. The probe period comes from
// Options.RefreshInterval; ForceRefresh nudges an immediate cycle through
// the 1-buffered kick channel, so bursts coalesce into one probe.
type refresher struct {
	source string
	pool   *Pool
	nudge  chan struct{}
	retime chan time.Duration
	ctx    context.Context
	cancel context.CancelFunc
}

// startRefresherLocked spins up the refresh loop for source. Caller holds
// p.mu with the source freshly registered.
func (p *Pool) startRefresherLocked(source string) {
	ctx, cancel := context.WithCancel(p.baseCtx)
	r := &refresher{
		source: source,
		pool:   p,
		nudge:  make(chan struct{}, 1),
		retime: make(chan time.Duration, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	p.refreshers[source] = r
	p.wg.Add(1)
	go r.run()
}

func (r *refresher) run() {
	defer r.pool.wg.Done()

	log := r.pool.log.With(zap.String("source", r.source))
	t := time.NewTicker(r.pool.opts.RefreshInterval)
	defer t.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case d := <-r.retime:
			t.Reset(d) // next fire one full new period out
			continue
		case <-t.C:
		case <-r.nudge:
		}
		if err := r.pool.refreshSource(r.ctx, r.source); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("refresh cycle failed", zap.Error(err))
		}
	}
}

// setPeriod hands the loop a new probe period. Latest value wins: a
// pending unconsumed period is dropped in its favor, so the call never
// blocks even after the loop has exited.
func (r *refresher) setPeriod(d time.Duration) {
	for {
		select {
		case r.retime <- d:
			return
		case <-r.retime:
		}
	}
}

// stop cancels the loop without waiting for it to exit. The goroutine may
// be mid-cycle holding the source gate; waiting here while the caller
// holds that same gate would deadlock. Drainage happens in Pool.Close.
func (r *refresher) stop() { r.cancel() }

// kick requests an immediate probe. Non-blocking; a pending kick absorbs
// further ones.
func (r *refresher) kick() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// refreshSource probes source for a newer generation and, when one exists,
// swaps the registry to a fresh handle and retires the old one.
//
// The probe and the open of the fresh view run outside the source gate so
// a slow reopen never blocks admission. The swap is gated and re-verifies
// the registry: the source may have been dropped or re-registered while
// the probe ran, in which case the fresh view is closed and the cycle
// abandoned.
func (p *Pool) refreshSource(ctx context.Context, source string) error {
	p.mu.RLock()
	h, ok := p.handles[source]
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	if !ok {
		return nil // dropped since scheduling
	}

	fresh, err := p.eng.ReopenIfChanged(ctx, h.view)
	if err != nil {
		return fmt.Errorf("reopen %q: %w", source, err)
	}
	if fresh == nil {
		return nil // current generation still live
	}

	g, ok := p.loadGate(source)
	if !ok {
		// Every registered source was gated at registration. Do not guess;
		// drop the fresh view and surface the inconsistency.
		p.closeView(fresh)
		p.log.Error("no gate for registered source", zap.String("source", source))
		return fmt.Errorf("no gate for registered source %q", source)
	}
	if err := g.LockContext(ctx); err != nil {
		p.closeView(fresh)
		return err
	}
	defer g.Unlock()

	p.mu.Lock()
	cur, ok := p.handles[source]
	if !ok || cur != h || p.closed {
		// Superseded mid-probe. The fresh view belongs to nobody.
		p.mu.Unlock()
		p.closeView(fresh)
		return nil
	}
	nh := newHandle(source, fresh, p.opts.HandleCapacity)
	p.handles[source] = nh
	p.retiring[h] = struct{}{}
	p.mu.Unlock()

	h.markRetired()
	p.reap(h)

	p.log.Info("swapped source to fresh view",
		zap.String("source", source),
		zap.Uint64("generation", fresh.Generation()),
		zap.Uint64("prev_generation", h.view.Generation()),
		zap.Int("docs", fresh.DocCount()))
	return nil
}
