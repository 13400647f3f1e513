// Package indextest provides a scripted in-memory index.Engine for tests.
//
// The fake keeps per-source bookkeeping (open/close counts, current
// generation, injected failures) behind one mutex so tests can assert on
// lifecycle behavior without touching the filesystem. An optional open
// barrier lets concurrency tests park callers inside Open.
package indextest

import (
	"context"
	"fmt"
	"sync"

	"github.com/edirooss/indexpool-server/internal/index"
)

// Engine is a fake index.Engine driven entirely by test code.
type Engine struct {
	mu sync.Mutex

	gens  map[string]uint64 // current generation per source; unset means 1
	docs  map[string]int    // doc count per source; unset means 0
	opens map[string]int
	close map[string]int

	openErr   map[string]error
	reopenErr map[string]error
	closeErr  map[string]error

	barrier chan struct{} // non-nil while opens are held

	live map[*View]struct{}
}

// New returns an empty fake engine. Every source opens at generation 1
// until [Engine.SetGeneration] says otherwise.
func New() *Engine {
	return &Engine{
		gens:      make(map[string]uint64),
		docs:      make(map[string]int),
		opens:     make(map[string]int),
		close:     make(map[string]int),
		openErr:   make(map[string]error),
		reopenErr: make(map[string]error),
		closeErr:  make(map[string]error),
		live:      make(map[*View]struct{}),
	}
}

// --- scripting -------------------------------------------------------------

// SetGeneration sets the generation subsequent opens and reopen probes see.
func (e *Engine) SetGeneration(source string, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gens[source] = gen
}

// SetDocCount sets the doc count subsequent opens see.
func (e *Engine) SetDocCount(source string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs[source] = n
}

// FailOpen makes Open for source return err. Pass nil to clear.
func (e *Engine) FailOpen(source string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr[source] = err
}

// FailReopen makes ReopenIfChanged for source return err. Pass nil to clear.
func (e *Engine) FailReopen(source string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reopenErr[source] = err
}

// FailClose makes Close of views on source return err. Pass nil to clear.
// The view is still marked closed.
func (e *Engine) FailClose(source string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeErr[source] = err
}

// HoldOpens parks every subsequent Open until the returned release func
// runs. Release is idempotent.
func (e *Engine) HoldOpens() (release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.barrier = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// --- inspection ------------------------------------------------------------

// OpenCount reports how many times Open was attempted for source,
// including failed attempts.
func (e *Engine) OpenCount(source string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens[source]
}

// CloseCount reports how many views of source were closed.
func (e *Engine) CloseCount(source string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.close[source]
}

// LiveViews reports how many views are currently open across all sources.
func (e *Engine) LiveViews() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// --- index.Engine ----------------------------------------------------------

func (e *Engine) Open(ctx context.Context, source string) (index.View, error) {
	e.mu.Lock()
	e.opens[source]++
	err := e.openErr[source]
	barrier := e.barrier
	e.mu.Unlock()

	if barrier != nil {
		select {
		case <-barrier:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	v := &View{eng: e, source: source, gen: e.generationLocked(source), docs: e.docs[source]}
	e.live[v] = struct{}{}
	return v, nil
}

func (e *Engine) ReopenIfChanged(ctx context.Context, current index.View) (index.View, error) {
	cv, ok := current.(*View)
	if !ok {
		return nil, fmt.Errorf("indextest: foreign view %T", current)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.reopenErr[cv.source]; err != nil {
		return nil, err
	}
	gen := e.generationLocked(cv.source)
	if gen == cv.gen {
		return nil, nil
	}
	v := &View{eng: e, source: cv.source, gen: gen, docs: e.docs[cv.source]}
	e.live[v] = struct{}{}
	return v, nil
}

func (e *Engine) Close(v index.View) error {
	cv, ok := v.(*View)
	if !ok {
		return fmt.Errorf("indextest: foreign view %T", v)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cv.closed {
		return fmt.Errorf("indextest: double close of %s gen %d", cv.source, cv.gen)
	}
	cv.closed = true
	delete(e.live, cv)
	e.close[cv.source]++
	return e.closeErr[cv.source]
}

func (e *Engine) generationLocked(source string) uint64 {
	if gen, ok := e.gens[source]; ok {
		return gen
	}
	return 1
}

// View is a fake index view. Comparing Generation against the engine's
// scripted generation is how tests detect swaps.
type View struct {
	eng    *Engine
	source string
	gen    uint64
	docs   int
	closed bool
}

func (v *View) Source() string     { return v.source }
func (v *View) Generation() uint64 { return v.gen }
func (v *View) DocCount() int      { return v.docs }
