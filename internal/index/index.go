// Package index defines the contract between the handle pool and the
// search-index backend that actually opens, refreshes and closes read views.
//
// The pool never looks inside a view; it only moves views through their
// lifecycle. Engines must treat views as immutable once returned: a changed
// data set is surfaced as a brand-new view from ReopenIfChanged, never as a
// mutation of an existing one.
package index

import "context"

// View is an engine-owned, immutable, shareable read view over one source's
// data as of some point in time. Implementations are expected to be safe for
// concurrent readers without additional locking.
type View interface {
	// Source returns the identifier (directory path) the view was opened from.
	Source() string

	// Generation is a monotonically increasing version marker; a reopened
	// view for the same source must report a strictly greater generation.
	Generation() uint64

	// DocCount reports the number of documents visible through this view.
	DocCount() int
}

// Engine performs the physical open/refresh/close operations for a backend.
// All methods must be safe for concurrent use; the pool serializes calls per
// source but different sources proceed in parallel.
type Engine interface {
	// Open opens a fresh view over the given source.
	Open(ctx context.Context, source string) (View, error)

	// ReopenIfChanged checks whether the source behind current has newer data.
	// It returns (nil, nil) when nothing changed, a new independent view when
	// it did, or an error when the check itself failed. The current view stays
	// untouched in every case.
	ReopenIfChanged(ctx context.Context, current View) (View, error)

	// Close releases the resources behind a view. The pool guarantees Close is
	// invoked at most once per view, and only after the view has been
	// superseded and every admitted user has released it.
	Close(v View) error
}
