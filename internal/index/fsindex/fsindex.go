// Package fsindex implements index.Engine over immutable on-disk index
// snapshots.
//
// A source is a directory an external indexer publishes into: segment files
// plus a MANIFEST.json naming them and carrying a monotonic generation
// counter. The indexer never rewrites segments in place — it writes new
// files and then replaces the manifest atomically. That makes an open view
// stable for as long as its descriptors are held, which is exactly the
// immutability contract the pool relies on.
package fsindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edirooss/indexpool-server/internal/index"
	"go.uber.org/zap"
)

// Engine opens read views over manifest-published index directories.
type Engine struct {
	log *zap.Logger
}

// New returns a filesystem index engine.
func New(log *zap.Logger) *Engine {
	return &Engine{log: log.Named("fsindex")}
}

// Open reads the current manifest in dir and opens every listed segment
// read-only. The returned view pins that generation until Close.
func (e *Engine) Open(ctx context.Context, dir string) (index.View, error) {
	m, err := loadManifest(dir)
	if err != nil {
		return nil, err
	}
	return e.openView(ctx, dir, m)
}

// ReopenIfChanged re-reads the manifest behind current and opens a fresh
// view when the published generation moved. (nil, nil) means no change.
func (e *Engine) ReopenIfChanged(ctx context.Context, current index.View) (index.View, error) {
	cur, ok := current.(*View)
	if !ok {
		return nil, fmt.Errorf("foreign view type %T", current)
	}

	m, err := loadManifest(cur.dir)
	if err != nil {
		return nil, err
	}
	if m.Generation == cur.gen {
		return nil, nil
	}
	if m.Generation < cur.gen {
		// An indexer must never publish backwards; refuse rather than serve
		// older data under a "newer" handle.
		return nil, fmt.Errorf("generation moved backwards: %d -> %d", cur.gen, m.Generation)
	}

	v, err := e.openView(ctx, cur.dir, m)
	if err != nil {
		return nil, err
	}
	e.log.Info("reopened view",
		zap.String("dir", cur.dir),
		zap.Uint64("old_generation", cur.gen),
		zap.Uint64("new_generation", m.Generation),
	)
	return v, nil
}

// Close releases the view's segment descriptors. Individual close failures
// are joined; the view is unusable afterwards either way.
func (e *Engine) Close(v index.View) error {
	view, ok := v.(*View)
	if !ok {
		return fmt.Errorf("foreign view type %T", v)
	}
	if view.closed {
		return fmt.Errorf("view for %q already closed", view.dir)
	}
	view.closed = true

	var errs []error
	for _, seg := range view.segments {
		if err := seg.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", seg.name, err))
		}
	}
	return errors.Join(errs...)
}

// openView opens the segments named by m and assembles the view. Any failure
// closes what was already opened so a half-built view never leaks.
func (e *Engine) openView(ctx context.Context, dir string, m *manifest) (*View, error) {
	v := &View{
		dir:       dir,
		gen:       m.Generation,
		docs:      m.DocCount,
		createdAt: m.CreatedAt,
		openedAt:  time.Now(),
		segments:  make([]openSegment, 0, len(m.Segments)),
	}

	for _, seg := range m.Segments {
		if err := ctx.Err(); err != nil {
			v.closePartial()
			return nil, err
		}

		f, err := os.Open(filepath.Join(dir, seg.Name))
		if err != nil {
			v.closePartial()
			return nil, fmt.Errorf("open segment %s: %w", seg.Name, err)
		}
		st, err := f.Stat()
		if err != nil {
			_ = f.Close()
			v.closePartial()
			return nil, fmt.Errorf("stat segment %s: %w", seg.Name, err)
		}
		if st.Size() != seg.Bytes {
			_ = f.Close()
			v.closePartial()
			return nil, fmt.Errorf("segment %s: size %d does not match manifest (%d)", seg.Name, st.Size(), seg.Bytes)
		}

		v.segments = append(v.segments, openSegment{name: seg.Name, size: seg.Bytes, file: f})
		v.bytes += seg.Bytes
	}

	e.log.Debug("opened view",
		zap.String("dir", dir),
		zap.Uint64("generation", v.gen),
		zap.Int("segments", len(v.segments)),
		zap.Int64("bytes", v.bytes),
	)
	return v, nil
}

// View is one pinned index generation: the manifest metadata plus an open
// read-only descriptor per segment.
type View struct {
	dir       string
	gen       uint64
	docs      int
	bytes     int64
	createdAt time.Time
	openedAt  time.Time
	segments  []openSegment
	closed    bool
}

type openSegment struct {
	name string
	size int64
	file *os.File
}

func (v *View) Source() string     { return v.dir }
func (v *View) Generation() uint64 { return v.gen }
func (v *View) DocCount() int      { return v.docs }

// SegmentCount reports how many segment files the view pins.
func (v *View) SegmentCount() int { return len(v.segments) }

// Bytes reports the total on-disk size of the pinned segments.
func (v *View) Bytes() int64 { return v.bytes }

// CreatedAt is the indexer's publish timestamp from the manifest.
func (v *View) CreatedAt() time.Time { return v.createdAt }

// OpenedAt is when this process opened the view.
func (v *View) OpenedAt() time.Time { return v.openedAt }

// closePartial tears down a view that failed mid-open. Best effort; the
// descriptors are about to be reported as an open failure anyway.
func (v *View) closePartial() {
	for _, seg := range v.segments {
		_ = seg.file.Close()
	}
	v.segments = nil
}
