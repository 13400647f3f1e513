package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DirWatchService nudges the pool when registered index directories change on
// disk, closing the gap between snapshot publication and the next periodic
// probe. StartDirWatch(...) starts the watcher; everything else is internal.
//
// The watch set follows the pool: a periodic resync converges it to the
// currently registered paths, so sources picked up or dropped at request time
// get watched or unwatched without coupling the pool to the watcher.
type DirWatchService struct {
	log      *zap.Logger
	pool     *pool.Pool
	debounce time.Duration
	resync   time.Duration

	// Accessed only on the run goroutine.
	watched map[string]struct{}
	timers  map[string]*time.Timer
}

// StartDirWatch constructs the watcher service and starts its loop. The
// service lives/lifetimes with the provided ctx; cancel ctx to stop it.
func StartDirWatch(ctx context.Context, log *zap.Logger, p *pool.Pool, debounce, resync time.Duration) error {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	if resync <= 0 {
		resync = 30 * time.Second
	}
	s := &DirWatchService{
		log:      log.Named("dir_watch"),
		pool:     p,
		debounce: debounce,
		resync:   resync,
		watched:  make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher init: %w", err)
	}

	go s.run(ctx, w)

	return nil
}

func (s *DirWatchService) run(ctx context.Context, w *fsnotify.Watcher) {
	defer w.Close()

	s.alignWatches(w)
	t := time.NewTicker(s.resync)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.alignWatches(w)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Consider Write/Create/Rename as content changes; segment and
			// manifest churn inside an index dir shows up as one of these.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if dir, ok := s.watchedDir(ev.Name); ok {
				s.reset(dir)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("watch error", zap.Error(err))
		}
	}
}

// reset (re)arms the per-directory debounce timer. Editors and index writers
// emit bursts; only the last event within the window triggers a nudge.
func (s *DirWatchService) reset(dir string) {
	if t, ok := s.timers[dir]; ok {
		t.Stop()
	}
	s.timers[dir] = time.AfterFunc(s.debounce, func() {
		if err := s.pool.ForceRefresh(dir); err != nil {
			// Dropped since the event fired; nothing to nudge.
			s.log.Debug("refresh nudge skipped", zap.String("path", dir), zap.Error(err))
			return
		}
		s.log.Debug("nudged refresh on fs change", zap.String("path", dir))
	})
}

// watchedDir resolves an event name to the watched index directory it belongs
// to: either the directory itself or its parent (events carry file names).
func (s *DirWatchService) watchedDir(name string) (string, bool) {
	if _, ok := s.watched[name]; ok {
		return name, true
	}
	dir := filepath.Dir(name)
	if _, ok := s.watched[dir]; ok {
		return dir, true
	}
	return "", false
}

// alignWatches converges the fsnotify watch set to the pool's registered paths.
func (s *DirWatchService) alignWatches(w *fsnotify.Watcher) {
	want := make(map[string]struct{})
	for _, st := range s.pool.Stats().Sources {
		want[st.Source] = struct{}{}
	}

	for dir := range s.watched {
		if _, ok := want[dir]; ok {
			continue
		}
		if err := w.Remove(dir); err != nil {
			// Already gone when the dir was deleted out from under us.
			s.log.Debug("unwatch dir", zap.String("path", dir), zap.Error(err))
		}
		delete(s.watched, dir)
	}
	for dir := range want {
		if _, ok := s.watched[dir]; ok {
			continue
		}
		if err := w.Add(dir); err != nil {
			// Path may be mid-swap on disk; retry on the next resync.
			s.log.Warn("watch dir failed", zap.String("path", dir), zap.Error(err))
			continue
		}
		s.watched[dir] = struct{}{}
	}
}
