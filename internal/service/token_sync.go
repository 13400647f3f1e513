package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/edirooss/indexpool-server/internal/principal"
	"github.com/edirooss/indexpool-server/internal/repo"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// TokenSyncService seeds bearer tokens into Redis from a spec file on boot and
// live-updates Redis on changes. StartTokenSync(...) kicks off the initial load
// and a debounced fs watcher; everything else is internal.
type TokenSyncService struct {
	log  *zap.Logger
	repo *repo.Repository

	specPath string
	debounce time.Duration
}

// StartTokenSync constructs the token sync service, applies the spec once, and
// starts a debounced watcher. The service lives/lifetimes with the provided
// ctx; cancel ctx to stop the watcher.
func StartTokenSync(ctx context.Context, log *zap.Logger, rep *repo.Repository, specPath string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 750 * time.Millisecond
	}
	if specPath == "" {
		specPath = defaultFilePath("configs/tokens.json", "/etc/indexpool-server/tokens.json")
	}
	s := &TokenSyncService{
		log:      log.Named("token_sync"),
		repo:     rep,
		specPath: specPath,
		debounce: debounce,
	}

	// Initial apply on boot. If it fails, we surface the error: caller can decide to abort startup.
	if err := s.applyOnce(ctx); err != nil {
		return fmt.Errorf("initial apply: %w", err)
	}

	// Spin the filesystem watcher in the background; debounced to coalesce editor writes.
	go s.watch(ctx)

	return nil
}

// --- internal model + helpers ------------------------------------------------

// tokenSpecFile is the on-disk contract for bearer tokens.
// Keep it tiny and explicit; validation happens in applyOnce.
type tokenSpecFile struct {
	Tokens map[string]struct {
		PrincipalID string         `json:"principal_id"`
		Kind        principal.Kind `json:"kind"` // "admin" | "service_account"
	} `json:"tokens"`
}

func (s *TokenSyncService) loadSpec(path string) (*tokenSpecFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open '%s': %w", path, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var spec tokenSpecFile
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	// Normalize a nil map to an empty map to simplify downstream logic.
	if spec.Tokens == nil {
		spec.Tokens = map[string]struct {
			PrincipalID string         `json:"principal_id"`
			Kind        principal.Kind `json:"kind"`
		}{}
	}
	return &spec, nil
}

// applyOnce overwrites Redis to match the spec file.
// DEV: Simplicity over transactional semantics: we clear then repopulate.
func (s *TokenSyncService) applyOnce(ctx context.Context) error {
	abs, err := filepath.Abs(s.specPath)
	if err != nil {
		abs = s.specPath
	}
	spec, err := s.loadSpec(abs)
	if err != nil {
		return fmt.Errorf("load spec: %w", err)
	}

	// Strategy: wipe all then reinsert from spec (small cardinality, read-heavy).
	if err := s.repo.Principals.DeleteAll(ctx); err != nil {
		return fmt.Errorf("principals delete all: %w", err)
	}
	for token, p := range spec.Tokens {
		if p.PrincipalID == "" {
			return fmt.Errorf("token %q: empty principal_id", token)
		}
		if err := s.repo.Principals.Upsert(ctx, token, &principal.Principal{
			ID:            p.PrincipalID,
			PrincipalType: p.Kind,
		}); err != nil {
			return fmt.Errorf("principals upsert (%s): %w", token, err)
		}
	}

	s.log.Info("token spec applied",
		zap.Int("tokens", len(spec.Tokens)),
		zap.String("path", abs),
	)
	return nil
}

// watch sets up fsnotify and runs a debounced apply on relevant file events.
// DEV: Debounce guards against partial writes / save bursts from editors.
func (s *TokenSyncService) watch(ctx context.Context) {
	abs, err := filepath.Abs(s.specPath)
	if err != nil {
		abs = s.specPath
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error("watcher init", zap.Error(err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		s.log.Error("watch add dir", zap.String("dir", dir), zap.Error(err))
		return
	}

	// Debounce with a single timer reused; reset on each qualifying event.
	var t *time.Timer
	trigger := func() {
		// Apply with a fresh short-lived context; don't block indefinitely on Redis.
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.applyOnce(cctx); err != nil {
			s.log.Warn("apply failed", zap.Error(err))
		}
	}

	reset := func() {
		if t != nil {
			t.Stop()
		}
		t = time.AfterFunc(s.debounce, trigger)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Only react to changes on the spec file itself.
			if ev.Name != abs {
				continue
			}
			// Consider Write/Create/Rename as content changes; Remove means the file is gone (ignore until it reappears).
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				reset()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.Warn("watch error", zap.Error(err))
		}
	}
}

// --- helpers -----------------------------------------------------------

// defaultFilePath takes a list of file names as variadic arguments
// and returns the path of the first existing file.
// It returns an empty string if no file is found.
func defaultFilePath(fileNames ...string) string {
	for _, fileName := range fileNames {
		if fileExists(fileName) {
			return fileName
		}
	}
	return ""
}

// fileExists checks if a file or directory exists at the given path.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
