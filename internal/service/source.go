package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/edirooss/indexpool-server/internal/domain/source"
	"github.com/edirooss/indexpool-server/internal/http/dto"
	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/edirooss/indexpool-server/internal/repo"
	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// SourceService
// -----------------------------------------------------------------------------
//
// Runtime model
//   • Single process, many concurrent requests.
//   • Mutations for the SAME source ID are serialized via a per-ID lock.
//   • Reads (Get/List) are lock-free.
//
// Contract (runtime-first)
//   • The pool is source of truth for what is open. Side-effects land first,
//     then we persist.
//   • If a pool operation fails → no Redis changes are made.
//   • If Redis write fails AFTER a successful pool change → we attempt to
//     roll back the pool change (best-effort) and return an error.
//
// Idempotency / semantics
//   • Create(Enabled=false): pure persist.
//   • Create(Enabled=true): open the index first, then persist.
//   • Update:
//       - false→true                → open desired path → persist.
//       - true→false                → drop registration → persist disabled.
//       - true→true + path moved    → open new path → persist → drop old path.
//       - true→true + path same     → re-apply probe period → persist.
//   • Delete: drop registration if enabled, then delete from Redis; on delete
//     failure and if we dropped it, best-effort re-open to avoid an outage
//     masked by storage failure.
//
// Draining
//   • Dropping a path never interrupts admitted readers; their views close on
//     the last release. Rollbacks rely on the same property: re-opening a
//     just-dropped path is cheap and safe.

// SourceService coordinates the catalog (Redis) and the index pool.
type SourceService struct {
	log     *zap.Logger
	sources sourceCatalog
	pool    *pool.Pool

	// per-source locks to serialize mutating requests on the same ID
	muxes sync.Map // map[string]*sync.Mutex
}

// sourceCatalog is the persistence surface SourceService needs. Satisfied by
// *repo.SourceRepository; tests substitute an in-memory catalog.
type sourceCatalog interface {
	Upsert(ctx context.Context, src *source.Source) error
	Delete(ctx context.Context, id string) error
	HasID(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (*source.Source, error)
	GetAll(ctx context.Context) ([]*source.Source, error)
}

var (
	// ErrLocked signals a concurrent mutation is already in flight for this ID.
	ErrLocked = errors.New("source locked")
	// ErrSourceExists signals a create with an ID that is already cataloged.
	ErrSourceExists = errors.New("source already exists")
	// ErrSourceDisabled signals a runtime operation on a disabled source.
	ErrSourceDisabled = errors.New("source disabled")
)

// NewSourceService wires dependencies, then reconciles the pool runtime with
// the catalog (drop zombies, open enabled).
func NewSourceService(ctx context.Context, log *zap.Logger, rep *repo.Repository, p *pool.Pool) (*SourceService, error) {
	svc := &SourceService{
		log:     log.Named("source_service"),
		sources: rep.Sources,
		pool:    p,
	}

	// Boot-time reconciliation: enforce a clean slate + desired state.
	if err := svc.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap reconcile: %w", err)
	}

	return svc, nil
}

// lock acquires the per-ID lock (blocking). Always returns a valid unlock func.
// Safe to call multiple times; same ID maps to the same lock.
func (s *SourceService) lock(id string) func() {
	v, _ := s.muxes.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return func() { m.Unlock() }
}

// tryLock attempts to acquire the per-ID lock without blocking.
func (s *SourceService) tryLock(id string) (func(), error) {
	v, _ := s.muxes.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	if !m.TryLock() {
		return func() {}, fmt.Errorf("id %s: %w", id, ErrLocked)
	}
	return func() { m.Unlock() }, nil
}

// CreateSource catalogs a source and (optionally) opens its index.
// Runtime-first semantics:
//   - If src.Enabled==true: open the index first; on success, persist.
//     If persistence fails, drop the registration (best-effort) and return error.
//   - If src.Enabled==false: no runtime change; just persist.
func (s *SourceService) CreateSource(ctx context.Context, src *source.Source) error {
	unlock := s.lock(src.ID)
	defer unlock()

	exists, err := s.sources.HasID(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("has id: %w", err)
	}
	if exists {
		return fmt.Errorf("id %s: %w", src.ID, ErrSourceExists)
	}

	src.CreatedAt = time.Now().UTC()

	if src.Enabled {
		// Open the index first so Redis only reflects open state after success.
		if err := s.ensureRuntime(ctx, src); err != nil {
			return fmt.Errorf("open index: %w", err)
		}

		// Persist the final (enabled) state.
		if err := s.sources.Upsert(ctx, src); err != nil {
			// Rollback: drop the fresh registration
			if dropErr := s.pool.Drop(ctx, src.Path); dropErr != nil && !errors.Is(dropErr, pool.ErrUnknownSource) {
				s.log.Error("rollback pool failed", zap.String("transition", "OFF→ON"), zap.Error(dropErr))
			}
			return fmt.Errorf("upsert: %w", err)
		}

		return nil
	}

	// Disabled create: pure persist path.
	if err := s.sources.Upsert(ctx, src); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// GetSource returns a single source by ID (read-only).
func (s *SourceService) GetSource(ctx context.Context, id string) (*source.Source, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return src, nil
}

// ListSources returns all cataloged sources (read-only).
func (s *SourceService) ListSources(ctx context.Context) ([]*source.Source, error) {
	srcs, err := s.sources.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("get all: %w", err)
	}
	return srcs, nil
}

// UpdateSource reconciles a source from its current spec to the desired spec
// using runtime-first semantics with compensation.
//
// Transition rules:
//   - OFF → ON:
//     Open desired path → Upsert state.
//     If Upsert fails: drop registration (avoid drift).
//   - ON → OFF:
//     Drop registration → Upsert disabled.
//     If Upsert fails: re-open old path (avoid outage).
//   - ON → ON, path moved:
//     Open new path → Upsert state → drop old path.
//     If Upsert fails: drop new path (avoid drift). The old path is dropped
//     last so there is no window with neither index registered.
//   - ON → ON, path same:
//     Re-apply probe period → Upsert.
//     If Upsert fails: restore old probe period.
//   - OFF → OFF:
//     No runtime ops → Upsert only.
//
// Invariants:
//   - Redis only persists states that actually landed.
//   - Any side-effect failure aborts before persistence.
//
// Logging policy:
//   - Only rollback failures are logged (structured, zap-style).
func (s *SourceService) UpdateSource(ctx context.Context, src *source.Source) error {
	unlock, err := s.tryLock(src.ID)
	if err != nil {
		return fmt.Errorf("try lock: %w", err)
	}
	defer unlock()

	// Fetch current spec for comparison & rollback context.
	cur, err := s.sources.GetByID(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	// Provenance is immutable across updates.
	src.CreatedAt = cur.CreatedAt

	switch {
	// OFF → ON: open desired path, then persist.
	case !cur.Enabled && src.Enabled:
		if err := s.ensureRuntime(ctx, src); err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		if err := s.sources.Upsert(ctx, src); err != nil {
			// Rollback: drop the fresh registration
			if dropErr := s.pool.Drop(ctx, src.Path); dropErr != nil && !errors.Is(dropErr, pool.ErrUnknownSource) {
				s.log.Error("rollback pool failed", zap.String("transition", "OFF→ON"), zap.Error(dropErr))
			}
			return fmt.Errorf("upsert: %w", err)
		}
		return nil

	// ON → OFF: drop registration, then persist.
	case cur.Enabled && !src.Enabled:
		if err := s.pool.Drop(ctx, cur.Path); err != nil {
			if errors.Is(err, pool.ErrUnknownSource) {
				// registration already gone — handle gracefully, just log
				s.log.Warn("source not in pool", zap.String("transition", "ON→OFF"), zap.String("path", cur.Path))
			} else {
				return fmt.Errorf("drop source: %w", err)
			}
		}
		if err := s.sources.Upsert(ctx, src); err != nil {
			// Rollback: re-open the old path
			if ensureErr := s.ensureRuntime(ctx, cur); ensureErr != nil {
				s.log.Error("rollback pool failed", zap.String("transition", "ON→OFF"), zap.Error(ensureErr))
			}
			return fmt.Errorf("upsert: %w", err)
		}
		return nil

	// ON → ON: reconcile runtime to the desired path, then persist.
	case cur.Enabled && src.Enabled:
		if cur.Path == src.Path {
			// Same index on disk; only the probe period may have moved.
			if err := s.ensureRuntime(ctx, src); err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			if err := s.sources.Upsert(ctx, src); err != nil {
				// Rollback: restore the old probe period
				if retimeErr := s.pool.SetRefreshInterval(cur.Path, refreshInterval(cur)); retimeErr != nil && !errors.Is(retimeErr, pool.ErrUnknownSource) {
					s.log.Error("rollback pool failed", zap.String("transition", "ON→ON"), zap.Error(retimeErr))
				}
				return fmt.Errorf("upsert: %w", err)
			}
			return nil
		}

		if err := s.ensureRuntime(ctx, src); err != nil {
			return fmt.Errorf("open new index: %w", err)
		}
		if err := s.sources.Upsert(ctx, src); err != nil {
			// Rollback: drop the new registration
			if dropErr := s.pool.Drop(ctx, src.Path); dropErr != nil && !errors.Is(dropErr, pool.ErrUnknownSource) {
				s.log.Error("rollback pool failed", zap.String("transition", "ON→ON"), zap.Error(dropErr))
			}
			return fmt.Errorf("upsert: %w", err)
		}
		if dropErr := s.pool.Drop(ctx, cur.Path); dropErr != nil && !errors.Is(dropErr, pool.ErrUnknownSource) {
			// Old path lingers registered; nothing references it, refresh keeps probing it.
			s.log.Warn("drop old path failed", zap.String("transition", "ON→ON"), zap.String("path", cur.Path), zap.Error(dropErr))
		}
		return nil

	// OFF → OFF: no runtime ops, just persist.
	default:
		if err := s.sources.Upsert(ctx, src); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		return nil
	}
}

// DeleteSource drops the registration (if enabled) and deletes the record.
// If deletion fails after dropping, we best-effort re-open the path to avoid
// accidental outage masked by storage failure.
func (s *SourceService) DeleteSource(ctx context.Context, id string) error {
	unlock, err := s.tryLock(id)
	if err != nil {
		return fmt.Errorf("try lock: %w", err)
	}
	defer unlock()

	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}

	wasEnabled := src.Enabled

	if wasEnabled {
		if err := s.pool.Drop(ctx, src.Path); err != nil {
			if errors.Is(err, pool.ErrUnknownSource) {
				// registration already gone — handle gracefully, just log
				s.log.Warn("source not in pool", zap.String("path", src.Path))
			} else {
				return fmt.Errorf("drop source: %w", err)
			}
		}
	}

	if err := s.sources.Delete(ctx, id); err != nil {
		if wasEnabled {
			// Rollback: re-open the old path
			if ensureErr := s.ensureRuntime(ctx, src); ensureErr != nil {
				s.log.Error("rollback pool failed", zap.Error(ensureErr))
			}
		}
		return fmt.Errorf("delete: %w", err)
	}

	// Once deleted, we can discard the per-ID lock.
	s.muxes.Delete(id)
	return nil
}

// RefreshSource schedules an immediate staleness probe for the source's path,
// opening the index first if it is not currently registered.
func (s *SourceService) RefreshSource(ctx context.Context, id string) error {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if !src.Enabled {
		return fmt.Errorf("id %s: %w", id, ErrSourceDisabled)
	}
	if err := s.ensureRuntime(ctx, src); err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if err := s.pool.ForceRefresh(src.Path); err != nil && !errors.Is(err, pool.ErrUnknownSource) {
		// Evicted between ensure and kick; the next registration opens the
		// latest generation anyway.
		return fmt.Errorf("force refresh: %w", err)
	}
	return nil
}

// StatSource reports the live view a reader of this source would be served
// right now. Goes through a real acquisition, so it observes admission
// backpressure the same way readers do; ctx bounds the wait.
func (s *SourceService) StatSource(ctx context.Context, id string) (*dto.SourceStat, error) {
	src, err := s.sources.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	if !src.Enabled {
		return nil, fmt.Errorf("id %s: %w", id, ErrSourceDisabled)
	}

	l, err := s.pool.Acquire(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	defer l.Release()

	v := l.View()
	stat := &dto.SourceStat{ID: src.ID, Path: src.Path}
	stat.Generation = v.Generation()
	stat.DocCount = v.DocCount()
	for _, st := range s.pool.Stats().Sources {
		if st.Source == src.Path {
			stat.InUse = st.InUse // includes this acquisition
			stat.Capacity = st.Capacity
			stat.OpenedAt = st.OpenedAt
			stat.PendingRetire = st.PendingRetire
			break
		}
	}
	return stat, nil
}

// ensureRuntime registers src.Path in the pool (opening the index on first
// use) and applies the per-source probe period. Registration is idempotent;
// an already-open path just gets its period re-applied.
func (s *SourceService) ensureRuntime(ctx context.Context, src *source.Source) error {
	l, err := s.pool.Acquire(ctx, src.Path)
	if err != nil {
		return err
	}
	l.Release()
	if err := s.pool.SetRefreshInterval(src.Path, refreshInterval(src)); err != nil && !errors.Is(err, pool.ErrUnknownSource) {
		return err
	}
	return nil
}

// refreshInterval maps the cataloged period to pool time. 0 defers to the
// pool-wide default.
func refreshInterval(src *source.Source) time.Duration {
	return time.Duration(src.RefreshSeconds) * time.Second
}

// Reconcile brings the pool runtime into alignment with the catalog's desired
// state.
//
// Strategy (two-phase, idempotent):
//  1. Enumerate registered paths and drop any that no enabled source in the
//     catalog references (i.e., zombies left by out-of-band catalog writes).
//  2. Open an index for every enabled source whose path was not already
//     registered in phase (1).
//
// Semantics & failure policy:
//   - Zombies are best-effort to drop: failures are WARNed and reconciliation
//     continues. Admitted readers on dropped paths drain as usual.
//   - Opening desired-but-missing paths is REQUIRED: on the first failure, we
//     return an error. This makes constructor/boot fail fast instead of
//     drifting into split-brain.
//
// Concurrency & idempotency:
//   - Safe to run multiple times; it converges to the same state.
//   - Assumes a single active controller instance; if you run multiple server
//     instances, you may want external leader election to avoid thrash.
//
// Complexity:
//   - O(N + M) where N = #cataloged sources, M = #registered paths.
func (s *SourceService) Reconcile(ctx context.Context) error {
	// 1) Load desired state from the catalog and index enabled sources by path.
	srcs, err := s.sources.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	// Map of desired path -> source (only for Enabled sources).
	// Using a map gives O(1) membership checks when scanning the pool snapshot.
	enabledPaths := make(map[string]*source.Source, len(srcs))
	for _, src := range srcs {
		if src.Enabled {
			enabledPaths[src.Path] = src
		}
	}

	// 2) Observe actual state from the pool.
	snap := s.pool.Stats()

	// Pass A: drop any registered path not declared enabled in the catalog.
	for _, st := range snap.Sources {
		// If this path is desired and already present, re-apply its probe
		// period and remove it from the "to open" set.
		if src, ok := enabledPaths[st.Source]; ok {
			if err := s.pool.SetRefreshInterval(st.Source, refreshInterval(src)); err != nil && !errors.Is(err, pool.ErrUnknownSource) {
				s.log.Warn("retime registered path failed", zap.String("path", st.Source), zap.Error(err))
			}
			delete(enabledPaths, st.Source)
			continue
		}

		// Otherwise it's a zombie; try to drop it. Non-fatal on failure.
		if err := s.pool.Drop(ctx, st.Source); err != nil {
			if errors.Is(err, pool.ErrUnknownSource) {
				// The registration raced away; not a big deal.
				s.log.Warn("zombie registration already gone", zap.String("path", st.Source))
				continue
			}
			s.log.Warn("drop zombie registration failed", zap.String("path", st.Source), zap.Error(err))
		}
	}

	// Pass B: open any desired-but-missing paths.
	// If any open fails, fail the reconcile to avoid silent drift.
	for path, src := range enabledPaths {
		if err := s.ensureRuntime(ctx, src); err != nil {
			return fmt.Errorf("open index %q: %w", path, err)
		}
	}

	return nil
}
