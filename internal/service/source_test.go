package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edirooss/indexpool-server/internal/domain/source"
	"github.com/edirooss/indexpool-server/internal/index/indextest"
	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/edirooss/indexpool-server/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memCatalog is an in-memory sourceCatalog. Error injection mimics Redis
// write failures so rollback paths can be exercised.
type memCatalog struct {
	mu         sync.Mutex
	rows       map[string]*source.Source
	failUpsert error
	failDelete error
	failGetAll error
}

func newMemCatalog() *memCatalog {
	return &memCatalog{rows: make(map[string]*source.Source)}
}

func (c *memCatalog) Upsert(_ context.Context, src *source.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failUpsert != nil {
		return c.failUpsert
	}
	cp := src.Clone()
	c.rows[src.ID] = &cp
	return nil
}

func (c *memCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failDelete != nil {
		return c.failDelete
	}
	if _, ok := c.rows[id]; !ok {
		return repo.ErrSourceNotFound
	}
	delete(c.rows, id)
	return nil
}

func (c *memCatalog) HasID(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rows[id]
	return ok, nil
}

func (c *memCatalog) GetByID(_ context.Context, id string) (*source.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.rows[id]
	if !ok {
		return nil, repo.ErrSourceNotFound
	}
	cp := src.Clone()
	return &cp, nil
}

func (c *memCatalog) GetAll(_ context.Context) ([]*source.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGetAll != nil {
		return nil, c.failGetAll
	}
	out := make([]*source.Source, 0, len(c.rows))
	for _, src := range c.rows {
		cp := src.Clone()
		out = append(out, &cp)
	}
	return out, nil
}

// newSourceService builds a service over an in-memory catalog and a real pool
// backed by the test engine. The hour-long probe period keeps tickers silent.
func newSourceService(t *testing.T) (*SourceService, *memCatalog, *pool.Pool, *indextest.Engine) {
	t.Helper()
	eng := indextest.New()
	p, err := pool.New(zap.NewNop(), eng, pool.Options{RefreshInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	cat := newMemCatalog()
	svc := &SourceService{log: zap.NewNop(), sources: cat, pool: p}
	return svc, cat, p, eng
}

func registeredPaths(p *pool.Pool) []string {
	snap := p.Stats()
	paths := make([]string, 0, len(snap.Sources))
	for _, st := range snap.Sources {
		paths = append(paths, st.Source)
	}
	return paths
}

func testSource(id, path string, enabled bool) *source.Source {
	return &source.Source{ID: id, Path: path, Enabled: enabled}
}

func TestCreateSourceDisabledPersistsOnly(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))

	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.False(t, got.CreatedAt.IsZero(), "create should stamp provenance")
	assert.Empty(t, registeredPaths(p))
	assert.Equal(t, 0, eng.OpenCount("/idx/amber"))
}

func TestCreateSourceEnabledOpensIndex(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))

	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, []string{"/idx/amber"}, registeredPaths(p))
	assert.Equal(t, 1, eng.OpenCount("/idx/amber"))
}

func TestCreateSourceDuplicateID(t *testing.T) {
	svc, _, _, _ := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))
	err := svc.CreateSource(ctx, testSource("amber", "/idx/other", true))
	require.ErrorIs(t, err, ErrSourceExists)
}

func TestCreateSourceOpenFailure(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	boom := errors.New("segment checksum mismatch")
	eng.FailOpen("/idx/amber", boom)

	err := svc.CreateSource(ctx, testSource("amber", "/idx/amber", true))
	require.ErrorIs(t, err, boom)

	// Nothing landed: no catalog row, no registration.
	_, err = cat.GetByID(ctx, "amber")
	require.ErrorIs(t, err, repo.ErrSourceNotFound)
	assert.Empty(t, registeredPaths(p))
}

func TestCreateSourcePersistFailureRollsBack(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	boom := errors.New("redis down")
	cat.failUpsert = boom

	err := svc.CreateSource(ctx, testSource("amber", "/idx/amber", true))
	require.ErrorIs(t, err, boom)

	// The registration was rolled back and the opened view closed.
	assert.Empty(t, registeredPaths(p))
	assert.Equal(t, 1, eng.CloseCount("/idx/amber"))
	assert.Equal(t, 0, eng.LiveViews())
}

func TestUpdateSourceEnable(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))
	require.NoError(t, svc.UpdateSource(ctx, testSource("amber", "/idx/amber", true)))

	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, []string{"/idx/amber"}, registeredPaths(p))
	assert.Equal(t, 1, eng.OpenCount("/idx/amber"))
}

func TestUpdateSourceDisable(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))
	require.NoError(t, svc.UpdateSource(ctx, testSource("amber", "/idx/amber", false)))

	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Empty(t, registeredPaths(p))
	assert.Equal(t, 1, eng.CloseCount("/idx/amber"))
	assert.Equal(t, 0, eng.LiveViews())
}

func TestUpdateSourcePathMove(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber-v1", true)))
	require.NoError(t, svc.UpdateSource(ctx, testSource("amber", "/idx/amber-v2", true)))

	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.Equal(t, "/idx/amber-v2", got.Path)
	assert.Equal(t, []string{"/idx/amber-v2"}, registeredPaths(p))
	assert.Equal(t, 1, eng.CloseCount("/idx/amber-v1"), "old path should be dropped")
	assert.Equal(t, 1, eng.OpenCount("/idx/amber-v2"))
}

func TestUpdateSourceSamePath(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))

	desired := testSource("amber", "/idx/amber", true)
	desired.RefreshSeconds = 15
	require.NoError(t, svc.UpdateSource(ctx, desired))

	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.Equal(t, uint(15), got.RefreshSeconds)
	assert.Equal(t, []string{"/idx/amber"}, registeredPaths(p))
	assert.Equal(t, 1, eng.OpenCount("/idx/amber"), "no reopen for a same-path update")
}

func TestUpdateSourcePreservesCreatedAt(t *testing.T) {
	svc, cat, _, _ := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))
	created, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)

	require.NoError(t, svc.UpdateSource(ctx, testSource("amber", "/idx/amber", false)))
	got, err := cat.GetByID(ctx, "amber")
	require.NoError(t, err)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
}

func TestUpdateSourceDisablePersistFailureRestoresRuntime(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))

	boom := errors.New("redis down")
	cat.failUpsert = boom
	err := svc.UpdateSource(ctx, testSource("amber", "/idx/amber", false))
	require.ErrorIs(t, err, boom)

	// The drop landed but persistence failed, so the path was re-opened.
	assert.Equal(t, []string{"/idx/amber"}, registeredPaths(p))
	assert.Equal(t, 2, eng.OpenCount("/idx/amber"))
}

func TestUpdateSourceUnknownID(t *testing.T) {
	svc, _, _, _ := newSourceService(t)
	err := svc.UpdateSource(context.Background(), testSource("ghost", "/idx/ghost", false))
	require.ErrorIs(t, err, repo.ErrSourceNotFound)
}

func TestUpdateSourceConcurrentMutationLocked(t *testing.T) {
	svc, _, _, _ := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))

	unlock := svc.lock("amber")
	defer unlock()

	err := svc.UpdateSource(ctx, testSource("amber", "/idx/amber", true))
	require.ErrorIs(t, err, ErrLocked)
}

func TestDeleteSourceDropsRuntime(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))
	require.NoError(t, svc.DeleteSource(ctx, "amber"))

	_, err := cat.GetByID(ctx, "amber")
	require.ErrorIs(t, err, repo.ErrSourceNotFound)
	assert.Empty(t, registeredPaths(p))
	assert.Equal(t, 1, eng.CloseCount("/idx/amber"))
}

func TestDeleteSourceDisabled(t *testing.T) {
	svc, cat, _, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))
	require.NoError(t, svc.DeleteSource(ctx, "amber"))

	_, err := cat.GetByID(ctx, "amber")
	require.ErrorIs(t, err, repo.ErrSourceNotFound)
	assert.Equal(t, 0, eng.OpenCount("/idx/amber"))
}

func TestDeleteSourcePersistFailureRestoresRuntime(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))

	boom := errors.New("redis down")
	cat.failDelete = boom

	err := svc.DeleteSource(ctx, "amber")
	require.ErrorIs(t, err, boom)

	// Registration dropped, delete failed, path re-opened to avoid an outage.
	assert.Equal(t, []string{"/idx/amber"}, registeredPaths(p))
	assert.Equal(t, 2, eng.OpenCount("/idx/amber"))
}

func TestRefreshSourceDisabled(t *testing.T) {
	svc, _, _, _ := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))
	err := svc.RefreshSource(ctx, "amber")
	require.ErrorIs(t, err, ErrSourceDisabled)
}

func TestRefreshSourceSwapsGeneration(t *testing.T) {
	svc, _, p, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))

	eng.SetGeneration("/idx/amber", 2)
	require.NoError(t, svc.RefreshSource(ctx, "amber"))

	require.Eventually(t, func() bool {
		snap := p.Stats()
		return len(snap.Sources) == 1 && snap.Sources[0].Generation == 2
	}, time.Second, 5*time.Millisecond, "nudge never drove a swap")
}

func TestStatSourceReportsLiveView(t *testing.T) {
	svc, _, _, eng := newSourceService(t)
	ctx := context.Background()

	eng.SetGeneration("/idx/amber", 7)
	eng.SetDocCount("/idx/amber", 1234)
	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", true)))

	stat, err := svc.StatSource(ctx, "amber")
	require.NoError(t, err)
	assert.Equal(t, "amber", stat.ID)
	assert.Equal(t, "/idx/amber", stat.Path)
	assert.Equal(t, uint64(7), stat.Generation)
	assert.Equal(t, 1234, stat.DocCount)
	assert.Equal(t, int64(1), stat.InUse, "the stat acquisition itself is admitted")
	assert.Equal(t, int64(pool.DefaultHandleCapacity), stat.Capacity)
	assert.False(t, stat.OpenedAt.IsZero())
	assert.Zero(t, stat.PendingRetire)
}

func TestStatSourceDisabled(t *testing.T) {
	svc, _, _, _ := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateSource(ctx, testSource("amber", "/idx/amber", false)))
	_, err := svc.StatSource(ctx, "amber")
	require.ErrorIs(t, err, ErrSourceDisabled)
}

func TestReconcileConvergesPoolToCatalog(t *testing.T) {
	svc, cat, p, eng := newSourceService(t)
	ctx := context.Background()

	// Desired state: amber enabled, basalt disabled.
	require.NoError(t, cat.Upsert(ctx, testSource("amber", "/idx/amber", true)))
	require.NoError(t, cat.Upsert(ctx, testSource("basalt", "/idx/basalt", false)))

	// Zombie registration with no catalog backing.
	l, err := p.Acquire(ctx, "/idx/zombie")
	require.NoError(t, err)
	l.Release()

	require.NoError(t, svc.Reconcile(ctx))

	assert.Equal(t, []string{"/idx/amber"}, registeredPaths(p))
	assert.Equal(t, 1, eng.CloseCount("/idx/zombie"))
	assert.Equal(t, 0, eng.OpenCount("/idx/basalt"))
}

func TestReconcileOpenFailureIsFatal(t *testing.T) {
	svc, cat, _, eng := newSourceService(t)
	ctx := context.Background()

	require.NoError(t, cat.Upsert(ctx, testSource("amber", "/idx/amber", true)))
	boom := errors.New("manifest missing")
	eng.FailOpen("/idx/amber", boom)

	err := svc.Reconcile(ctx)
	require.ErrorIs(t, err, boom)
}
