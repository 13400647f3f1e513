package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edirooss/indexpool-server/internal/http/dto"
	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSummaryUnderTest(t *testing.T, opts SummaryOptions) (*SummaryService, *memCatalog, *pool.Pool) {
	t.Helper()
	_, cat, p, _ := newSourceService(t)
	opts.setDefaults()
	svc := &SummaryService{
		log:     zap.NewNop(),
		sources: cat,
		pool:    p,
		opts:    opts,
		now:     time.Now,
	}
	return svc, cat, p
}

func summaryByID(t *testing.T, data []dto.SourceSummary, id string) dto.SourceSummary {
	t.Helper()
	for _, s := range data {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("summary for %q not found", id)
	return dto.SourceSummary{}
}

func TestSummaryJoinsCatalogAndPool(t *testing.T) {
	svc, cat, p := newSummaryUnderTest(t, SummaryOptions{})
	ctx := context.Background()

	require.NoError(t, cat.Upsert(ctx, testSource("amber", "/idx/amber", true)))
	require.NoError(t, cat.Upsert(ctx, testSource("basalt", "/idx/basalt", false)))

	l, err := p.Acquire(ctx, "/idx/amber")
	require.NoError(t, err)
	defer l.Release()

	res, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	require.Len(t, res.Data, 2)

	amber := summaryByID(t, res.Data, "amber")
	require.NotNil(t, amber.Runtime, "registered path should carry runtime fields")
	assert.Equal(t, int64(1), amber.Runtime.InUse)
	assert.Equal(t, int64(pool.DefaultHandleCapacity), amber.Runtime.Capacity)

	basalt := summaryByID(t, res.Data, "basalt")
	assert.Nil(t, basalt.Runtime, "disabled source has no registration")
}

func TestSummaryCacheHitWithinTTL(t *testing.T) {
	svc, cat, _ := newSummaryUnderTest(t, SummaryOptions{TTL: 250 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, cat.Upsert(ctx, testSource("amber", "/idx/amber", false)))

	cur := time.Now()
	svc.now = func() time.Time { return cur }

	first, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.GeneratedAt, second.GeneratedAt)

	cur = cur.Add(251 * time.Millisecond)
	third, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, third.CacheHit, "expired snapshot should refresh")
}

func TestSummaryInvalidateForcesRefresh(t *testing.T) {
	svc, cat, _ := newSummaryUnderTest(t, SummaryOptions{TTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, cat.Upsert(ctx, testSource("amber", "/idx/amber", false)))

	first, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	svc.Invalidate()

	second, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
}

func TestSummaryServesStaleOnError(t *testing.T) {
	svc, cat, _ := newSummaryUnderTest(t, SummaryOptions{TTL: 250 * time.Millisecond, AllowStaleOnError: true})
	ctx := context.Background()

	require.NoError(t, cat.Upsert(ctx, testSource("amber", "/idx/amber", false)))

	cur := time.Now()
	svc.now = func() time.Time { return cur }

	first, err := svc.Get(ctx)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	cur = cur.Add(time.Second)
	cat.failGetAll = errors.New("redis down")

	res, err := svc.Get(ctx)
	require.NoError(t, err, "stale snapshot should mask the refresh error")
	assert.True(t, res.CacheHit)
	assert.Equal(t, first.GeneratedAt, res.GeneratedAt)
}

func TestSummaryRefreshErrorPropagates(t *testing.T) {
	svc, cat, _ := newSummaryUnderTest(t, SummaryOptions{})
	ctx := context.Background()

	boom := errors.New("redis down")
	cat.failGetAll = boom

	_, err := svc.Get(ctx)
	require.ErrorIs(t, err, boom)
}
