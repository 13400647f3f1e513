package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edirooss/indexpool-server/internal/http/dto"
	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/edirooss/indexpool-server/internal/repo"
	"go.uber.org/zap"
)

type SummaryOptions struct {
	// TTL controls how long we serve the in-memory snapshot.
	// 150–400ms works well for 1.5s polling; default 250ms.
	TTL time.Duration
	// RefreshTimeout bounds Redis work for a single refresh.
	// Keep this ≤ your handler budget; default 300ms.
	RefreshTimeout time.Duration
	// Allow serving stale on refresh error (graceful degrade).
	AllowStaleOnError bool
}

func (o *SummaryOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 250 * time.Millisecond
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 300 * time.Millisecond
	}
}

// SummaryResult lets the handler set headers/telemetry.
type SummaryResult struct {
	Data        []dto.SourceSummary
	CacheHit    bool
	GeneratedAt time.Time // snapshot timestamp
}

type SummaryService struct {
	log     *zap.Logger
	sources sourceCatalog
	pool    *pool.Pool

	mu      sync.RWMutex
	cache   []dto.SourceSummary
	expires time.Time
	genAt   time.Time

	opts SummaryOptions
	now  func() time.Time

	sg singleflight.Group
}

// NewSummaryService wires the catalog, the pool and cache policy.
// Reuse a single instance per process (handlers call Get()).
func NewSummaryService(log *zap.Logger, rep *repo.Repository, p *pool.Pool, opts SummaryOptions) *SummaryService {
	log = log.Named("summary_service")
	opts.setDefaults()

	return &SummaryService{
		log:     log,
		sources: rep.Sources,
		pool:    p,
		opts:    opts,
		now:     time.Now,
	}
}

// Get returns the cached snapshot or refreshes it when expired.
// Multiple concurrent refreshes are coalesced.
func (s *SummaryService) Get(ctx context.Context) (SummaryResult, error) {
	// Fast path: fresh cache
	s.mu.RLock()
	if s.cache != nil && s.now().Before(s.expires) {
		out := cloneSummaries(s.cache)
		genAt := s.genAt
		s.mu.RUnlock()
		return SummaryResult{Data: out, CacheHit: true, GeneratedAt: genAt}, nil
	}
	s.mu.RUnlock()

	// Slow path: singleflight refresh
	v, err, _ := s.sg.Do("summary-refresh", func() (any, error) {
		// Double-check freshness after we won the flight
		s.mu.RLock()
		if s.cache != nil && s.now().Before(s.expires) {
			out := cloneSummaries(s.cache)
			genAt := s.genAt
			s.mu.RUnlock()
			return SummaryResult{Data: out, CacheHit: true, GeneratedAt: genAt}, nil
		}
		s.mu.RUnlock()

		ctx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
		defer cancel()

		start := s.now()
		data, err := s.refresh(ctx)
		if err != nil {
			// Refresh failed: optionally serve stale, else propagate error
			if s.opts.AllowStaleOnError {
				s.mu.RLock()
				if s.cache != nil {
					out := cloneSummaries(s.cache)
					genAt := s.genAt
					s.mu.RUnlock()
					s.log.Warn("summary refresh failed; serving stale", zap.Error(err))
					return SummaryResult{Data: out, CacheHit: true, GeneratedAt: genAt}, nil
				}
				s.mu.RUnlock()
			}
			return nil, err
		}

		// Publish new snapshot
		s.mu.Lock()
		s.cache = data
		s.expires = s.now().Add(s.opts.TTL)
		s.genAt = start
		s.mu.Unlock()

		return SummaryResult{Data: cloneSummaries(data), CacheHit: false, GeneratedAt: start}, nil
	})
	if err != nil {
		return SummaryResult{}, err
	}
	return v.(SummaryResult), nil
}

func (s *SummaryService) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.expires = time.Time{}
	s.genAt = time.Time{}
	s.mu.Unlock()
}

// refresh joins the catalog with the pool snapshot: every cataloged source,
// with runtime fields attached when its path is registered.
func (s *SummaryService) refresh(ctx context.Context) ([]dto.SourceSummary, error) {
	srcs, err := s.sources.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	snap := s.pool.Stats()
	statByPath := make(map[string]pool.SourceStat, len(snap.Sources))
	for _, st := range snap.Sources {
		statByPath[st.Source] = st
	}

	out := make([]dto.SourceSummary, 0, len(srcs))
	for _, src := range srcs {
		sum := dto.SourceSummary{Source: *src}
		if st, ok := statByPath[src.Path]; ok {
			sum.Runtime = &dto.RuntimeStatus{
				Generation:    st.Generation,
				DocCount:      st.DocCount,
				InUse:         st.InUse,
				Capacity:      st.Capacity,
				OpenedAt:      st.OpenedAt,
				PendingRetire: st.PendingRetire,
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func cloneSummaries(in []dto.SourceSummary) []dto.SourceSummary {
	if len(in) == 0 {
		return nil
	}
	out := make([]dto.SourceSummary, len(in))
	copy(out, in)
	return out
}
