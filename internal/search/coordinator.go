package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// snapshot is one published index generation. It is immutable once
// published; readers pin it with acquire/release so a retired generation is
// closed only after its last reader leaves.
type snapshot struct {
	keyword   store.KeywordIndex
	oracle    SemanticOracle
	documents int
	sources   int
	builtAt   time.Time

	readers   atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
	ownOracle bool
}

func (s *snapshot) close() {
	s.closeOnce.Do(func() {
		if s.keyword != nil {
			_ = s.keyword.Close()
		}
		if s.ownOracle {
			if closer, ok := s.oracle.(io.Closer); ok {
				_ = closer.Close()
			}
		}
	})
}

func (s *snapshot) release() {
	if s.readers.Add(-1) == 0 && s.retired.Load() {
		s.close()
	}
}

func (s *snapshot) retire() {
	s.retired.Store(true)
	if s.readers.Load() == 0 {
		s.close()
	}
}

// Coordinator is the single entry point for keyword, semantic and hybrid
// retrieval over one corpus. It starts UNINDEXED; BuildIndex publishes a new
// snapshot atomically, so searches never observe a half-built index.
type Coordinator struct {
	config  Config
	fusion  *RRFFusion
	current atomic.Pointer[snapshot]
	buildMu sync.Mutex

	metrics *telemetry.QueryMetrics
	prom    *telemetry.Metrics
}

// CoordinatorOption configures the coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics records every search into the query telemetry collector.
func WithMetrics(m *telemetry.QueryMetrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithPrometheus records index builds and oracle failures.
func WithPrometheus(p *telemetry.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.prom = p
	}
}

// NewCoordinator creates an unindexed coordinator.
func NewCoordinator(cfg Config, opts ...CoordinatorOption) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		config: cfg,
		fusion: NewRRFFusionWithK(cfg.RRFConstant),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// =============================================================================
// Index lifecycle
// =============================================================================

// BuildIndex builds a keyword index over chunks off to the side and publishes
// it together with oracle. A nil oracle disables semantic search for this
// generation. On failure the previous snapshot stays published and the error
// carries ERR_505_INDEX_FAILED.
//
// When the oracle implements io.Closer, the coordinator closes it once the
// generation is retired and no search is still using it.
func (c *Coordinator) BuildIndex(ctx context.Context, chunks []*store.Chunk, oracle SemanticOracle) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		c.prom.ObserveIndexBuild(false, 0)
		return amanerrors.New(amanerrors.ErrCodeIndexFailed, "index build cancelled", err)
	}

	kw, err := c.config.KeywordBuilder(ctx, chunks)
	if err == nil && kw == nil {
		err = fmt.Errorf("keyword builder returned no index")
	}
	if err == nil {
		if cerr := ctx.Err(); cerr != nil {
			_ = kw.Close()
			err = cerr
		}
	}
	if err != nil {
		c.prom.ObserveIndexBuild(false, 0)
		slog.Error("index_build_failed",
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()))
		return amanerrors.New(amanerrors.ErrCodeIndexFailed, "failed to build keyword index", err)
	}

	docs, sources := countCorpus(chunks)
	next := &snapshot{
		keyword:   kw,
		oracle:    oracle,
		documents: docs,
		sources:   sources,
		builtAt:   time.Now(),
		ownOracle: true,
	}

	prev := c.current.Swap(next)
	if prev != nil {
		if sameOracle(prev.oracle, oracle) {
			prev.ownOracle = false
		}
		prev.retire()
	}

	c.prom.ObserveIndexBuild(true, docs)
	slog.Info("index_published",
		slog.Int("documents", docs),
		slog.Int("sources", sources),
		slog.Int("terms", kw.Stats().TermCount),
		slog.String("backend", kw.Stats().Backend),
		slog.Bool("semantic", oracle != nil),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// RebuildIndex fully replaces the published index. Same path as BuildIndex.
func (c *Coordinator) RebuildIndex(ctx context.Context, chunks []*store.Chunk, oracle SemanticOracle) error {
	return c.BuildIndex(ctx, chunks, oracle)
}

// IsIndexed reports whether a snapshot has been published.
func (c *Coordinator) IsIndexed() bool {
	return c.current.Load() != nil
}

// Stats returns the published index state. Side-effect free.
func (c *Coordinator) Stats() Stats {
	snap := c.acquire()
	if snap == nil {
		return Stats{}
	}
	defer snap.release()

	ks := snap.keyword.Stats()
	return Stats{
		Indexed:       true,
		DocumentCount: snap.documents,
		SourceCount:   snap.sources,
		Terms:         ks.TermCount,
		Backend:       ks.Backend,
		Semantic:      snap.oracle != nil,
		BuiltAt:       snap.builtAt,
	}
}

// Close retires the published snapshot. The coordinator is UNINDEXED afterwards.
func (c *Coordinator) Close() error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	if prev := c.current.Swap(nil); prev != nil {
		prev.retire()
	}
	return nil
}

// acquire pins the current snapshot, or returns nil when unindexed.
func (c *Coordinator) acquire() *snapshot {
	for {
		snap := c.current.Load()
		if snap == nil {
			return nil
		}
		snap.readers.Add(1)
		if c.current.Load() == snap {
			return snap
		}
		snap.release()
	}
}

// =============================================================================
// Search
// =============================================================================

// Search dispatches on opts.SearchType (empty means hybrid).
func (c *Coordinator) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	switch opts.SearchType {
	case SearchTypeKeyword:
		return c.KeywordSearch(ctx, query, opts.MaxResults)
	case SearchTypeSemantic:
		return c.SemanticSearch(ctx, query, opts.MaxResults)
	case SearchTypeHybrid, "":
		return c.HybridSearch(ctx, query, HybridOptions{
			MaxResults:     opts.MaxResults,
			KeywordWeight:  opts.Weights.Keyword,
			SemanticWeight: opts.Weights.Semantic,
		})
	default:
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidSearchType,
			fmt.Sprintf("unknown search type %q", opts.SearchType), nil)
	}
}

// KeywordSearch returns up to k keyword results tagged keyword. k <= 0 uses
// the default limit. The only error is ctx being done.
func (c *Coordinator) KeywordSearch(ctx context.Context, query string, k int) ([]*Result, error) {
	start := time.Now()
	snap := c.acquire()
	if snap == nil {
		return []*Result{}, nil
	}
	defer snap.release()

	results := c.keywordSearch(ctx, snap, query, c.clampLimit(k))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.record(query, SearchTypeKeyword, len(results), time.Since(start))
	return results, nil
}

// SemanticSearch returns up to k oracle results tagged semantic. Oracle
// failures are logged and yield an empty list. The only error is ctx being done.
func (c *Coordinator) SemanticSearch(ctx context.Context, query string, k int) ([]*Result, error) {
	start := time.Now()
	snap := c.acquire()
	if snap == nil {
		return []*Result{}, nil
	}
	defer snap.release()

	searchCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	results := c.semanticSearch(searchCtx, snap, query, c.clampLimit(k))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.record(query, SearchTypeSemantic, len(results), time.Since(start))
	return results, nil
}

// HybridSearch runs keyword and semantic search concurrently, each asking for
// max(2*MaxResults, CandidateFloor) candidates, fuses them with weighted RRF
// and truncates to MaxResults. Either sub-search degrades to empty on
// failure. The only error is ctx being done; no partial result is returned
// then.
func (c *Coordinator) HybridSearch(ctx context.Context, query string, opts HybridOptions) ([]*Result, error) {
	start := time.Now()
	snap := c.acquire()
	if snap == nil {
		return []*Result{}, nil
	}
	defer snap.release()

	limit := c.clampLimit(opts.MaxResults)
	weights := Weights{Keyword: opts.KeywordWeight, Semantic: opts.SemanticWeight}
	if weights.IsZero() {
		weights = c.config.DefaultWeights
	}
	pool := max(2*limit, c.config.CandidateFloor)

	searchCtx, cancel := c.withTimeout(ctx)
	defer cancel()

	var keywordResults, semanticResults []*Result
	g, gctx := errgroup.WithContext(searchCtx)
	g.Go(func() error {
		keywordResults = c.keywordSearch(gctx, snap, query, pool)
		return nil
	})
	g.Go(func() error {
		semanticResults = c.semanticSearch(gctx, snap, query, pool)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fused := c.fusion.Fuse(
		[][]*Result{keywordResults, semanticResults},
		[]float64{weights.Keyword, weights.Semantic},
	)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	slog.Debug("hybrid_search",
		slog.Int("keyword", len(keywordResults)),
		slog.Int("semantic", len(semanticResults)),
		slog.Int("fused", len(fused)),
		slog.Int("pool", pool),
		slog.Duration("duration", time.Since(start)))

	c.record(query, SearchTypeHybrid, len(fused), time.Since(start))
	return fused, nil
}

func (c *Coordinator) keywordSearch(ctx context.Context, snap *snapshot, query string, k int) []*Result {
	if isBlank(query) {
		return []*Result{}
	}
	hits, err := snap.keyword.Search(ctx, query, k)
	if err != nil {
		slog.Warn("keyword_search_failed",
			slog.String("backend", snap.keyword.Stats().Backend),
			slog.String("error", err.Error()))
		return []*Result{}
	}

	results := make([]*Result, 0, len(hits))
	for i, h := range hits {
		results = append(results, &Result{
			Chunk:        h.Chunk,
			Score:        h.Score,
			SearchType:   SearchTypeKeyword,
			KeywordRank:  i + 1,
			KeywordScore: h.Score,
			MatchedTerms: h.MatchedTerms,
		})
	}
	return results
}

func (c *Coordinator) semanticSearch(ctx context.Context, snap *snapshot, query string, k int) []*Result {
	if snap.oracle == nil || isBlank(query) {
		return []*Result{}
	}

	hits, err := snap.oracle.Search(ctx, query, k)
	if err != nil {
		c.prom.ObserveOracleFailure("semantic")
		slog.Warn("semantic_oracle_failed",
			slog.String("query", truncateForLog(query)),
			slog.String("error", err.Error()))
		return []*Result{}
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]*Result, 0, len(hits))
	for _, h := range hits {
		if h == nil {
			continue
		}
		score := max(h.Score, 0)
		results = append(results, &Result{
			Chunk:         h.Chunk,
			Score:         score,
			SearchType:    SearchTypeSemantic,
			SemanticRank:  len(results) + 1,
			SemanticScore: score,
		})
	}
	return results
}

func (c *Coordinator) clampLimit(k int) int {
	if k <= 0 {
		k = c.config.DefaultLimit
	}
	return min(k, c.config.MaxLimit)
}

func (c *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.SearchTimeout > 0 {
		return context.WithTimeout(ctx, c.config.SearchTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Coordinator) record(query string, st SearchType, n int, latency time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		SearchType:  string(st),
		ResultCount: n,
		Latency:     latency,
	})
}

// countCorpus returns the number of non-nil chunks and distinct sources.
func countCorpus(chunks []*store.Chunk) (docs, sources int) {
	seen := make(map[string]struct{})
	for _, ch := range chunks {
		if ch == nil {
			continue
		}
		docs++
		seen[ch.SourceID] = struct{}{}
	}
	return docs, len(seen)
}

// sameOracle reports whether a and b are the same oracle value. Oracles of
// uncomparable dynamic types are never considered the same.
func sameOracle(a, b SemanticOracle) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func truncateForLog(s string) string {
	const maxLen = 80
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
