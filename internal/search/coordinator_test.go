package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// --- Test Doubles ---

// stubOracle returns a fixed ranked list, or an error.
type stubOracle struct {
	results []*Result
	err     error
	delay   time.Duration
	calls   atomic.Int32
	closed  atomic.Bool
}

func (o *stubOracle) Search(ctx context.Context, _ string, k int) ([]*Result, error) {
	o.calls.Add(1)
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.err != nil {
		return nil, o.err
	}
	if k < len(o.results) {
		return o.results[:k], nil
	}
	return o.results, nil
}

func (o *stubOracle) Close() error {
	o.closed.Store(true)
	return nil
}

func fruitCorpus() []*store.Chunk {
	return []*store.Chunk{
		chunk("docA", 0, "apples are red"),
		chunk("docA", 1, "bananas are yellow"),
	}
}

func newIndexedCoordinator(t *testing.T, chunks []*store.Chunk, oracle SemanticOracle) *Coordinator {
	t.Helper()
	c := NewCoordinator(DefaultConfig())
	require.NoError(t, c.BuildIndex(context.Background(), chunks, oracle))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// =============================================================================
// Unindexed State
// =============================================================================

func TestCoordinator_UnindexedReturnsEmpty(t *testing.T) {
	c := NewCoordinator(DefaultConfig())
	ctx := context.Background()

	assert.False(t, c.IsIndexed())

	kw, err := c.KeywordSearch(ctx, "apples", 5)
	require.NoError(t, err)
	assert.NotNil(t, kw)
	assert.Empty(t, kw)

	sem, err := c.SemanticSearch(ctx, "apples", 5)
	require.NoError(t, err)
	assert.Empty(t, sem)

	hy, err := c.HybridSearch(ctx, "apples", HybridOptions{MaxResults: 5})
	require.NoError(t, err)
	assert.Empty(t, hy)

	stats := c.Stats()
	assert.False(t, stats.Indexed)
	assert.Zero(t, stats.DocumentCount)
}

// =============================================================================
// Keyword Search
// =============================================================================

func TestCoordinator_KeywordSearch_ExcludesZeroScore(t *testing.T) {
	// Given: an index of two fruit chunks
	c := newIndexedCoordinator(t, fruitCorpus(), nil)

	// When: searching for "apples"
	results, err := c.KeywordSearch(context.Background(), "apples", 5)

	// Then: only docA#0 comes back, tagged keyword
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docA#0", results[0].Chunk.Key().String())
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, SearchTypeKeyword, results[0].SearchType)
	assert.Equal(t, 1, results[0].KeywordRank)
	assert.Equal(t, []string{"apples"}, results[0].MatchedTerms)
}

func TestCoordinator_KeywordSearch_BlankQuery(t *testing.T) {
	c := newIndexedCoordinator(t, fruitCorpus(), nil)

	for _, q := range []string{"", "   ", "?!"} {
		results, err := c.KeywordSearch(context.Background(), q, 5)
		require.NoError(t, err)
		assert.Empty(t, results, "query %q", q)
	}
}

func TestCoordinator_KeywordSearch_Deterministic(t *testing.T) {
	var chunks []*store.Chunk
	for i := 0; i < 30; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("doc%02d", i), 0, "shared words appear here"))
	}
	c := newIndexedCoordinator(t, chunks, nil)

	first, err := c.KeywordSearch(context.Background(), "shared", 10)
	require.NoError(t, err)
	require.Len(t, first, 10)

	for i := 0; i < 10; i++ {
		again, err := c.KeywordSearch(context.Background(), "shared", 10)
		require.NoError(t, err)
		assert.Equal(t, keysOf(first), keysOf(again))
	}
	assert.Equal(t, "doc00#0", first[0].Chunk.Key().String())
}

// =============================================================================
// Semantic Search
// =============================================================================

func TestCoordinator_SemanticSearch_TagsAndTruncates(t *testing.T) {
	oracle := &stubOracle{results: ranked(SearchTypeHybrid,
		chunk("s1", 0, ""), chunk("s2", 0, ""), chunk("s3", 0, ""))}
	oracle.results[2].Score = -0.5
	c := newIndexedCoordinator(t, fruitCorpus(), oracle)

	results, err := c.SemanticSearch(context.Background(), "anything", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, SearchTypeSemantic, r.SearchType)
		assert.Equal(t, i+1, r.SemanticRank)
		assert.GreaterOrEqual(t, r.Score, 0.0)
	}

	// the oracle's own results are not mutated
	assert.Equal(t, SearchTypeHybrid, oracle.results[0].SearchType)
}

func TestCoordinator_SemanticSearch_OracleFailureDegrades(t *testing.T) {
	oracle := &stubOracle{err: errors.New("connection refused")}
	c := newIndexedCoordinator(t, fruitCorpus(), oracle)

	results, err := c.SemanticSearch(context.Background(), "apples", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(1), oracle.calls.Load())
}

func TestCoordinator_SemanticSearch_NoOracle(t *testing.T) {
	c := newIndexedCoordinator(t, fruitCorpus(), nil)

	results, err := c.SemanticSearch(context.Background(), "apples", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// =============================================================================
// Hybrid Search
// =============================================================================

func TestCoordinator_HybridSearch_TruncatesToSubsetOfUnion(t *testing.T) {
	// Given: keyword and semantic paths each producing 5 candidates
	var chunks []*store.Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("kw%d", i), 0, "revenue report"))
	}
	semanticChunks := []*store.Chunk{
		chunks[4], chunk("sem1", 0, ""), chunk("sem2", 0, ""), chunk("sem3", 0, ""), chunk("sem4", 0, ""),
	}
	oracle := &stubOracle{results: ranked(SearchTypeSemantic, semanticChunks...)}
	c := newIndexedCoordinator(t, chunks, oracle)

	// When: asking for at most 2 fused results
	results, err := c.HybridSearch(context.Background(), "revenue", HybridOptions{
		MaxResults: 2, KeywordWeight: 0.3, SemanticWeight: 0.7,
	})

	// Then: at most 2 hybrid results, all drawn from the inputs
	require.NoError(t, err)
	require.LessOrEqual(t, len(results), 2)
	require.NotEmpty(t, results)

	union := map[string]bool{}
	for _, ch := range append(chunks, semanticChunks...) {
		union[ch.Key().String()] = true
	}
	for _, r := range results {
		assert.True(t, union[r.Chunk.Key().String()])
		assert.Equal(t, SearchTypeHybrid, r.SearchType)
	}
	// kw4 is in both lists and wins
	assert.Equal(t, "kw4#0", results[0].Chunk.Key().String())
	assert.Positive(t, results[0].KeywordRank)
	assert.Equal(t, 1, results[0].SemanticRank)
}

func TestCoordinator_HybridSearch_CandidatePool(t *testing.T) {
	oracle := &stubOracle{}
	var requested atomic.Int32
	recording := semanticFunc(func(ctx context.Context, q string, k int) ([]*Result, error) {
		requested.Store(int32(k))
		return oracle.Search(ctx, q, k)
	})
	c := newIndexedCoordinator(t, fruitCorpus(), recording)

	_, err := c.HybridSearch(context.Background(), "apples", HybridOptions{MaxResults: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(10), requested.Load(), "floor applies to small requests")

	_, err = c.HybridSearch(context.Background(), "apples", HybridOptions{MaxResults: 20})
	require.NoError(t, err)
	assert.Equal(t, int32(40), requested.Load(), "pool doubles larger requests")
}

func TestCoordinator_HybridSearch_OracleFailureKeepsKeyword(t *testing.T) {
	// Given: a semantic oracle that always fails
	oracle := &stubOracle{err: errors.New("oracle exploded")}
	c := newIndexedCoordinator(t, fruitCorpus(), oracle)

	// When: running hybrid search
	results, err := c.HybridSearch(context.Background(), "apples", HybridOptions{MaxResults: 5})

	// Then: keyword-derived results survive
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docA#0", results[0].Chunk.Key().String())
	assert.Equal(t, SearchTypeHybrid, results[0].SearchType)
	assert.InDelta(t, 0.3/61, results[0].Score, 1e-12)
}

func TestCoordinator_HybridSearch_BothEmpty(t *testing.T) {
	c := newIndexedCoordinator(t, fruitCorpus(), &stubOracle{})

	results, err := c.HybridSearch(context.Background(), "zebras", HybridOptions{MaxResults: 5})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestCoordinator_HybridSearch_Deterministic(t *testing.T) {
	var chunks []*store.Chunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, chunk(fmt.Sprintf("d%02d", i), 0, "quarterly revenue"))
	}
	oracle := &stubOracle{results: ranked(SearchTypeSemantic, chunks[11], chunks[3], chunks[7])}
	c := newIndexedCoordinator(t, chunks, oracle)

	first, err := c.HybridSearch(context.Background(), "revenue", HybridOptions{MaxResults: 8})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.HybridSearch(context.Background(), "revenue", HybridOptions{MaxResults: 8})
		require.NoError(t, err)
		assert.Equal(t, keysOf(first), keysOf(again))
	}
}

func TestCoordinator_HybridSearch_CancelledContext(t *testing.T) {
	oracle := &stubOracle{delay: 5 * time.Second}
	c := newIndexedCoordinator(t, fruitCorpus(), oracle)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results, err := c.HybridSearch(ctx, "apples", HybridOptions{MaxResults: 5})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCoordinator_HybridSearch_TimeoutDegradesSemantic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SearchTimeout = 20 * time.Millisecond
	c := NewCoordinator(cfg)
	require.NoError(t, c.BuildIndex(context.Background(), fruitCorpus(), &stubOracle{delay: time.Second}))
	defer func() { _ = c.Close() }()

	results, err := c.HybridSearch(context.Background(), "apples", HybridOptions{MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "docA#0", results[0].Chunk.Key().String())
}

// =============================================================================
// Search dispatch
// =============================================================================

func TestCoordinator_Search_Dispatch(t *testing.T) {
	oracle := &stubOracle{results: ranked(SearchTypeSemantic, chunk("docA", 1, "bananas are yellow"))}
	c := newIndexedCoordinator(t, fruitCorpus(), oracle)

	tests := []struct {
		name     string
		st       SearchType
		wantType SearchType
	}{
		{"keyword", SearchTypeKeyword, SearchTypeKeyword},
		{"semantic", SearchTypeSemantic, SearchTypeSemantic},
		{"hybrid", SearchTypeHybrid, SearchTypeHybrid},
		{"empty defaults to hybrid", "", SearchTypeHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := c.Search(context.Background(), "apples", Options{SearchType: tt.st, MaxResults: 5})
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, tt.wantType, results[0].SearchType)
		})
	}

	_, err := c.Search(context.Background(), "apples", Options{SearchType: "fuzzy"})
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeInvalidSearchType, amanerrors.GetCode(err))
}

// =============================================================================
// Index Lifecycle
// =============================================================================

func TestCoordinator_BuildFailureKeepsPreviousSnapshot(t *testing.T) {
	var fail atomic.Bool
	cfg := DefaultConfig()
	tfidf := store.NewTFIDFBuilder()
	cfg.KeywordBuilder = func(ctx context.Context, chunks []*store.Chunk) (store.KeywordIndex, error) {
		if fail.Load() {
			return nil, errors.New("disk full")
		}
		return tfidf(ctx, chunks)
	}
	c := NewCoordinator(cfg)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.BuildIndex(context.Background(), fruitCorpus(), nil))

	fail.Store(true)
	err := c.RebuildIndex(context.Background(), []*store.Chunk{chunk("new", 0, "cherries")}, nil)
	require.Error(t, err)
	assert.Equal(t, amanerrors.ErrCodeIndexFailed, amanerrors.GetCode(err))

	// previous generation still answers
	results, err := c.KeywordSearch(context.Background(), "apples", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, c.Stats().DocumentCount)
}

func TestCoordinator_BuildFailureWithoutPrevious(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeywordBuilder = func(context.Context, []*store.Chunk) (store.KeywordIndex, error) {
		return nil, errors.New("boom")
	}
	c := NewCoordinator(cfg)

	err := c.BuildIndex(context.Background(), fruitCorpus(), nil)
	require.Error(t, err)
	assert.False(t, c.IsIndexed())
}

func TestCoordinator_BuildCancelled(t *testing.T) {
	c := NewCoordinator(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.BuildIndex(ctx, fruitCorpus(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.IsIndexed())
}

func TestCoordinator_RebuildReplacesIndex(t *testing.T) {
	first := &stubOracle{}
	c := newIndexedCoordinator(t, fruitCorpus(), first)

	second := &stubOracle{}
	require.NoError(t, c.RebuildIndex(context.Background(), []*store.Chunk{
		chunk("docC", 0, "cherries are dark red"),
	}, second))

	results, err := c.KeywordSearch(context.Background(), "apples", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = c.KeywordSearch(context.Background(), "cherries", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// the retired generation's oracle is released once nothing reads it
	assert.True(t, first.closed.Load())
	assert.False(t, second.closed.Load())
}

func TestCoordinator_RebuildWithSameOracleKeepsItOpen(t *testing.T) {
	oracle := &stubOracle{}
	c := newIndexedCoordinator(t, fruitCorpus(), oracle)

	require.NoError(t, c.RebuildIndex(context.Background(), fruitCorpus(), oracle))
	assert.False(t, oracle.closed.Load())
}

func TestCoordinator_ConcurrentSearchAndRebuild(t *testing.T) {
	corpusA := []*store.Chunk{chunk("a", 0, "alpha topic"), chunk("a", 1, "alpha again")}
	corpusB := []*store.Chunk{chunk("b", 0, "alpha topic"), chunk("b", 1, "alpha again"), chunk("b", 2, "alpha more")}
	c := newIndexedCoordinator(t, corpusA, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				results, err := c.HybridSearch(ctx, "alpha", HybridOptions{MaxResults: 10})
				if !assert.NoError(t, err) {
					return
				}
				// a reader sees one generation or the other, never a mix
				if len(results) == 0 {
					t.Errorf("empty result during rebuild")
					return
				}
				source := results[0].Chunk.SourceID
				want := map[string]int{"a": 2, "b": 3}[source]
				assert.Len(t, results, want)
				for _, r := range results {
					assert.Equal(t, source, r.Chunk.SourceID)
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		corpus := corpusA
		if i%2 == 0 {
			corpus = corpusB
		}
		require.NoError(t, c.RebuildIndex(ctx, corpus, nil))
	}
	wg.Wait()
}

func TestCoordinator_Stats(t *testing.T) {
	chunks := append(fruitCorpus(), chunk("docB", 0, "cherries"), nil)
	c := newIndexedCoordinator(t, chunks, &stubOracle{})

	stats := c.Stats()
	assert.True(t, stats.Indexed)
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Equal(t, 2, stats.SourceCount)
	assert.Equal(t, "tfidf", stats.Backend)
	assert.True(t, stats.Semantic)
	assert.Positive(t, stats.Terms)
	assert.False(t, stats.BuiltAt.IsZero())

	// repeated calls are side-effect free
	assert.Equal(t, stats, c.Stats())
}

func TestCoordinator_CloseReturnsToUnindexed(t *testing.T) {
	oracle := &stubOracle{}
	c := NewCoordinator(DefaultConfig())
	require.NoError(t, c.BuildIndex(context.Background(), fruitCorpus(), oracle))

	require.NoError(t, c.Close())
	assert.False(t, c.IsIndexed())
	assert.True(t, oracle.closed.Load())

	results, err := c.KeywordSearch(context.Background(), "apples", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCoordinator_RecordsQueryMetrics(t *testing.T) {
	metrics := telemetry.NewQueryMetrics(nil)
	defer func() { _ = metrics.Close() }()

	c := NewCoordinator(DefaultConfig(), WithMetrics(metrics))
	require.NoError(t, c.BuildIndex(context.Background(), fruitCorpus(), nil))
	defer func() { _ = c.Close() }()

	_, err := c.KeywordSearch(context.Background(), "apples", 5)
	require.NoError(t, err)
	_, err = c.HybridSearch(context.Background(), "zebras", HybridOptions{})
	require.NoError(t, err)

	snap := metrics.Snapshot()
	assert.Equal(t, int64(2), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.SearchTypeCounts["keyword"])
	assert.Equal(t, int64(1), snap.SearchTypeCounts["hybrid"])
	assert.Equal(t, int64(1), snap.ZeroResultCount)
}

// semanticFunc adapts a function to SemanticOracle.
type semanticFunc func(ctx context.Context, query string, k int) ([]*Result, error)

func (f semanticFunc) Search(ctx context.Context, query string, k int) ([]*Result, error) {
	return f(ctx, query, k)
}
