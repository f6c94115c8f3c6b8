package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// failingEmbedder wraps the static embedder and fails batch calls on demand.
type failingEmbedder struct {
	*embed.StaticEmbedder
	failBatch bool
	failQuery bool
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failBatch {
		return nil, errors.New("embedding backend down")
	}
	return f.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.failQuery {
		return nil, errors.New("embedding backend down")
	}
	return f.StaticEmbedder.Embed(ctx, text)
}

// fixedEmbedder returns preset vectors keyed by text.
type fixedEmbedder struct {
	*embed.StaticEmbedder
	vectors map[string][]float32
}

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return f.vectors[text], nil
}

func (f *fixedEmbedder) Dimensions() int { return 2 }

func petCorpus() []*store.Chunk {
	return []*store.Chunk{
		chunk("pets", 0, "cats purr and sleep in the sun"),
		chunk("pets", 1, "dogs bark at the mail carrier"),
		chunk("fin", 0, "quarterly revenue grew by ten percent"),
		chunk("fin", 1, "   "),
		nil,
	}
}

// =============================================================================
// EmbedChunks
// =============================================================================

func TestEmbedChunks_AlignsWithCorpus(t *testing.T) {
	embedder := embed.NewStaticEmbedder()
	chunks := petCorpus()

	var mu sync.Mutex
	var progress [][2]int
	vectors, err := EmbedChunks(context.Background(), embedder, chunks, 2, 2, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, [2]int{done, total})
	})

	require.NoError(t, err)
	require.Len(t, vectors, len(chunks))
	for i := 0; i < 3; i++ {
		assert.Len(t, vectors[i], embedder.Dimensions(), "chunk %d", i)
	}
	assert.Nil(t, vectors[3], "blank content gets no vector")
	assert.Nil(t, vectors[4], "nil chunk gets no vector")

	require.NotEmpty(t, progress)
	assert.Equal(t, [2]int{3, 3}, progress[len(progress)-1])
}

func TestEmbedChunks_Errors(t *testing.T) {
	_, err := EmbedChunks(context.Background(), nil, petCorpus(), 0, 0, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	failing := &failingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), failBatch: true}
	_, err = EmbedChunks(context.Background(), failing, petCorpus(), 1, 2, nil)
	assert.ErrorContains(t, err, "embedding backend down")
}

func TestEmbedChunks_Empty(t *testing.T) {
	vectors, err := EmbedChunks(context.Background(), embed.NewStaticEmbedder(), nil, 0, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

// =============================================================================
// VectorOracle
// =============================================================================

func buildVectorOracle(t *testing.T, embedder embed.Embedder, chunks []*store.Chunk) *VectorOracle {
	t.Helper()
	vectors, err := EmbedChunks(context.Background(), embedder, chunks, 0, 0, nil)
	require.NoError(t, err)
	oracle, err := NewVectorOracle(context.Background(), embedder, chunks, vectors)
	require.NoError(t, err)
	t.Cleanup(func() { _ = oracle.Close() })
	return oracle
}

func TestVectorOracle_FindsSimilarChunk(t *testing.T) {
	// Given: an oracle over a small mixed corpus
	oracle := buildVectorOracle(t, embed.NewStaticEmbedder(), petCorpus())
	assert.Equal(t, 3, oracle.Count())

	// When: searching with text close to the revenue chunk
	results, err := oracle.Search(context.Background(), "quarterly revenue grew", 2)

	// Then: the revenue chunk is the best semantic match
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	assert.Equal(t, "fin#0", results[0].Chunk.Key().String())
	for _, r := range results {
		assert.Equal(t, SearchTypeSemantic, r.SearchType)
		assert.GreaterOrEqual(t, r.Score, 0.0)
	}
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestVectorOracle_ScoresAreCosineSimilarity(t *testing.T) {
	// Given: one chunk aligned with the query and one orthogonal to it
	embedder := &fixedEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(),
		vectors:        map[string][]float32{"east": {1, 0}},
	}
	chunks := []*store.Chunk{chunk("a", 0, "aligned"), chunk("b", 0, "orthogonal")}
	oracle, err := NewVectorOracle(context.Background(), embedder, chunks, [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = oracle.Close() })

	// When: searching for the aligned direction
	results, err := oracle.Search(context.Background(), "east", 2)

	// Then: scores are cosine similarities, so the orthogonal chunk scores 0
	require.NoError(t, err)
	scores := map[string]float64{}
	for _, r := range results {
		scores[r.Chunk.Key().String()] = r.Score
	}
	assert.InDelta(t, 1.0, scores["a#0"], 1e-4)
	require.Contains(t, scores, "b#0")
	assert.InDelta(t, 0.0, scores["b#0"], 1e-4)
	assert.Less(t, scores["b#0"], 0.1, "below the default semantic min score")
}

func TestVectorOracle_DegenerateQueries(t *testing.T) {
	oracle := buildVectorOracle(t, embed.NewStaticEmbedder(), petCorpus())

	tests := []struct {
		name  string
		query string
		k     int
	}{
		{"blank query", "  ", 5},
		{"zero k", "cats", 0},
		{"punctuation only embeds to zero", "?!", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := oracle.Search(context.Background(), tt.query, tt.k)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestVectorOracle_QueryEmbeddingFailure(t *testing.T) {
	embedder := &failingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
	oracle := buildVectorOracle(t, embedder, petCorpus())

	embedder.failQuery = true
	_, err := oracle.Search(context.Background(), "cats", 3)
	assert.Error(t, err)
}

func TestNewVectorOracle_Validation(t *testing.T) {
	_, err := NewVectorOracle(context.Background(), nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewVectorOracle(context.Background(), embed.NewStaticEmbedder(), petCorpus(), nil)
	assert.Error(t, err)

	_, err = NewVectorOracle(context.Background(), embed.NewStaticEmbedder(),
		[]*store.Chunk{chunk("a", 0, "x")}, [][]float32{{1, 2, 3}})
	assert.Error(t, err, "dimension mismatch")
}

func TestVectorOracle_WithCoordinator(t *testing.T) {
	// Given: a coordinator wired to a real vector oracle
	chunks := petCorpus()
	oracle := buildVectorOracle(t, embed.NewStaticEmbedder(), chunks)
	c := NewCoordinator(DefaultConfig())
	require.NoError(t, c.BuildIndex(context.Background(), chunks, oracle))

	// When: hybrid searching for a keyword that only one chunk contains
	results, err := c.HybridSearch(context.Background(), "dogs bark", HybridOptions{MaxResults: 3})

	// Then: the chunk ranked first by both paths wins
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "pets#1", results[0].Chunk.Key().String())
	assert.Equal(t, 1, results[0].KeywordRank)
	assert.Equal(t, 1, results[0].SemanticRank)
}
