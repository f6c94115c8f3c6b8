package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultEmbedConcurrency is the number of embedding batches in flight during indexing.
const DefaultEmbedConcurrency = 4

// EmbedChunks embeds chunk contents in batches, running up to concurrency
// batches at once. Nil chunks and blank content get a nil vector. A
// progress callback, if given, receives (done, total) after each batch.
func EmbedChunks(
	ctx context.Context,
	embedder embed.Embedder,
	chunks []*store.Chunk,
	batchSize, concurrency int,
	progress func(done, total int),
) ([][]float32, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = DefaultEmbedConcurrency
	}

	vectors := make([][]float32, len(chunks))
	var pending []int
	for i, c := range chunks {
		if c != nil && !isBlank(c.Content) {
			pending = append(pending, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	done := make(chan int, (len(pending)+batchSize-1)/batchSize+1)
	for start := 0; start < len(pending); start += batchSize {
		batch := pending[start:min(start+batchSize, len(pending))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, pos := range batch {
				texts[i] = chunks[pos].Content
			}
			embs, err := embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch at %d: %w", batch[0], err)
			}
			if len(embs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(embs), len(batch))
			}
			for i, pos := range batch {
				vectors[pos] = embs[i]
			}
			done <- len(batch)
			return nil
		})
	}

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		completed := 0
		for n := range done {
			completed += n
			if progress != nil {
				progress(completed, len(pending))
			}
		}
	}()

	err := g.Wait()
	close(done)
	<-progressDone
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// VectorOracle answers semantic queries from an in-memory HNSW graph built
// over one corpus snapshot.
type VectorOracle struct {
	embedder embed.Embedder
	vectors  *store.HNSWStore
	chunks   []*store.Chunk
}

// Verify interface implementation at compile time.
var _ SemanticOracle = (*VectorOracle)(nil)

// NewVectorOracle builds an HNSW graph from precomputed vectors aligned with
// chunks. Nil and all-zero vectors are left out of the graph.
func NewVectorOracle(ctx context.Context, embedder embed.Embedder, chunks []*store.Chunk, vectors [][]float32) (*VectorOracle, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("have %d vectors for %d chunks", len(vectors), len(chunks))
	}

	hs, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, err
	}

	usable := make([][]float32, len(vectors))
	for i, v := range vectors {
		if !isZeroVector(v) {
			usable[i] = v
		}
	}
	if err := hs.Add(ctx, 0, usable); err != nil {
		_ = hs.Close()
		return nil, fmt.Errorf("build vector graph: %w", err)
	}

	snapshot := make([]*store.Chunk, len(chunks))
	copy(snapshot, chunks)

	slog.Debug("vector_oracle_built",
		slog.Int("chunks", len(chunks)),
		slog.Int("vectors", hs.Count()),
		slog.String("model", embedder.ModelName()))

	return &VectorOracle{embedder: embedder, vectors: hs, chunks: snapshot}, nil
}

// Search embeds query and returns the k nearest chunks tagged semantic,
// ordered by similarity descending, ties by corpus position.
func (o *VectorOracle) Search(ctx context.Context, query string, k int) ([]*Result, error) {
	if k <= 0 || isBlank(query) || o.vectors.Count() == 0 {
		return []*Result{}, nil
	}

	embedding, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if isZeroVector(embedding) {
		return []*Result{}, nil
	}

	hits, err := o.vectors.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})

	results := make([]*Result, 0, len(hits))
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(o.chunks) {
			continue
		}
		results = append(results, &Result{
			Chunk:      o.chunks[h.Position],
			Score:      max(float64(h.Score), 0),
			SearchType: SearchTypeSemantic,
		})
	}
	return results, nil
}

// Count returns the number of searchable vectors.
func (o *VectorOracle) Count() int {
	return o.vectors.Count()
}

// Close releases the graph.
func (o *VectorOracle) Close() error {
	return o.vectors.Close()
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
