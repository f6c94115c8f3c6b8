package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// lockTimeout bounds the wait for the data-directory lock.
const lockTimeout = 30 * time.Second

// IndexOption configures one indexing run.
type IndexOption func(*indexRun)

type indexRun struct {
	progress Progress
}

// WithProgress reports progress of an indexing run.
func WithProgress(p Progress) IndexOption {
	return func(r *indexRun) {
		r.progress = p
	}
}

func (r *indexRun) report(stage string, done, total int) {
	if r.progress != nil {
		r.progress(stage, done, total)
	}
}

// IndexPath loads a file or directory through the ingestion loader and
// indexes the result, replacing the current corpus.
func (s *Service) IndexPath(ctx context.Context, path string, opts ...IndexOption) (*IndexResult, error) {
	run := newRun(opts)
	run.report("load", 0, 1)
	chunks, err := s.loader.LoadPath(ctx, path)
	if err != nil {
		return nil, err
	}
	run.report("load", 1, 1)
	return s.IndexCorpus(ctx, chunks, opts...)
}

// IndexCorpus replaces the corpus with chunks: embeds them when a semantic
// backend is configured, publishes a new index and persists the corpus.
//
// Embedding failures degrade to a keyword-only index. If persistence fails
// the new index is still live and the error carries ERR_507_PERSIST_FAILED.
func (s *Service) IndexCorpus(ctx context.Context, chunks []*store.Chunk, opts ...IndexOption) (*IndexResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	run := newRun(opts)
	chunks = dedupeChunks(chunks)

	vectors, embedded := s.embedMissing(ctx, chunks, nil, run)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.publish(ctx, chunks, vectors, run)
	if err != nil {
		return nil, err
	}
	result.Embedded = embedded

	if s.store != nil {
		if err := s.persist(ctx, func(ctx context.Context) error {
			return s.store.ReplaceAll(ctx, chunks, vectors)
		}); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		result.Persisted = true
	}

	result.Duration = time.Since(start)
	slog.Info("corpus_indexed",
		slog.Int("chunks", result.Indexed),
		slog.Int("sources", result.SourceCount),
		slog.Int("embedded", embedded),
		slog.Bool("semantic", result.Semantic),
		slog.Bool("persisted", result.Persisted),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// LoadPersisted restores the stored corpus and its embeddings and publishes
// an index without re-embedding. Chunks stored without a usable vector are
// embedded. An empty store leaves the service unindexed.
func (s *Service) LoadPersisted(ctx context.Context, opts ...IndexOption) (*IndexResult, error) {
	if s.store == nil {
		return &IndexResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	run := newRun(opts)

	chunks, stored, err := s.store.Load(ctx)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeCorruptCorpus, "failed to load stored corpus", err)
	}
	if len(chunks) == 0 {
		return &IndexResult{Persisted: true}, nil
	}

	vectors, embedded := s.embedMissing(ctx, chunks, stored, run)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.publish(ctx, chunks, vectors, run)
	if err != nil {
		return nil, err
	}
	result.Embedded = embedded
	result.Persisted = true

	if embedded > 0 {
		if err := s.persist(ctx, func(ctx context.Context) error {
			return s.store.ReplaceAll(ctx, chunks, vectors)
		}); err != nil {
			slog.Warn("corpus_vectors_not_saved", slog.String("error", err.Error()))
		}
	}

	result.Duration = time.Since(start)
	slog.Info("corpus_restored",
		slog.Int("chunks", result.Indexed),
		slog.Int("embedded", embedded),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// RemoveSource drops every chunk of sourceID and rebuilds the index from the
// remaining corpus. It returns the number of chunks removed.
func (s *Service) RemoveSource(ctx context.Context, sourceID string) (int, error) {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return 0, amanerrors.New(amanerrors.ErrCodeInvalidInput, "source id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		keptChunks  []*store.Chunk
		keptVectors [][]float32
	)
	for i, c := range s.chunks {
		if c.SourceID == sourceID {
			continue
		}
		keptChunks = append(keptChunks, c)
		if s.vectors != nil {
			keptVectors = append(keptVectors, s.vectors[i])
		}
	}
	removed := len(s.chunks) - len(keptChunks)
	if removed == 0 {
		return 0, nil
	}

	if len(keptChunks) == 0 {
		if err := s.clearLocked(ctx); err != nil {
			return 0, err
		}
		return removed, nil
	}

	if _, err := s.publish(ctx, keptChunks, keptVectors, newRun(nil)); err != nil {
		return 0, err
	}
	if s.store != nil {
		if err := s.persist(ctx, func(ctx context.Context) error {
			_, err := s.store.DeleteSource(ctx, sourceID)
			return err
		}); err != nil {
			return removed, err
		}
	}

	slog.Info("source_removed",
		slog.String("source_id", sourceID),
		slog.Int("chunks", removed))
	return removed, nil
}

// Clear empties the corpus. The service is unindexed afterwards.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx)
}

func (s *Service) clearLocked(ctx context.Context) error {
	if err := s.coord.Close(); err != nil {
		return err
	}
	s.chunks, s.vectors = nil, nil

	if s.store != nil {
		return s.persist(ctx, s.store.Clear)
	}
	return nil
}

// publish builds the semantic oracle and the keyword index over chunks and
// swaps them in. On failure the previous index stays published.
func (s *Service) publish(ctx context.Context, chunks []*store.Chunk, vectors [][]float32, run *indexRun) (*IndexResult, error) {
	run.report("index", 0, len(chunks))

	oracle := s.buildOracle(ctx, chunks, vectors)
	if err := s.coord.BuildIndex(ctx, chunks, oracle); err != nil {
		if closer, ok := oracle.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				slog.Warn("oracle_discard_failed", slog.String("error", cerr.Error()))
			}
		}
		return nil, err
	}
	s.chunks, s.vectors = chunks, vectors
	run.report("index", len(chunks), len(chunks))

	stats := s.coord.Stats()
	return &IndexResult{
		Indexed:       len(chunks),
		DocumentCount: stats.DocumentCount,
		SourceCount:   stats.SourceCount,
		Semantic:      oracle != nil,
	}, nil
}

// buildOracle returns the semantic oracle for chunks, or nil when semantic
// search is off or cannot be built.
func (s *Service) buildOracle(ctx context.Context, chunks []*store.Chunk, vectors [][]float32) search.SemanticOracle {
	if s.embedder == nil || vectors == nil {
		return nil
	}

	if s.pg != nil {
		gen, err := s.pg.Stage(ctx, chunks, vectors)
		if err != nil {
			slog.Warn("pgvector_stage_failed", slog.String("error", err.Error()))
			s.prom.ObserveOracleFailure("pgvector_stage")
			return nil
		}
		return gen
	}

	oracle, err := search.NewVectorOracle(ctx, s.embedder, chunks, vectors)
	if err != nil {
		slog.Warn("vector_oracle_build_failed", slog.String("error", err.Error()))
		s.prom.ObserveOracleFailure("hnsw_build")
		return nil
	}
	return oracle
}

// embedMissing returns one vector per chunk, reusing stored vectors whose
// dimension matches the embedder and embedding the rest. It returns nil
// vectors when semantic search is off or embedding fails.
func (s *Service) embedMissing(ctx context.Context, chunks []*store.Chunk, stored [][]float32, run *indexRun) ([][]float32, int) {
	if s.embedder == nil || len(chunks) == 0 {
		return nil, 0
	}

	dims := s.embedder.Dimensions()
	vectors := make([][]float32, len(chunks))
	var (
		missing   []*store.Chunk
		positions []int
	)
	for i, c := range chunks {
		if stored != nil && i < len(stored) && stored[i] != nil && (dims <= 0 || len(stored[i]) == dims) {
			vectors[i] = stored[i]
			continue
		}
		missing = append(missing, c)
		positions = append(positions, i)
	}
	if len(missing) == 0 {
		return vectors, 0
	}

	run.report("embed", 0, len(missing))
	embedded, err := search.EmbedChunks(ctx, s.embedder, missing,
		s.opts.EmbedBatchSize, s.opts.EmbedConcurrency,
		func(done, total int) { run.report("embed", done, total) })
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("embedding_failed_keyword_only",
				slog.String("model", s.embedder.ModelName()),
				slog.Int("chunks", len(missing)),
				slog.String("error", err.Error()))
			s.prom.ObserveOracleFailure("embed")
		}
		return nil, 0
	}

	for j, pos := range positions {
		vectors[pos] = embedded[j]
	}
	return vectors, len(missing)
}

// persist runs fn while holding the data-directory lock.
func (s *Service) persist(ctx context.Context, fn func(context.Context) error) error {
	if s.lock != nil {
		lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
		err := s.lock.Lock(lockCtx)
		cancel()
		if err != nil {
			return amanerrors.New(amanerrors.ErrCodeCorpusLocked,
				"corpus is locked by another process", err).
				WithSuggestion("Wait for the other amanrag process to finish indexing")
		}
		defer func() { _ = s.lock.Unlock() }()
	}
	if err := fn(ctx); err != nil {
		return amanerrors.New(amanerrors.ErrCodePersistFailed, "failed to persist corpus", err)
	}
	return nil
}

// dedupeChunks drops nil chunks and repeated chunk keys; the last occurrence
// of a key wins but keeps the position of the first.
func dedupeChunks(chunks []*store.Chunk) []*store.Chunk {
	out := make([]*store.Chunk, 0, len(chunks))
	seen := make(map[store.ChunkKey]int, len(chunks))
	for _, c := range chunks {
		if c == nil {
			continue
		}
		if pos, ok := seen[c.Key()]; ok {
			out[pos] = c
			continue
		}
		seen[c.Key()] = len(out)
		out = append(out, c)
	}
	if dropped := len(chunks) - len(out); dropped > 0 {
		slog.Debug("chunks_deduplicated", slog.Int("dropped", dropped))
	}
	return out
}

func newRun(opts []IndexOption) *indexRun {
	run := &indexRun{}
	for _, opt := range opts {
		opt(run)
	}
	return run
}

// String implements fmt.Stringer for CLI output.
func (r *IndexResult) String() string {
	return fmt.Sprintf("%d chunks from %d sources (embedded %d, semantic %t) in %s",
		r.Indexed, r.SourceCount, r.Embedded, r.Semantic, r.Duration.Round(time.Millisecond))
}
