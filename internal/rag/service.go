// Package rag is the question-answering service. It owns the published
// search index and exposes the outward operations every surface (CLI, MCP,
// HTTP) calls: Query, Ask, Classify, IndexCorpus and the corpus maintenance
// operations.
package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Aman-CERP/amanrag/internal/answer"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// Semantic backend names.
const (
	SemanticHNSW     = "hnsw"
	SemanticPgVector = "pgvector"
	SemanticNone     = "none"
)

// Deps are the collaborators of a Service. Only Coordinator is required.
type Deps struct {
	Coordinator *search.Coordinator

	// Router decides DIRECT vs SEARCH. Nil installs a pattern-only router.
	Router *router.Router

	// Generator answers Ask. Nil makes Ask return retrieval with AnswerError.
	Generator llm.Generator

	// Embedder enables semantic search. Nil means keyword-only.
	Embedder embed.Embedder

	// PgVector, when set, serves semantic search instead of the in-process graph.
	PgVector *search.PgVectorStore

	// Store persists the corpus. Nil keeps it in memory only.
	Store *store.CorpusStore

	// Lock guards Store against concurrent writers in other processes.
	Lock *store.DirLock

	Loader  *corpus.Loader
	Metrics *telemetry.QueryMetrics
	Prom    *telemetry.Metrics

	// Closers are released by Close, in order, after the coordinator.
	Closers []io.Closer
}

// Options tunes a Service.
type Options struct {
	// MinScore is the default cut-off for keyword and semantic results.
	MinScore float64
	// HybridMinScore is the default cut-off for fused results.
	HybridMinScore float64

	EmbedBatchSize   int
	EmbedConcurrency int
}

// DefaultOptions returns the default score thresholds.
func DefaultOptions() Options {
	return Options{
		MinScore:         answer.DefaultMinScore,
		HybridMinScore:   answer.DefaultHybridMinScore,
		EmbedBatchSize:   embed.DefaultBatchSize,
		EmbedConcurrency: search.DefaultEmbedConcurrency,
	}
}

// Service answers questions over one indexed corpus.
type Service struct {
	coord     *search.Coordinator
	router    *router.Router
	generator llm.Generator
	embedder  embed.Embedder
	pg        *search.PgVectorStore
	store     *store.CorpusStore
	lock      *store.DirLock
	loader    *corpus.Loader
	metrics   *telemetry.QueryMetrics
	prom      *telemetry.Metrics
	closers   []io.Closer
	opts      Options

	// mu serializes corpus mutations and guards the in-memory corpus.
	mu      sync.Mutex
	chunks  []*store.Chunk
	vectors [][]float32

	closeOnce sync.Once
}

// New creates a service. Searches return empty results until IndexCorpus
// or LoadPersisted publishes an index.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("%w: coordinator is required", search.ErrNilDependency)
	}
	d := DefaultOptions()
	if opts.MinScore < 0 {
		opts.MinScore = d.MinScore
	}
	if opts.HybridMinScore < 0 {
		opts.HybridMinScore = d.HybridMinScore
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = d.EmbedBatchSize
	}
	if opts.EmbedConcurrency <= 0 {
		opts.EmbedConcurrency = d.EmbedConcurrency
	}

	r := deps.Router
	if r == nil {
		r = router.New(nil, router.DefaultConfig(), router.WithMetrics(deps.Metrics))
	}
	loader := deps.Loader
	if loader == nil {
		loader = corpus.NewLoader(corpus.Options{})
	}

	return &Service{
		coord:     deps.Coordinator,
		router:    r,
		generator: deps.Generator,
		embedder:  deps.Embedder,
		pg:        deps.PgVector,
		store:     deps.Store,
		lock:      deps.Lock,
		loader:    loader,
		metrics:   deps.Metrics,
		prom:      deps.Prom,
		closers:   deps.Closers,
		opts:      opts,
	}, nil
}

// =============================================================================
// Query path
// =============================================================================

// Query routes the question, retrieves, filters and assembles the response.
// Empty retrieval is not an error.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	question, err := validateQuestion(req.Question)
	if err != nil {
		return nil, err
	}
	st, err := search.ParseSearchType(string(req.SearchType))
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidSearchType, err.Error(), nil)
	}
	if req.KeywordWeight < 0 || req.SemanticWeight < 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidWeights,
			"search weights must be non-negative", nil)
	}
	if req.MaxResults < 0 {
		return nil, amanerrors.New(amanerrors.ErrCodeInvalidInput,
			"max_results must be non-negative", nil)
	}

	resp := &QueryResponse{
		Sources:       []answer.SourceGroup{},
		SearchResults: []*search.Result{},
		SearchType:    st,
		Route:         router.RouteSearch,
	}

	if !req.ForceSearchMode {
		d := s.router.Decide(ctx, question)
		resp.Route, resp.RouteStage = d.Route, d.Stage
		if d.Route == router.RouteDirect {
			resp.Latency = time.Since(start)
			return resp, nil
		}
	}

	results, err := s.coord.Search(ctx, question, search.Options{
		SearchType: st,
		MaxResults: req.MaxResults,
		Weights:    search.Weights{Keyword: req.KeywordWeight, Semantic: req.SemanticWeight},
	})
	if err != nil {
		return nil, err
	}

	requested := -1.0
	if req.MinScore != nil {
		requested = *req.MinScore
	}
	resp.MinScore = answer.MinScoreFor(st, requested, s.opts.MinScore, s.opts.HybridMinScore)

	filtered := answer.FilterByMinScore(results, resp.MinScore)
	resp.SearchResults = filtered
	resp.AnswerContext = answer.FormatContext(filtered)
	resp.Sources = answer.GroupSources(filtered)
	resp.SearchStats = answer.BuildStats(len(results), len(filtered), len(filtered))
	resp.Latency = time.Since(start)

	slog.Debug("query_served",
		slog.String("search_type", string(st)),
		slog.Int("total", len(results)),
		slog.Int("kept", len(filtered)),
		slog.Float64("min_score", resp.MinScore),
		slog.Duration("latency", resp.Latency))

	return resp, nil
}

// Classify returns the route for question.
func (s *Service) Classify(ctx context.Context, question string) (router.Route, error) {
	d, err := s.Decide(ctx, question)
	if err != nil {
		return "", err
	}
	return d.Route, nil
}

// Decide returns the routing decision with the stage that produced it.
func (s *Service) Decide(ctx context.Context, question string) (router.Decision, error) {
	q, err := validateQuestion(question)
	if err != nil {
		return router.Decision{}, err
	}
	return s.router.Decide(ctx, q), nil
}

// Ask runs Query and then generates an answer. DIRECT routes and empty
// retrieval produce an ungrounded answer. A generator failure does not fail
// the call; the retrieval payload comes back with AnswerError set.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	qr, err := s.Query(ctx, req.QueryRequest)
	if err != nil {
		return nil, err
	}

	resp := &AskResponse{QueryResponse: *qr}
	resp.Grounded = qr.AnswerContext != ""

	if s.generator == nil {
		resp.AnswerError = amanerrors.New(amanerrors.ErrCodeGeneratorUnavailable,
			"no answer generator configured", nil).Error()
		return resp, nil
	}
	resp.Model = s.generator.ModelName()

	prompt := answer.BuildPrompt(req.Question, qr.AnswerContext, req.History)
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("answer_generation_failed",
			slog.String("model", resp.Model),
			slog.String("error", err.Error()))
		resp.AnswerError = err.Error()
		return resp, nil
	}

	resp.Answer = text
	return resp, nil
}

func validateQuestion(q string) (string, error) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return "", amanerrors.New(amanerrors.ErrCodeQueryEmpty, "question is required", nil).
			WithSuggestion("Provide a non-empty question")
	}
	if utf8.RuneCountInString(trimmed) > MaxQuestionLength {
		return "", amanerrors.New(amanerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("question exceeds %d characters", MaxQuestionLength), nil)
	}
	return trimmed, nil
}

// =============================================================================
// Status and lifecycle
// =============================================================================

// Status returns the index and backend state. No network calls.
func (s *Service) Status() Status {
	st := Status{
		Index:           s.coord.Stats(),
		SemanticBackend: s.semanticBackend(),
		Persistent:      s.store != nil,
	}
	if s.embedder != nil {
		st.Embedder = s.embedder.ModelName()
		st.EmbedderDims = s.embedder.Dimensions()
	}
	if s.generator != nil {
		st.Generator = s.generator.ModelName()
	}
	if s.store != nil {
		st.StorePath = s.store.Path()
	}
	if s.metrics != nil {
		st.Queries = s.metrics.Snapshot()
	}
	return st
}

func (s *Service) semanticBackend() string {
	switch {
	case s.embedder == nil:
		return SemanticNone
	case s.pg != nil:
		return SemanticPgVector
	default:
		return SemanticHNSW
	}
}

// Loader returns the ingestion loader.
func (s *Service) Loader() *corpus.Loader {
	return s.loader
}

// Close retires the index and releases every owned resource.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.coord.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.metrics != nil {
			if err := s.metrics.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close query metrics: %w", err))
			}
		}
		for _, c := range s.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
