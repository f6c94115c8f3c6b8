package rag

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/llm"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// BuildOption configures NewFromConfig.
type BuildOption func(*buildOptions)

type buildOptions struct {
	prom      *telemetry.Metrics
	inMemory  bool
	generator llm.Generator
	embedder  embed.Embedder
}

// WithPrometheus exports service metrics to p.
func WithPrometheus(p *telemetry.Metrics) BuildOption {
	return func(o *buildOptions) {
		o.prom = p
	}
}

// InMemory keeps the corpus in memory only; nothing is written to DataDir.
func InMemory() BuildOption {
	return func(o *buildOptions) {
		o.inMemory = true
	}
}

// WithGenerator replaces the configured LLM client for answer generation.
func WithGenerator(g llm.Generator) BuildOption {
	return func(o *buildOptions) {
		o.generator = g
	}
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e embed.Embedder) BuildOption {
	return func(o *buildOptions) {
		o.embedder = e
	}
}

// NewFromConfig wires a Service from cfg. Nothing is indexed; call
// LoadPersisted or IndexPath afterwards.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts ...BuildOption) (svc *Service, err error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		}
	}()

	// Corpus store and query telemetry.
	var (
		corpusStore *store.CorpusStore
		lock        *store.DirLock
		metrics     *telemetry.QueryMetrics
	)
	if !bo.inMemory {
		corpusStore, err = store.NewCorpusStore(cfg.CorpusDBPath())
		if err != nil {
			return nil, fmt.Errorf("open corpus store: %w", err)
		}
		closers = append(closers, corpusStore)
		lock = store.NewDirLock(cfg.Storage.DataDir)
	}
	if cfg.Telemetry.Enabled {
		var ms telemetry.QueryMetricsStore
		if corpusStore != nil {
			sqlStore, serr := telemetry.NewSQLiteMetricsStore(ctx, corpusStore.DB())
			if serr != nil {
				slog.Warn("telemetry_store_unavailable", slog.String("error", serr.Error()))
			} else {
				ms = sqlStore
			}
		}
		metrics = telemetry.NewQueryMetrics(ms).WithPrometheus(bo.prom)
	}

	// Embedder, unless semantic search is off.
	embedder := bo.embedder
	if embedder == nil && cfg.Semantic.Backend != SemanticNone {
		embedder, err = embed.NewEmbedder(ctx, embed.Config{
			Provider:   embed.ParseProvider(cfg.Embeddings.Provider),
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    cfg.EmbeddingsTimeout(),
			CacheSize:  cfg.Embeddings.CacheSize,
		})
		if err != nil {
			return nil, err
		}
		closers = append(closers, embedder)
	}

	var pg *search.PgVectorStore
	if embedder != nil && cfg.Semantic.Backend == SemanticPgVector {
		var db *sql.DB
		db, err = search.OpenPgVector(ctx, cfg.Semantic.PostgresDSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, db)
		pg, err = search.NewPgVectorStore(db, embedder, cfg.Semantic.PostgresTable)
		if err != nil {
			return nil, err
		}
		if err = pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		if err = pg.Purge(ctx); err != nil {
			return nil, err
		}
	}

	// Generation backend, shared by the router and Ask.
	generator := bo.generator
	var oracle router.ClassificationOracle
	if generator == nil {
		client := llm.New(llm.Config{
			Host:           cfg.LLM.Host,
			Model:          cfg.LLM.Model,
			ClassifyModel:  cfg.LLM.RouterModel,
			Timeout:        cfg.LLMTimeout(),
			RequestsPerSec: cfg.LLM.RequestsPerSec,
			Burst:          cfg.LLM.Burst,
			MaxRetries:     cfg.LLM.MaxRetries,
			Temperature:    cfg.LLM.Temperature,
		}, llm.WithPrometheus(bo.prom))
		closers = append(closers, client)
		generator = client
		oracle = client
	} else if o, ok := generator.(router.ClassificationOracle); ok {
		oracle = o
	}
	if cfg.Router.DisableModel {
		oracle = nil
	}
	rt := router.New(oracle, router.Config{
		CacheSize:    cfg.Router.CacheSize,
		Timeout:      cfg.RouterTimeout(),
		DisableModel: cfg.Router.DisableModel,
	}, router.WithMetrics(metrics))

	keywordBuilder := store.NewTFIDFBuilder()
	if cfg.Search.KeywordBackend == store.BackendBleve {
		keywordBuilder = store.NewBleveBuilder()
	}
	coord := search.NewCoordinator(search.Config{
		DefaultLimit:   cfg.Search.MaxResults,
		MaxLimit:       cfg.Search.MaxLimit,
		CandidateFloor: cfg.Search.CandidateFloor,
		RRFConstant:    cfg.Search.RRFConstant,
		DefaultWeights: search.Weights{
			Keyword:  cfg.Search.KeywordWeight,
			Semantic: cfg.Search.SemanticWeight,
		},
		KeywordBuilder: keywordBuilder,
		SearchTimeout:  cfg.SearchTimeout(),
	}, search.WithMetrics(metrics), search.WithPrometheus(bo.prom))

	loader := corpus.NewLoader(corpus.Options{
		ChunkSize:    cfg.Corpus.ChunkSize,
		ChunkOverlap: cfg.Corpus.ChunkOverlap,
		MaxFileSize:  cfg.MaxFileSize(),
	})

	// Close order: newest resource first, the store last.
	reversed := make([]io.Closer, 0, len(closers))
	for i := len(closers) - 1; i >= 0; i-- {
		reversed = append(reversed, closers[i])
	}

	svc, err = New(Deps{
		Coordinator: coord,
		Router:      rt,
		Generator:   generator,
		Embedder:    embedder,
		PgVector:    pg,
		Store:       corpusStore,
		Lock:        lock,
		Loader:      loader,
		Metrics:     metrics,
		Prom:        bo.prom,
		Closers:     reversed,
	}, Options{
		MinScore:         cfg.Search.MinScore,
		HybridMinScore:   cfg.Search.HybridMinScore,
		EmbedBatchSize:   cfg.Embeddings.BatchSize,
		EmbedConcurrency: search.DefaultEmbedConcurrency,
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("service_wired",
		slog.String("semantic", svc.semanticBackend()),
		slog.String("keyword_backend", cfg.Search.KeywordBackend),
		slog.Bool("persistent", corpusStore != nil),
		slog.Bool("router_model", oracle != nil))
	return svc, nil
}
