package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses a local or remote Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses feature-hashed embeddings (no network).
	ProviderStatic ProviderType = "static"

	// ProviderAuto tries Ollama and falls back to static when it is unreachable.
	ProviderAuto ProviderType = "auto"
)

// ParseProvider maps a config string to a provider. Unknown values mean auto.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ollama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderAuto
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// Config selects and tunes an embedder.
type Config struct {
	Provider   ProviderType
	Host       string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration

	// CacheSize bounds the query embedding cache; negative disables caching.
	CacheSize int
}

// NewEmbedder builds the configured embedder and wraps it with the LRU cache.
// An explicit ollama provider fails when Ollama is unreachable; auto falls
// back to the static embedder with a warning.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch cfg.Provider {
	case ProviderStatic:
		embedder = NewStaticEmbedderWithDims(cfg.Dimensions)
	case ProviderOllama:
		embedder, err = newOllama(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w", err)
		}
	default:
		embedder, err = newOllama(ctx, cfg)
		if err != nil {
			slog.Warn("ollama embedder unavailable, falling back to static embeddings",
				slog.String("host", cfg.Host),
				slog.String("error", err.Error()))
			embedder = NewStaticEmbedderWithDims(cfg.Dimensions)
		}
	}

	if cfg.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}

func newOllama(ctx context.Context, cfg Config) (Embedder, error) {
	oc := DefaultOllamaConfig()
	if cfg.Host != "" {
		oc.Host = cfg.Host
	}
	if cfg.Model != "" {
		oc.Model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		oc.Dimensions = cfg.Dimensions
	}
	if cfg.BatchSize > 0 {
		oc.BatchSize = cfg.BatchSize
	}
	if cfg.Timeout > 0 {
		oc.Timeout = cfg.Timeout
	}
	return NewOllamaEmbedder(ctx, oc)
}
