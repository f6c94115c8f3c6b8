// Package search provides hybrid retrieval over a chunk corpus: keyword
// search, semantic search through a pluggable oracle, and weighted
// Reciprocal Rank Fusion of the two.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// SearchType tags where a result came from.
type SearchType string

const (
	SearchTypeKeyword  SearchType = "keyword"
	SearchTypeSemantic SearchType = "semantic"
	SearchTypeHybrid   SearchType = "hybrid"
)

// ParseSearchType parses a search type name. Empty means hybrid.
func ParseSearchType(s string) (SearchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(SearchTypeHybrid):
		return SearchTypeHybrid, nil
	case string(SearchTypeKeyword):
		return SearchTypeKeyword, nil
	case string(SearchTypeSemantic):
		return SearchTypeSemantic, nil
	default:
		return "", fmt.Errorf("unknown search type %q (want keyword, semantic or hybrid)", s)
	}
}

// Result is a chunk with a score for one request.
type Result struct {
	// Chunk is the retrieved chunk. Oracles may return results whose chunk
	// is nil; fusion skips those.
	Chunk *store.Chunk

	// Score is non-negative: TF-IDF magnitude for keyword, similarity for
	// semantic, fused reciprocal-rank score for hybrid.
	Score float64

	SearchType SearchType

	// KeywordRank is the position in keyword results (1-indexed, 0 if absent).
	KeywordRank int

	// SemanticRank is the position in semantic results (1-indexed, 0 if absent).
	SemanticRank int

	KeywordScore  float64
	SemanticScore float64

	// MatchedTerms contains the query terms found in the chunk by keyword search.
	MatchedTerms []string
}

// Key returns the chunk identity of the result. ok is false when the result
// carries no chunk.
func (r *Result) Key() (key store.ChunkKey, ok bool) {
	if r == nil || r.Chunk == nil {
		return store.ChunkKey{}, false
	}
	return r.Chunk.Key(), true
}

// Weights configures the relative importance of keyword vs semantic search.
type Weights struct {
	Keyword  float64
	Semantic float64
}

// DefaultWeights favors semantic search, which generalizes across
// paraphrase, while keeping keyword recall for exact terms.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.3, Semantic: 0.7}
}

// IsZero reports whether both weights are zero.
func (w Weights) IsZero() bool {
	return w.Keyword == 0 && w.Semantic == 0
}

// HybridOptions configures a hybrid search.
type HybridOptions struct {
	// MaxResults bounds the fused output (default: Config.DefaultLimit).
	MaxResults int

	// KeywordWeight and SemanticWeight are the fusion weights. When both are
	// zero the configured defaults apply.
	KeywordWeight  float64
	SemanticWeight float64
}

// Options configures Search.
type Options struct {
	SearchType SearchType
	MaxResults int
	Weights    Weights
}

// SemanticOracle returns the top-k chunks by embedding similarity.
// Implementations must honor ctx cancellation.
type SemanticOracle interface {
	Search(ctx context.Context, query string, k int) ([]*Result, error)
}

// Stats describes the published index. Side-effect free.
type Stats struct {
	Indexed       bool      `json:"indexed"`
	DocumentCount int       `json:"document_count"`
	SourceCount   int       `json:"source_count"`
	Terms         int       `json:"terms"`
	Backend       string    `json:"backend"`
	Semantic      bool      `json:"semantic"`
	BuiltAt       time.Time `json:"built_at,omitzero"`
}

// Config configures the coordinator.
type Config struct {
	// DefaultLimit is the result count when none is requested (default: 5).
	DefaultLimit int

	// MaxLimit caps requested result counts (default: 100).
	MaxLimit int

	// CandidateFloor is the minimum candidate pool per sub-search in hybrid
	// mode; the pool is max(2*MaxResults, CandidateFloor) (default: 10).
	CandidateFloor int

	// RRFConstant is the fusion damping constant K (default: 60).
	RRFConstant int

	DefaultWeights Weights

	// KeywordBuilder builds the keyword index (default: TF-IDF).
	KeywordBuilder store.KeywordBuilder

	// SearchTimeout bounds a single search; 0 means no extra deadline.
	SearchTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:   5,
		MaxLimit:       100,
		CandidateFloor: 10,
		RRFConstant:    DefaultRRFConstant,
		DefaultWeights: DefaultWeights(),
		KeywordBuilder: store.NewTFIDFBuilder(),
		SearchTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.CandidateFloor <= 0 {
		c.CandidateFloor = d.CandidateFloor
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.DefaultWeights.IsZero() {
		c.DefaultWeights = d.DefaultWeights
	}
	if c.KeywordBuilder == nil {
		c.KeywordBuilder = d.KeywordBuilder
	}
	return c
}
