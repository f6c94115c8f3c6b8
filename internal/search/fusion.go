package search

import (
	"sort"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// RRFFusion combines ranked lists using weighted Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ weight_i / (k + rank_i)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position of d in list i (1-indexed)
//   - weight_i = weight for list i
//
// Lists a chunk is absent from contribute nothing. Weights are used as
// given, never normalized.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// fusedEntry accumulates one logical chunk across lists.
type fusedEntry struct {
	result *Result
	order  int // first-encounter order across all lists
}

// Fuse merges lists into one ranking tagged hybrid.
//
// A chunk is identified by (SourceID, ChunkIndex). Within a list only its
// first occurrence counts. A list without a matching weight contributes 0.
// Results are sorted by fused score descending, ties broken by the order
// chunks were first encountered (list 0 first, then list 1, ...).
// Provenance ranks and scores are copied from inputs tagged keyword or
// semantic.
func (f *RRFFusion) Fuse(lists [][]*Result, weights []float64) []*Result {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	entries := make(map[store.ChunkKey]*fusedEntry)
	var ordered []*fusedEntry

	for i, list := range lists {
		var weight float64
		if i < len(weights) {
			weight = weights[i]
		}

		seen := make(map[store.ChunkKey]struct{}, len(list))
		rank := 0
		for _, r := range list {
			key, ok := r.Key()
			if !ok {
				continue
			}
			rank++
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			e, exists := entries[key]
			if !exists {
				e = &fusedEntry{
					result: &Result{Chunk: r.Chunk, SearchType: SearchTypeHybrid},
					order:  len(ordered),
				}
				entries[key] = e
				ordered = append(ordered, e)
			}
			e.result.Score += weight / float64(k+rank)
			recordProvenance(e.result, r, rank)
		}
	}

	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].result.Score != ordered[b].result.Score {
			return ordered[a].result.Score > ordered[b].result.Score
		}
		return ordered[a].order < ordered[b].order
	})

	results := make([]*Result, len(ordered))
	for i, e := range ordered {
		results[i] = e.result
	}
	return results
}

// recordProvenance copies the source rank and score into the fused result.
func recordProvenance(dst, src *Result, rank int) {
	switch src.SearchType {
	case SearchTypeKeyword:
		if dst.KeywordRank == 0 {
			dst.KeywordRank = rank
			dst.KeywordScore = src.Score
			dst.MatchedTerms = src.MatchedTerms
		}
	case SearchTypeSemantic:
		if dst.SemanticRank == 0 {
			dst.SemanticRank = rank
			dst.SemanticScore = src.Score
		}
	}
}
