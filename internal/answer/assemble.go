// Package answer turns ranked search results into response-shaped values:
// the grounding context string handed to the language model, the source
// grouping shown to users, and the retrieval counters.
//
// Nothing here reorders results by relevance; callers sort and filter first.
package answer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/search"
)

// ContextSeparator sits between result blocks in the formatted context.
const ContextSeparator = "\n\n---\n\n"

const unknownLabel = "unknown"

// Default minimum scores. Fused RRF scores live on a much smaller scale than
// TF-IDF and cosine scores, hence the separate hybrid threshold.
const (
	DefaultMinScore       = 0.1
	DefaultHybridMinScore = 0.01
)

// MinScoreFor returns the threshold to apply for a search type. A negative
// requested value selects the default for that type.
func MinScoreFor(st search.SearchType, requested, plain, hybrid float64) float64 {
	if requested >= 0 {
		return requested
	}
	if st == search.SearchTypeHybrid || st == "" {
		return hybrid
	}
	return plain
}

// FilterByMinScore keeps results scoring at least minScore, in order.
// Nil results are dropped.
func FilterByMinScore(results []*search.Result, minScore float64) []*search.Result {
	filtered := make([]*search.Result, 0, len(results))
	for _, r := range results {
		if r == nil || r.Score < minScore {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// FormatContext renders results as labeled blocks in the order given:
//
//	[Source 1: report.pdf | chunk 2/7 | score 0.0164]
//	<content>
//
// Blocks are joined by ContextSeparator. A result without a chunk still gets
// a block with unknown labels.
func FormatContext(results []*search.Result) string {
	if len(results) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, formatBlock(i+1, r))
	}
	return strings.Join(blocks, ContextSeparator)
}

func formatBlock(n int, r *search.Result) string {
	name, position, content := unknownLabel, unknownLabel, ""
	var score float64
	if r != nil {
		score = r.Score
		if c := r.Chunk; c != nil {
			if dn := c.DisplayName(); dn != "" {
				name = dn
			}
			total := c.TotalChunks
			if total < c.ChunkIndex+1 {
				total = c.ChunkIndex + 1
			}
			position = fmt.Sprintf("%d/%d", c.ChunkIndex+1, total)
			content = c.Content
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Source %d: %s | chunk %s | score %s]\n", n, name, position, formatScore(score))
	sb.WriteString(strings.TrimSpace(content))
	return sb.String()
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 4, 64)
}

// SourceChunk is one retrieved chunk inside a SourceGroup.
type SourceChunk struct {
	ChunkIndex  int     `json:"chunk_index"`
	TotalChunks int     `json:"total_chunks"`
	Rank        int     `json:"rank"` // 1-based position in the input results
	Score       float64 `json:"score"`
	Content     string  `json:"content"`
}

// SourceGroup collects the retrieved chunks of one source document.
type SourceGroup struct {
	SourceID  string        `json:"source_id"`
	FileName  string        `json:"file_name"`
	FileType  string        `json:"file_type"`
	IndexedAt time.Time     `json:"indexed_at,omitzero"`
	Chunks    []SourceChunk `json:"chunks"`
}

// GroupSources groups results by source. Groups keep the order in which
// their source was first seen and the metadata of that first chunk; chunks
// inside a group are sorted by ChunkIndex ascending. Results without a chunk
// are skipped.
func GroupSources(results []*search.Result) []SourceGroup {
	groups := make([]SourceGroup, 0)
	index := make(map[string]int)

	for i, r := range results {
		if r == nil || r.Chunk == nil {
			continue
		}
		c := r.Chunk
		pos, ok := index[c.SourceID]
		if !ok {
			pos = len(groups)
			index[c.SourceID] = pos
			groups = append(groups, SourceGroup{
				SourceID:  c.SourceID,
				FileName:  c.DisplayName(),
				FileType:  c.FileType,
				IndexedAt: c.IndexedAt,
			})
		}
		groups[pos].Chunks = append(groups[pos].Chunks, SourceChunk{
			ChunkIndex:  c.ChunkIndex,
			TotalChunks: c.TotalChunks,
			Rank:        i + 1,
			Score:       r.Score,
			Content:     c.Content,
		})
	}

	for i := range groups {
		chunks := groups[i].Chunks
		sort.SliceStable(chunks, func(a, b int) bool {
			return chunks[a].ChunkIndex < chunks[b].ChunkIndex
		})
	}
	return groups
}

// Stats counts results at each stage of a query.
type Stats struct {
	TotalResults    int `json:"total_results"`
	FilteredResults int `json:"filtered_results"`
	FinalResults    int `json:"final_results"`
}

// BuildStats records the raw, post-filter and returned result counts.
func BuildStats(total, filtered, final int) Stats {
	return Stats{TotalResults: total, FilteredResults: filtered, FinalResults: final}
}
