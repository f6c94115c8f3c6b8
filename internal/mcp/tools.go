package mcp

import (
	"time"

	"github.com/Aman-CERP/amanrag/internal/answer"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// Tool limits.
const (
	DefaultLimit = 5
	MaxLimit     = 50
)

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Question       string   `json:"question" jsonschema:"the question to retrieve context for"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
	SearchType     string   `json:"search_type,omitempty" jsonschema:"keyword, semantic or hybrid (default)"`
	MinScore       *float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this; omit for the per-type default"`
	KeywordWeight  float64  `json:"keyword_weight,omitempty" jsonschema:"hybrid fusion weight of keyword results"`
	SemanticWeight float64  `json:"semantic_weight,omitempty" jsonschema:"hybrid fusion weight of semantic results"`
	ForceSearch    bool     `json:"force_search,omitempty" jsonschema:"skip routing and always retrieve"`
}

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Question    string   `json:"question" jsonschema:"the question to answer"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of context chunks, default 5"`
	SearchType  string   `json:"search_type,omitempty" jsonschema:"keyword, semantic or hybrid (default)"`
	MinScore    *float64 `json:"min_score,omitempty" jsonschema:"drop results scoring below this; omit for the per-type default"`
	ForceSearch bool     `json:"force_search,omitempty" jsonschema:"skip routing and always retrieve"`
	History     string   `json:"history,omitempty" jsonschema:"prior conversation as plain text"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	RequestID     string         `json:"request_id"`
	Route         string         `json:"route" jsonschema:"DIRECT or SEARCH"`
	RouteStage    string         `json:"route_stage,omitempty"`
	SearchType    string         `json:"search_type"`
	MinScore      float64        `json:"min_score"`
	AnswerContext string         `json:"answer_context" jsonschema:"numbered context blocks ready for a prompt"`
	Results       []ResultOutput `json:"results"`
	Sources       []SourceOutput `json:"sources"`
	TotalResults  int            `json:"total_results"`
	LatencyMS     int64          `json:"latency_ms"`
}

// ResultOutput is one retrieved chunk.
type ResultOutput struct {
	SourceID     string   `json:"source_id" jsonschema:"source document identifier"`
	ChunkIndex   int      `json:"chunk_index"`
	FileName     string   `json:"file_name,omitempty"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	SearchType   string   `json:"search_type"`
	KeywordRank  int      `json:"keyword_rank,omitempty"`
	SemanticRank int      `json:"semantic_rank,omitempty"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
	InBothLists  bool     `json:"in_both_lists,omitempty" jsonschema:"true if the chunk was found by both keyword and semantic search"`
}

// SourceOutput is one source document with its retrieved chunk indexes.
type SourceOutput struct {
	SourceID  string `json:"source_id"`
	FileName  string `json:"file_name,omitempty"`
	FileType  string `json:"file_type,omitempty"`
	IndexedAt string `json:"indexed_at,omitempty"`
	Chunks    []int  `json:"chunks" jsonschema:"chunk indexes in ascending order"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	RequestID   string         `json:"request_id"`
	Answer      string         `json:"answer"`
	Grounded    bool           `json:"grounded" jsonschema:"true if the answer was generated from retrieved context"`
	Model       string         `json:"model,omitempty"`
	AnswerError string         `json:"answer_error,omitempty"`
	Route       string         `json:"route"`
	Sources     []SourceOutput `json:"sources"`
	LatencyMS   int64          `json:"latency_ms"`
}

// ClassifyInput defines the input schema for the classify tool.
type ClassifyInput struct {
	Question string `json:"question" jsonschema:"the question to route"`
}

// ClassifyOutput defines the output schema for the classify tool.
type ClassifyOutput struct {
	Route string `json:"route" jsonschema:"DIRECT or SEARCH"`
	Stage string `json:"stage" jsonschema:"pattern, model, cache or default"`
}

// IndexInput defines the input schema for the index tool.
type IndexInput struct {
	Path string `json:"path" jsonschema:"file or directory to ingest; replaces the current corpus"`
}

// IndexOutput defines the output schema for the index tool.
type IndexOutput struct {
	Indexed     int   `json:"indexed"`
	SourceCount int   `json:"source_count"`
	Embedded    int   `json:"embedded"`
	Semantic    bool  `json:"semantic"`
	Persisted   bool  `json:"persisted"`
	DurationMS  int64 `json:"duration_ms"`
}

// RemoveSourceInput defines the input schema for the remove_source tool.
type RemoveSourceInput struct {
	SourceID string `json:"source_id" jsonschema:"source identifier to drop from the corpus"`
}

// RemoveSourceOutput defines the output schema for the remove_source tool.
type RemoveSourceOutput struct {
	Removed int `json:"removed"`
}

// StatusInput defines the input schema for the status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the status tool.
type StatusOutput struct {
	Indexed         bool              `json:"indexed"`
	DocumentCount   int               `json:"document_count"`
	SourceCount     int               `json:"source_count"`
	Terms           int               `json:"terms"`
	KeywordBackend  string            `json:"keyword_backend,omitempty"`
	SemanticBackend string            `json:"semantic_backend"`
	Semantic        bool              `json:"semantic" jsonschema:"true if the published index has a semantic oracle"`
	BuiltAt         string            `json:"built_at,omitempty"`
	Embedder        string            `json:"embedder,omitempty"`
	Dimensions      int               `json:"dimensions,omitempty"`
	Generator       string            `json:"generator,omitempty"`
	Persistent      bool              `json:"persistent"`
	TotalQueries    int64             `json:"total_queries,omitempty"`
	Indexing        *IndexingProgress `json:"indexing,omitempty"`
}

// IndexingProgress describes an index run in flight.
type IndexingProgress struct {
	Stage          string `json:"stage"`
	Done           int    `json:"done"`
	Total          int    `json:"total"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

func (in QueryInput) request() rag.QueryRequest {
	return rag.QueryRequest{
		Question:        in.Question,
		MaxResults:      clampLimit(in.Limit, DefaultLimit, 1, MaxLimit),
		MinScore:        in.MinScore,
		KeywordWeight:   in.KeywordWeight,
		SemanticWeight:  in.SemanticWeight,
		SearchType:      search.SearchType(in.SearchType),
		ForceSearchMode: in.ForceSearch,
	}
}

func (in AskInput) request() rag.AskRequest {
	return rag.AskRequest{
		QueryRequest: rag.QueryRequest{
			Question:        in.Question,
			MaxResults:      clampLimit(in.Limit, DefaultLimit, 1, MaxLimit),
			MinScore:        in.MinScore,
			SearchType:      search.SearchType(in.SearchType),
			ForceSearchMode: in.ForceSearch,
		},
		History: in.History,
	}
}

// clampLimit applies the default to non-positive limits and clamps to [lo, hi].
func clampLimit(limit, def, lo, hi int) int {
	if limit <= 0 {
		limit = def
	}
	return max(lo, min(limit, hi))
}

// ToQueryOutput converts a service response to the query tool schema.
func ToQueryOutput(requestID string, resp *rag.QueryResponse) QueryOutput {
	out := QueryOutput{
		RequestID:     requestID,
		Route:         string(resp.Route),
		RouteStage:    string(resp.RouteStage),
		SearchType:    string(resp.SearchType),
		MinScore:      resp.MinScore,
		AnswerContext: resp.AnswerContext,
		Results:       make([]ResultOutput, 0, len(resp.SearchResults)),
		Sources:       toSourceOutputs(resp.Sources),
		TotalResults:  resp.SearchStats.TotalResults,
		LatencyMS:     resp.Latency.Milliseconds(),
	}
	for _, r := range resp.SearchResults {
		if r == nil || r.Chunk == nil {
			continue
		}
		out.Results = append(out.Results, ResultOutput{
			SourceID:     r.Chunk.SourceID,
			ChunkIndex:   r.Chunk.ChunkIndex,
			FileName:     r.Chunk.FileName,
			Content:      r.Chunk.Content,
			Score:        r.Score,
			SearchType:   string(r.SearchType),
			KeywordRank:  r.KeywordRank,
			SemanticRank: r.SemanticRank,
			MatchedTerms: r.MatchedTerms,
			InBothLists:  r.KeywordRank > 0 && r.SemanticRank > 0,
		})
	}
	return out
}

// ToAskOutput converts a service response to the ask tool schema.
func ToAskOutput(requestID string, resp *rag.AskResponse) AskOutput {
	return AskOutput{
		RequestID:   requestID,
		Answer:      resp.Answer,
		Grounded:    resp.Grounded,
		Model:       resp.Model,
		AnswerError: resp.AnswerError,
		Route:       string(resp.Route),
		Sources:     toSourceOutputs(resp.Sources),
		LatencyMS:   resp.Latency.Milliseconds(),
	}
}

func toSourceOutputs(groups []answer.SourceGroup) []SourceOutput {
	out := make([]SourceOutput, 0, len(groups))
	for _, g := range groups {
		so := SourceOutput{
			SourceID: g.SourceID,
			FileName: g.FileName,
			FileType: g.FileType,
			Chunks:   make([]int, 0, len(g.Chunks)),
		}
		if !g.IndexedAt.IsZero() {
			so.IndexedAt = g.IndexedAt.UTC().Format(time.RFC3339)
		}
		for _, c := range g.Chunks {
			so.Chunks = append(so.Chunks, c.ChunkIndex)
		}
		out = append(out, so)
	}
	return out
}

func toStatusOutput(st rag.Status) StatusOutput {
	out := StatusOutput{
		Indexed:         st.Index.Indexed,
		DocumentCount:   st.Index.DocumentCount,
		SourceCount:     st.Index.SourceCount,
		Terms:           st.Index.Terms,
		KeywordBackend:  st.Index.Backend,
		SemanticBackend: st.SemanticBackend,
		Semantic:        st.Index.Semantic,
		Embedder:        st.Embedder,
		Dimensions:      st.EmbedderDims,
		Generator:       st.Generator,
		Persistent:      st.Persistent,
	}
	if !st.Index.BuiltAt.IsZero() {
		out.BuiltAt = st.Index.BuiltAt.UTC().Format(time.RFC3339)
	}
	if st.Queries != nil {
		out.TotalQueries = st.Queries.TotalQueries
	}
	return out
}
