package rag

import (
	"time"

	"github.com/Aman-CERP/amanrag/internal/answer"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// MaxQuestionLength bounds a question, in runes.
const MaxQuestionLength = 4096

// QueryRequest is the input of Query.
type QueryRequest struct {
	Question   string `json:"question"`
	MaxResults int    `json:"max_results,omitempty"`

	// MinScore overrides the score cut-off. Nil or negative selects the
	// configured default for the search type.
	MinScore *float64 `json:"min_score,omitempty"`

	// KeywordWeight and SemanticWeight override the fusion weights for
	// hybrid search; both zero selects the configured defaults.
	KeywordWeight  float64 `json:"keyword_weight,omitempty"`
	SemanticWeight float64 `json:"semantic_weight,omitempty"`

	// SearchType is keyword, semantic or hybrid (default).
	SearchType search.SearchType `json:"search_type,omitempty"`

	// ForceSearchMode skips routing; retrieval always runs.
	ForceSearchMode bool `json:"force_search_mode,omitempty"`
}

// QueryResponse is the output of Query. A DIRECT route yields an empty but
// well-formed response.
type QueryResponse struct {
	AnswerContext string               `json:"answer_context"`
	Sources       []answer.SourceGroup `json:"sources"`
	SearchResults []*search.Result     `json:"search_results"`
	SearchStats   answer.Stats         `json:"search_stats"`
	SearchType    search.SearchType    `json:"search_type"`
	Route         router.Route         `json:"route"`
	RouteStage    router.Stage         `json:"route_stage,omitempty"`
	MinScore      float64              `json:"min_score"`
	Latency       time.Duration        `json:"latency_ns"`
}

// AskRequest is the input of Ask.
type AskRequest struct {
	QueryRequest

	// History is the prior conversation rendered as plain text.
	History string `json:"history,omitempty"`
}

// AskResponse is the output of Ask. When the generator fails the retrieval
// payload is still returned, with AnswerError set.
type AskResponse struct {
	QueryResponse

	Answer      string `json:"answer"`
	Grounded    bool   `json:"grounded"`
	Model       string `json:"model,omitempty"`
	AnswerError string `json:"answer_error,omitempty"`
}

// IndexResult reports an indexing run.
type IndexResult struct {
	Indexed       int           `json:"indexed"`
	DocumentCount int           `json:"document_count"`
	SourceCount   int           `json:"source_count"`
	Embedded      int           `json:"embedded"`
	Semantic      bool          `json:"semantic"`
	Persisted     bool          `json:"persisted"`
	Duration      time.Duration `json:"duration_ns"`
}

// Status describes the service. Side-effect free.
type Status struct {
	Index           search.Stats                    `json:"index"`
	Embedder        string                          `json:"embedder,omitempty"`
	EmbedderDims    int                             `json:"embedder_dimensions,omitempty"`
	SemanticBackend string                          `json:"semantic_backend"`
	Generator       string                          `json:"generator,omitempty"`
	Persistent      bool                            `json:"persistent"`
	StorePath       string                          `json:"store_path,omitempty"`
	Queries         *telemetry.QueryMetricsSnapshot `json:"queries,omitempty"`
}

// Progress receives indexing progress. stage is "load", "embed" or "index".
type Progress func(stage string, done, total int)
