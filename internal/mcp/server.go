package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/corpus"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// ServerName is the MCP implementation name.
const ServerName = "amanrag"

// Backend is the question-answering service the server exposes.
// *rag.Service implements it.
type Backend interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
	Ask(ctx context.Context, req rag.AskRequest) (*rag.AskResponse, error)
	Decide(ctx context.Context, question string) (router.Decision, error)
	IndexPath(ctx context.Context, path string, opts ...rag.IndexOption) (*rag.IndexResult, error)
	RemoveSource(ctx context.Context, sourceID string) (int, error)
	Status() rag.Status
}

var _ Backend = (*rag.Service)(nil)

// Server is the MCP server for amanrag.
// It bridges AI clients with the retrieval and answering service.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	logger  *slog.Logger

	// corpusRoot confines the index tool; empty rejects every path.
	corpusRoot string

	// progress is non-nil while an index tool call is running.
	mu       sync.RWMutex
	progress *indexProgress
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "query",
		Description: "Retrieve context for a question from the indexed corpus. Routes the question first; conversational questions return no context. Returns ranked chunks, sources and a prompt-ready context block.",
	},
	{
		Name:        "ask",
		Description: "Answer a question grounded in the indexed corpus. Retrieves context like query, then generates an answer with the configured model. Falls back to an ungrounded answer when nothing relevant is found.",
	},
	{
		Name:        "classify",
		Description: "Decide whether a question needs retrieval (SEARCH) or can be answered directly (DIRECT).",
	},
	{
		Name:        "index",
		Description: "Ingest a file or directory (.txt, .md, .pdf, .json, .jsonl) under the server's corpus root and replace the indexed corpus. Relative paths resolve against the root.",
	},
	{
		Name:        "remove_source",
		Description: "Remove every chunk of one source document from the corpus and rebuild the index.",
	},
	{
		Name:        "status",
		Description: "Report whether a corpus is indexed, its size, and which embedder and generator are active.",
	},
}

// Option configures a Server.
type Option func(*Server)

// WithCorpusRoot confines paths passed to the index tool to root.
func WithCorpusRoot(root string) Option {
	return func(s *Server) { s.corpusRoot = root }
}

// NewServer creates a new MCP server over backend.
func NewServer(backend Backend, opts ...Option) (*Server, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	s := &Server{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// =============================================================================
// Tool registration
// =============================================================================

func (s *Server) registerTools() {
	s.logger.Debug("registering_mcp_tools")

	mcp.AddTool(s.mcp, &mcp.Tool{Name: "query", Description: tools[0].Description}, s.mcpQueryHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "ask", Description: tools[1].Description}, s.mcpAskHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "classify", Description: tools[2].Description}, s.mcpClassifyHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "index", Description: tools[3].Description}, s.mcpIndexHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "remove_source", Description: tools[4].Description}, s.mcpRemoveSourceHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "status", Description: tools[5].Description}, s.mcpStatusHandler)

	s.logger.Info("mcp_tools_registered", slog.Int("count", len(tools)))
}

// =============================================================================
// Tool handlers
// =============================================================================

func (s *Server) mcpQueryHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("question parameter is required")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("query_started",
		slog.String("request_id", requestID),
		slog.String("search_type", input.SearchType),
		slog.Int("limit", input.Limit))

	resp, err := s.backend.Query(ctx, input.request())
	if err != nil {
		s.logFailure("query", requestID, start, err)
		return nil, QueryOutput{}, MapError(err)
	}

	out := ToQueryOutput(requestID, resp)
	s.logger.Info("query_completed",
		slog.String("request_id", requestID),
		slog.String("route", out.Route),
		slog.Int("result_count", len(out.Results)),
		slog.Duration("duration", time.Since(start)))

	return textResult(FormatQueryResults(input.Question, out)), out, nil
}

func (s *Server) mcpAskHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, NewInvalidParamsError("question parameter is required")
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("ask_started", slog.String("request_id", requestID))

	resp, err := s.backend.Ask(ctx, input.request())
	if err != nil {
		s.logFailure("ask", requestID, start, err)
		return nil, AskOutput{}, MapError(err)
	}

	out := ToAskOutput(requestID, resp)
	s.logger.Info("ask_completed",
		slog.String("request_id", requestID),
		slog.Bool("grounded", out.Grounded),
		slog.Bool("answer_failed", out.AnswerError != ""),
		slog.Duration("duration", time.Since(start)))

	return textResult(FormatAnswer(out)), out, nil
}

func (s *Server) mcpClassifyHandler(ctx context.Context, _ *mcp.CallToolRequest, input ClassifyInput) (
	*mcp.CallToolResult,
	ClassifyOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, ClassifyOutput{}, NewInvalidParamsError("question parameter is required")
	}

	d, err := s.backend.Decide(ctx, input.Question)
	if err != nil {
		return nil, ClassifyOutput{}, MapError(err)
	}
	out := ClassifyOutput{Route: string(d.Route), Stage: string(d.Stage)}
	return textResult(fmt.Sprintf("%s (%s stage)", out.Route, out.Stage)), out, nil
}

func (s *Server) mcpIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexInput) (
	*mcp.CallToolResult,
	IndexOutput,
	error,
) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, IndexOutput{}, NewInvalidParamsError("path parameter is required")
	}
	path, err := corpus.ResolveWithin(s.corpusRoot, strings.TrimSpace(input.Path))
	if err != nil {
		s.logger.Warn("index_path_rejected",
			slog.String("path", input.Path),
			slog.String("error", err.Error()))
		return nil, IndexOutput{}, MapError(err)
	}

	progress, ok := s.beginIndexing()
	if !ok {
		return nil, IndexOutput{}, &MCPError{
			Code:    ErrCodeBusy,
			Message: "Indexing already in progress. Check the status tool and retry when it finishes.",
		}
	}
	defer s.endIndexing()

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("index_started",
		slog.String("request_id", requestID),
		slog.String("path", path))

	res, err := s.backend.IndexPath(ctx, path, rag.WithProgress(progress.update))
	if err != nil && res == nil {
		s.logFailure("index", requestID, start, err)
		return nil, IndexOutput{}, MapError(err)
	}

	out := IndexOutput{
		Indexed:     res.Indexed,
		SourceCount: res.SourceCount,
		Embedded:    res.Embedded,
		Semantic:    res.Semantic,
		Persisted:   res.Persisted,
		DurationMS:  res.Duration.Milliseconds(),
	}
	text := fmt.Sprintf("Indexed %d chunks from %d sources in %s.", out.Indexed, out.SourceCount, res.Duration.Round(time.Millisecond))
	if err != nil {
		// The index is live; only persistence failed.
		s.logger.Warn("index_not_persisted",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		text += " Warning: " + MapError(err).Message
	}
	s.logger.Info("index_completed",
		slog.String("request_id", requestID),
		slog.Int("chunks", out.Indexed),
		slog.Duration("duration", time.Since(start)))

	return textResult(text), out, nil
}

func (s *Server) mcpRemoveSourceHandler(ctx context.Context, _ *mcp.CallToolRequest, input RemoveSourceInput) (
	*mcp.CallToolResult,
	RemoveSourceOutput,
	error,
) {
	if strings.TrimSpace(input.SourceID) == "" {
		return nil, RemoveSourceOutput{}, NewInvalidParamsError("source_id parameter is required")
	}

	n, err := s.backend.RemoveSource(ctx, input.SourceID)
	if err != nil {
		return nil, RemoveSourceOutput{}, MapError(err)
	}
	out := RemoveSourceOutput{Removed: n}
	return textResult(fmt.Sprintf("Removed %d chunks of %s.", n, input.SourceID)), out, nil
}

func (s *Server) mcpStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	out := s.status()
	return textResult(FormatStatus(out)), out, nil
}

func (s *Server) status() StatusOutput {
	out := toStatusOutput(s.backend.Status())
	s.mu.RLock()
	if s.progress != nil {
		snap := s.progress.snapshot()
		out.Indexing = &snap
	}
	s.mu.RUnlock()
	return out
}

func (s *Server) logFailure(tool, requestID string, start time.Time, err error) {
	s.logger.Error(tool+"_failed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("error", err.Error()))
}

// =============================================================================
// Index progress
// =============================================================================

type indexProgress struct {
	mu      sync.Mutex
	stage   string
	done    int
	total   int
	started time.Time
}

func (p *indexProgress) update(stage string, done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage, p.done, p.total = stage, done, total
}

func (p *indexProgress) snapshot() IndexingProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return IndexingProgress{
		Stage:          p.stage,
		Done:           p.done,
		Total:          p.total,
		ElapsedSeconds: int(time.Since(p.started).Seconds()),
	}
}

// beginIndexing claims the single index slot.
func (s *Server) beginIndexing() (*indexProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress != nil {
		return nil, false
	}
	s.progress = &indexProgress{stage: "load", started: time.Now()}
	return s.progress, true
}

func (s *Server) endIndexing() {
	s.mu.Lock()
	s.progress = nil
	s.mu.Unlock()
}

// =============================================================================
// Transports
// =============================================================================

// Serve runs the server over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// HTTPHandler serves the MCP streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// generateRequestID creates a request ID for log correlation.
func generateRequestID() string {
	return uuid.NewString()
}
