package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/answer"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/rag"
	"github.com/Aman-CERP/amanrag/internal/router"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// --- Test Doubles ---

type fakeBackend struct {
	mu sync.Mutex

	lastQuery rag.QueryRequest
	lastAsk   rag.AskRequest
	lastPath  string
	queryResp *rag.QueryResponse
	askResp   *rag.AskResponse
	decision  router.Decision
	indexRes  *rag.IndexResult
	removed   int
	status    rag.Status
	err       error

	// indexStarted/indexRelease let a test hold IndexPath open.
	indexStarted chan struct{}
	indexRelease chan struct{}
}

func (f *fakeBackend) Query(_ context.Context, req rag.QueryRequest) (*rag.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = req
	if f.err != nil {
		return nil, f.err
	}
	return f.queryResp, nil
}

func (f *fakeBackend) Ask(_ context.Context, req rag.AskRequest) (*rag.AskResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAsk = req
	if f.err != nil {
		return nil, f.err
	}
	return f.askResp, nil
}

func (f *fakeBackend) Decide(_ context.Context, _ string) (router.Decision, error) {
	return f.decision, f.err
}

func (f *fakeBackend) IndexPath(_ context.Context, path string, opts ...rag.IndexOption) (*rag.IndexResult, error) {
	f.mu.Lock()
	f.lastPath = path
	f.mu.Unlock()
	if f.indexStarted != nil {
		close(f.indexStarted)
		<-f.indexRelease
	}
	return f.indexRes, f.err
}

func (f *fakeBackend) RemoveSource(_ context.Context, _ string) (int, error) {
	return f.removed, f.err
}

func (f *fakeBackend) Status() rag.Status {
	return f.status
}

func newTestServer(t *testing.T, b *fakeBackend, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer(b, opts...)
	require.NoError(t, err)
	return s
}

func sampleQueryResponse() *rag.QueryResponse {
	c := &store.Chunk{SourceID: "guide.md", FileName: "guide.md", ChunkIndex: 1, Content: "Refunds take five days."}
	results := []*search.Result{{
		Chunk: c, Score: 0.016, SearchType: search.SearchTypeHybrid,
		KeywordRank: 1, SemanticRank: 2, MatchedTerms: []string{"refunds"},
	}}
	return &rag.QueryResponse{
		AnswerContext: "[1] guide.md\nRefunds take five days.",
		SearchResults: results,
		Sources:       answer.GroupSources(results),
		SearchStats:   answer.BuildStats(3, 1, 1),
		SearchType:    search.SearchTypeHybrid,
		Route:         router.RouteSearch,
		RouteStage:    router.StageModel,
		MinScore:      0.01,
		Latency:       12 * time.Millisecond,
	}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

// =============================================================================
// Construction
// =============================================================================

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestServer_InfoAndTools(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	name, _ := s.Info()
	assert.Equal(t, "amanrag", name)
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, s.HTTPHandler())

	var names []string
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"query", "ask", "classify", "index", "remove_source", "status"}, names)
}

// =============================================================================
// query
// =============================================================================

func TestQueryTool_MapsRequestAndResponse(t *testing.T) {
	b := &fakeBackend{queryResp: sampleQueryResponse()}
	s := newTestServer(t, b)
	minScore := 0.2

	res, out, err := s.mcpQueryHandler(context.Background(), nil, QueryInput{
		Question:    "how long do refunds take",
		Limit:       500,
		SearchType:  "hybrid",
		MinScore:    &minScore,
		ForceSearch: true,
	})
	require.NoError(t, err)

	// request mapping
	assert.Equal(t, MaxLimit, b.lastQuery.MaxResults)
	assert.Equal(t, search.SearchTypeHybrid, b.lastQuery.SearchType)
	require.NotNil(t, b.lastQuery.MinScore)
	assert.Equal(t, 0.2, *b.lastQuery.MinScore)
	assert.True(t, b.lastQuery.ForceSearchMode)

	// structured output
	assert.NotEmpty(t, out.RequestID)
	assert.Equal(t, "SEARCH", out.Route)
	assert.Equal(t, "model", out.RouteStage)
	assert.Equal(t, 3, out.TotalResults)
	assert.Equal(t, int64(12), out.LatencyMS)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].InBothLists)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, []int{1}, out.Sources[0].Chunks)

	// text output
	assert.Contains(t, textOf(t, res), "guide.md (chunk 1)")
}

func TestQueryTool_RequiresQuestion(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	_, _, err := s.mcpQueryHandler(context.Background(), nil, QueryInput{Question: "  "})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestQueryTool_MapsBackendErrors(t *testing.T) {
	b := &fakeBackend{err: amerrors.New(amerrors.ErrCodeInvalidSearchType, "unknown search type", nil)}
	s := newTestServer(t, b)

	_, _, err := s.mcpQueryHandler(context.Background(), nil, QueryInput{Question: "q", SearchType: "fuzzy"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

// =============================================================================
// ask, classify, remove_source
// =============================================================================

func TestAskTool(t *testing.T) {
	qr := sampleQueryResponse()
	b := &fakeBackend{askResp: &rag.AskResponse{
		QueryResponse: *qr,
		Answer:        "Five days.",
		Grounded:      true,
		Model:         "qwen3:1.7b",
	}}
	s := newTestServer(t, b)

	res, out, err := s.mcpAskHandler(context.Background(), nil, AskInput{
		Question: "how long do refunds take",
		History:  "user: hi",
	})
	require.NoError(t, err)

	assert.Equal(t, "user: hi", b.lastAsk.History)
	assert.Equal(t, DefaultLimit, b.lastAsk.MaxResults)
	assert.Equal(t, "Five days.", out.Answer)
	assert.True(t, out.Grounded)
	assert.Equal(t, "qwen3:1.7b", out.Model)
	assert.Contains(t, textOf(t, res), "guide.md (chunks 1)")
}

func TestClassifyTool(t *testing.T) {
	b := &fakeBackend{decision: router.Decision{Route: router.RouteDirect, Stage: router.StagePattern}}
	s := newTestServer(t, b)

	res, out, err := s.mcpClassifyHandler(context.Background(), nil, ClassifyInput{Question: "hello"})
	require.NoError(t, err)
	assert.Equal(t, ClassifyOutput{Route: "DIRECT", Stage: "pattern"}, out)
	assert.Equal(t, "DIRECT (pattern stage)", textOf(t, res))

	_, _, err = s.mcpClassifyHandler(context.Background(), nil, ClassifyInput{})
	assert.Error(t, err)
}

func TestRemoveSourceTool(t *testing.T) {
	s := newTestServer(t, &fakeBackend{removed: 4})

	_, out, err := s.mcpRemoveSourceHandler(context.Background(), nil, RemoveSourceInput{SourceID: "guide.md"})
	require.NoError(t, err)
	assert.Equal(t, 4, out.Removed)

	_, _, err = s.mcpRemoveSourceHandler(context.Background(), nil, RemoveSourceInput{})
	assert.Error(t, err)
}

// =============================================================================
// index and status
// =============================================================================

// corpusRoot returns a temporary corpus root containing docs/ and a file
// outside it.
func corpusRoot(t *testing.T) (root, outside string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "corpus")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	outside = filepath.Join(base, "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("private"), 0o644))
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	return root, outside
}

func TestIndexTool(t *testing.T) {
	root, _ := corpusRoot(t)
	b := &fakeBackend{indexRes: &rag.IndexResult{Indexed: 10, SourceCount: 2, Persisted: true, Duration: time.Second}}
	s := newTestServer(t, b, WithCorpusRoot(root))

	res, out, err := s.mcpIndexHandler(context.Background(), nil, IndexInput{Path: "docs"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "docs"), b.lastPath)
	assert.Equal(t, 10, out.Indexed)
	assert.Equal(t, int64(1000), out.DurationMS)
	assert.Contains(t, textOf(t, res), "Indexed 10 chunks from 2 sources")
}

func TestIndexTool_RejectsPathsOutsideCorpusRoot(t *testing.T) {
	root, outside := corpusRoot(t)

	tests := []struct {
		name string
		opts []Option
		path string
	}{
		{"dot-dot escape", []Option{WithCorpusRoot(root)}, "../secret.txt"},
		{"absolute escape", []Option{WithCorpusRoot(root)}, outside},
		{"no root configured", nil, filepath.Join(root, "docs")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{indexRes: &rag.IndexResult{Indexed: 1}}
			s := newTestServer(t, b, tt.opts...)

			_, _, err := s.mcpIndexHandler(context.Background(), nil, IndexInput{Path: tt.path})

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Empty(t, b.lastPath)
		})
	}
}

func TestIndexTool_PersistFailureStillReportsIndex(t *testing.T) {
	root, _ := corpusRoot(t)
	b := &fakeBackend{
		indexRes: &rag.IndexResult{Indexed: 3, SourceCount: 1},
		err:      amerrors.New(amerrors.ErrCodePersistFailed, "failed to persist corpus", errors.New("disk full")),
	}
	s := newTestServer(t, b, WithCorpusRoot(root))

	res, out, err := s.mcpIndexHandler(context.Background(), nil, IndexInput{Path: "docs"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Indexed)
	assert.False(t, out.Persisted)
	assert.Contains(t, textOf(t, res), "Warning: failed to persist corpus")
}

func TestIndexTool_RejectsConcurrentRuns(t *testing.T) {
	root, _ := corpusRoot(t)
	b := &fakeBackend{
		indexRes:     &rag.IndexResult{Indexed: 1},
		indexStarted: make(chan struct{}),
		indexRelease: make(chan struct{}),
	}
	s := newTestServer(t, b, WithCorpusRoot(root))

	done := make(chan error, 1)
	go func() {
		_, _, err := s.mcpIndexHandler(context.Background(), nil, IndexInput{Path: "docs"})
		done <- err
	}()
	<-b.indexStarted

	// status shows the run in flight
	_, st, err := s.mcpStatusHandler(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	require.NotNil(t, st.Indexing)
	assert.Equal(t, "load", st.Indexing.Stage)

	// a second run is refused
	_, _, err = s.mcpIndexHandler(context.Background(), nil, IndexInput{Path: "docs"})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeBusy, mcpErr.Code)

	close(b.indexRelease)
	require.NoError(t, <-done)

	_, st, err = s.mcpStatusHandler(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.Nil(t, st.Indexing)
}

func TestStatusTool(t *testing.T) {
	b := &fakeBackend{status: rag.Status{
		Index:           search.Stats{Indexed: true, DocumentCount: 7, SourceCount: 2, Backend: "tfidf", BuiltAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		SemanticBackend: "hnsw",
		Embedder:        "static",
		EmbedderDims:    256,
		Persistent:      true,
	}}
	s := newTestServer(t, b)

	res, out, err := s.mcpStatusHandler(context.Background(), nil, StatusInput{})
	require.NoError(t, err)
	assert.True(t, out.Indexed)
	assert.Equal(t, 7, out.DocumentCount)
	assert.Equal(t, "2026-03-01T00:00:00Z", out.BuiltAt)
	assert.Contains(t, textOf(t, res), "7 chunks from 2 sources")
}

// =============================================================================
// Resources
// =============================================================================

func TestStatusResource(t *testing.T) {
	s := newTestServer(t, &fakeBackend{status: rag.Status{SemanticBackend: "none"}})

	res, err := s.handleStatusResource(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, StatusURI, res.Contents[0].URI)

	var out StatusOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
	assert.Equal(t, "none", out.SemanticBackend)
}

func TestQueryMetricsResource(t *testing.T) {
	qm := telemetry.NewQueryMetrics(nil)
	t.Cleanup(func() { _ = qm.Close() })
	qm.Record(telemetry.QueryEvent{Query: "refund policy", SearchType: "hybrid", ResultCount: 0})
	qm.RecordRoute(telemetry.RouteEvent{Route: "DIRECT", Stage: "pattern"})

	s := newTestServer(t, &fakeBackend{status: rag.Status{Queries: qm.Snapshot()}})

	res, err := s.handleQueryMetricsResource(context.Background(), nil)
	require.NoError(t, err)

	var out QueryMetricsOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &out))
	assert.Equal(t, int64(1), out.Summary.TotalQueries)
	assert.Equal(t, 100.0, out.Summary.ZeroResultPct)
	assert.Equal(t, 100.0, out.Summary.DirectPct)
	assert.Equal(t, int64(1), out.SearchTypeCounts["hybrid"])
	assert.Contains(t, out.ZeroResultQueries, "refund policy")
}

func TestQueryMetricsResource_Disabled(t *testing.T) {
	s := newTestServer(t, &fakeBackend{})

	_, err := s.handleQueryMetricsResource(context.Background(), nil)
	assert.Error(t, err)
}
