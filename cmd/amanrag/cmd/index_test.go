package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/mcp"
	"github.com/Aman-CERP/amanrag/internal/rag"
)

type fakeGenerator struct {
	answer string
	prompt string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, nil
}
func (g *fakeGenerator) ModelName() string                { return "fake-model" }
func (g *fakeGenerator) Available(_ context.Context) bool { return true }

func TestIndexQueryRemove_Lifecycle(t *testing.T) {
	// Given: an isolated environment and a two-document corpus
	cfgDir := testEnv(t)
	corpusDir := writeCorpus(t)

	// When: indexing it with plain progress
	stdout, _, err := execute(t, "index", corpusDir, "--plain", "--config-dir", cfgDir)

	// Then: progress and the summary line are printed
	require.NoError(t, err)
	assert.Contains(t, stdout, "[LOAD]")
	assert.Contains(t, stdout, "from 2 sources")
	assert.NotContains(t, stdout, "WARN:")

	// When: querying in a new process-equivalent (corpus restored from disk)
	stdout, _, err = execute(t, "query", "rotate", "the", "API", "key",
		"--type", "keyword", "--force-search", "--min-score", "0", "--config-dir", cfgDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "guide.md")

	// And: the JSON form carries the same result
	stdout, _, err = execute(t, "query", "rotate the API key",
		"--type", "keyword", "--force-search", "--min-score", "0", "--format", "json", "--config-dir", cfgDir)
	require.NoError(t, err)
	var out mcp.QueryOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "SEARCH", out.Route)
	assert.Equal(t, "keyword", out.SearchType)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "guide.md", out.Results[0].SourceID)

	// When: removing the source
	stdout, _, err = execute(t, "remove", "guide.md", "missing.md", "--config-dir", cfgDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Removed")
	assert.Contains(t, stdout, "missing.md: not in the corpus")

	// Then: it no longer matches
	stdout, _, err = execute(t, "query", "rotate the API key",
		"--type", "keyword", "--force-search", "--min-score", "0", "--format", "json", "--config-dir", cfgDir)
	require.NoError(t, err)
	out = mcp.QueryOutput{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	for _, r := range out.Results {
		assert.NotEqual(t, "guide.md", r.SourceID)
	}

	// And: status reports the remaining source
	stdout, _, err = execute(t, "status", "--json", "--config-dir", cfgDir)
	require.NoError(t, err)
	var st rag.Status
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.True(t, st.Index.Indexed)
	assert.Equal(t, 1, st.Index.SourceCount)
	assert.True(t, st.Persistent)
}

func TestIndex_JSONReport(t *testing.T) {
	cfgDir := testEnv(t)
	corpusDir := writeCorpus(t)

	stdout, stderr, err := execute(t, "index", corpusDir, "--format", "json", "--config-dir", cfgDir)
	require.NoError(t, err)

	// Progress goes to stderr so stdout stays parseable.
	assert.Contains(t, stderr, "[LOAD]")
	var report struct {
		Indexed     int    `json:"indexed"`
		SourceCount int    `json:"source_count"`
		Persisted   bool   `json:"persisted"`
		Embedder    string `json:"embedder"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 2, report.SourceCount)
	assert.Positive(t, report.Indexed)
	assert.True(t, report.Persisted)
	assert.NotEmpty(t, report.Embedder)
}

func TestIndex_Errors(t *testing.T) {
	cfgDir := testEnv(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing path", []string{"index", filepath.Join(t.TempDir(), "nope")}, amerrors.ErrCodeFileNotFound},
		{"bad format", []string{"index", t.TempDir(), "--format", "xml"}, amerrors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append(tt.args, "--config-dir", cfgDir)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, amerrors.GetCode(err))
		})
	}

	t.Run("no arguments", func(t *testing.T) {
		_, _, err := execute(t, "index")
		require.Error(t, err)
	})
}

func TestAsk_UsesGenerator(t *testing.T) {
	// Given: an indexed corpus and a canned generator
	cfgDir := testEnv(t)
	corpusDir := writeCorpus(t)
	_, _, err := execute(t, "index", corpusDir, "--plain", "--config-dir", cfgDir)
	require.NoError(t, err)

	gen := &fakeGenerator{answer: "Rotate it from the settings page."}
	withServiceOptions(t, rag.WithGenerator(gen))

	// When: asking with history
	stdout, _, err := execute(t, "ask", "how do I rotate the API key?",
		"--type", "keyword", "--force-search", "--min-score", "0",
		"--history", "user: hi", "--config-dir", cfgDir)

	// Then: the answer and its sources are printed
	require.NoError(t, err)
	assert.Contains(t, stdout, "Rotate it from the settings page.")
	assert.Contains(t, stdout, "**Sources:**")
	assert.Contains(t, stdout, "guide.md")
	assert.Contains(t, gen.prompt, "Rotate the API key")
}

func TestQuery_EmptyQuestion(t *testing.T) {
	cfgDir := testEnv(t)

	_, _, err := execute(t, "query", "   ", "--config-dir", cfgDir)
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeQueryEmpty, amerrors.GetCode(err))
}

func TestClassify(t *testing.T) {
	cfgDir := testEnv(t)

	tests := []struct {
		question string
		want     string
	}{
		{"hi", "DIRECT (pattern stage)"},
		{"what is the refund window for annual plans", "SEARCH"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			stdout, _, err := execute(t, "classify", tt.question, "--config-dir", cfgDir)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(stdout, tt.want), stdout)
		})
	}

	stdout, _, err := execute(t, "classify", "hi", "--format", "json", "--config-dir", cfgDir)
	require.NoError(t, err)
	var out mcp.ClassifyOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, mcp.ClassifyOutput{Route: "DIRECT", Stage: "pattern"}, out)
}

func TestClear(t *testing.T) {
	cfgDir := testEnv(t)
	corpusDir := writeCorpus(t)
	_, _, err := execute(t, "index", corpusDir, "--plain", "--config-dir", cfgDir)
	require.NoError(t, err)

	// Without --yes and no input the corpus is kept.
	stdout, _, err := execute(t, "clear", "--config-dir", cfgDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Aborted.")

	stdout, _, err = execute(t, "clear", "--yes", "--config-dir", cfgDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Corpus cleared")

	stdout, _, err = execute(t, "status", "--json", "--config-dir", cfgDir)
	require.NoError(t, err)
	var st rag.Status
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.False(t, st.Index.Indexed)
}

func TestStatus_Text(t *testing.T) {
	cfgDir := testEnv(t)

	stdout, _, err := execute(t, "status", "--no-color", "--config-dir", cfgDir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "amanrag status")
	assert.Contains(t, stdout, "not indexed")
	assert.Contains(t, stdout, os.Getenv("AMANRAG_DATA_DIR"))
}
