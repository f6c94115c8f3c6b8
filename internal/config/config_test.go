package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config and data dir at temp locations and clears
// AMANRAG_* variables that would leak in from the developer's shell.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, key := range []string{
		"AMANRAG_KEYWORD_WEIGHT", "AMANRAG_SEMANTIC_WEIGHT", "AMANRAG_RRF_CONSTANT",
		"AMANRAG_KEYWORD_BACKEND", "AMANRAG_SEMANTIC_BACKEND", "AMANRAG_POSTGRES_DSN",
		"AMANRAG_EMBEDDINGS_PROVIDER", "AMANRAG_EMBEDDINGS_MODEL", "AMANRAG_OLLAMA_HOST",
		"AMANRAG_LLM_MODEL", "AMANRAG_ROUTER_MODEL", "AMANRAG_LOG_LEVEL", "AMANRAG_DATA_DIR",
		"AMANRAG_MIN_SCORE", "AMANRAG_HYBRID_MIN_SCORE", "AMANRAG_TRANSPORT", "AMANRAG_HTTP_ADDR",
		"AMANRAG_ROUTER_DISABLE_MODEL", "AMANRAG_TELEMETRY_ENABLED", "AMANRAG_CORPUS_ROOT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return xdg
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.7, cfg.Search.SemanticWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "tfidf", cfg.Search.KeywordBackend)
	assert.Equal(t, 10, cfg.Search.CandidateFloor)
	assert.Equal(t, 0.1, cfg.Search.MinScore)
	assert.Equal(t, 0.01, cfg.Search.HybridMinScore)
	assert.Equal(t, 5, cfg.Search.MaxResults)

	assert.Equal(t, "hnsw", cfg.Semantic.Backend)
	assert.Equal(t, "", cfg.Embeddings.Provider)
	assert.Equal(t, 800, cfg.Corpus.ChunkSize)
	assert.Equal(t, 100, cfg.Corpus.ChunkOverlap)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Contains(t, cfg.Storage.DataDir, filepath.Join(".amanrag", "data"))

	require.NoError(t, cfg.Validate())
}

func TestConfig_DurationAccessors(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout())
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce())
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSize())

	cfg.Search.Timeout = "garbage"
	assert.Equal(t, 5*time.Second, cfg.SearchTimeout())
	cfg.Router.Timeout = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.RouterTimeout())

	cfg.Storage.DataDir = "/data"
	assert.Equal(t, filepath.Join("/data", "corpus.db"), cfg.CorpusDBPath())
}

// =============================================================================
// Load precedence
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search, cfg.Search)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".amanrag.yaml"), `
version: 1
search:
  keyword_weight: 0.5
  semantic_weight: 0.5
  rrf_constant: 100
  keyword_backend: bleve
  max_results: 8
semantic:
  backend: none
corpus:
  chunk_size: 400
  chunk_overlap: 40
`)

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.5, cfg.Search.SemanticWeight)
	assert.Equal(t, 100, cfg.Search.RRFConstant)
	assert.Equal(t, "bleve", cfg.Search.KeywordBackend)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	assert.Equal(t, "none", cfg.Semantic.Backend)
	assert.Equal(t, 400, cfg.Corpus.ChunkSize)
	// untouched fields keep their defaults
	assert.Equal(t, 0.01, cfg.Search.HybridMinScore)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".amanrag.yaml"), "search:\n  max_results: 7\n")
	writeConfig(t, filepath.Join(dir, ".amanrag.yml"), "search:\n  max_results: 9\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.MaxResults)

	require.NoError(t, os.Remove(filepath.Join(dir, ".amanrag.yaml")))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Search.MaxResults)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".amanrag.yaml"), "search: [unclosed")

	_, err := Load(dir)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"weight out of range", "search:\n  keyword_weight: 1.5\n", "keyword_weight"},
		{"unknown keyword backend", "search:\n  keyword_backend: lucene\n", "keyword_backend"},
		{"unknown semantic backend", "semantic:\n  backend: faiss\n", "semantic.backend"},
		{"pgvector without dsn", "semantic:\n  backend: pgvector\n", "postgres_dsn"},
		{"overlap >= size", "corpus:\n  chunk_size: 100\n  chunk_overlap: 100\n", "chunk_overlap"},
		{"bad duration", "search:\n  timeout: soon\n", "search.timeout"},
		{"bad log level", "server:\n  log_level: loud\n", "log_level"},
		{"bad provider", "embeddings:\n  provider: openai\n", "embeddings.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := t.TempDir()
			writeConfig(t, filepath.Join(dir, ".amanrag.yaml"), tt.content)

			_, err := Load(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_UserConfigThenProjectConfig(t *testing.T) {
	xdg := isolate(t)
	writeConfig(t, filepath.Join(xdg, "amanrag", "config.yaml"), `
search:
  rrf_constant: 30
  max_results: 12
llm:
  model: user-model
`)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".amanrag.yaml"), "search:\n  max_results: 4\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Search.RRFConstant, "user config applies")
	assert.Equal(t, 4, cfg.Search.MaxResults, "project config wins over user config")
	assert.Equal(t, "user-model", cfg.LLM.Model)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	xdg := isolate(t)
	writeConfig(t, filepath.Join(xdg, "amanrag", "config.yaml"), "::: not yaml")

	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "user config")
}

// =============================================================================
// Environment
// =============================================================================

func TestLoad_EnvVarOverrides(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".amanrag.yaml"), "search:\n  rrf_constant: 30\n")

	t.Setenv("AMANRAG_RRF_CONSTANT", "90")
	t.Setenv("AMANRAG_KEYWORD_WEIGHT", "0")
	t.Setenv("AMANRAG_SEMANTIC_WEIGHT", "1")
	t.Setenv("AMANRAG_OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("AMANRAG_LOG_LEVEL", "debug")
	t.Setenv("AMANRAG_MIN_SCORE", "0.25")
	t.Setenv("AMANRAG_CORPUS_ROOT", "/srv/docs")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, 0.0, cfg.Search.KeywordWeight, "env accepts an explicit zero")
	assert.Equal(t, 1.0, cfg.Search.SemanticWeight)
	assert.Equal(t, "http://gpu-box:11434", cfg.Embeddings.OllamaHost)
	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.Host)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 0.25, cfg.Search.MinScore)
	assert.Equal(t, "/srv/docs", cfg.Corpus.Root)
}

func TestLoad_EnvVarInvalidValuesIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("AMANRAG_RRF_CONSTANT", "-4")
	t.Setenv("AMANRAG_KEYWORD_WEIGHT", "heavy")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 0.3, cfg.Search.KeywordWeight)
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".env"), `
# local overrides
AMANRAG_LLM_MODEL=dotenv-model
AMANRAG_DATA_DIR=/tmp/amanrag-dotenv
AMANRAG_LOG_LEVEL=warn
`)
	t.Setenv("AMANRAG_LOG_LEVEL", "error")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, "dotenv-model", cfg.LLM.Model)
	assert.Equal(t, "/tmp/amanrag-dotenv", cfg.Storage.DataDir)
	assert.Equal(t, "error", cfg.Server.LogLevel, "process env wins over .env")
	_, leaked := os.LookupEnv("AMANRAG_LLM_MODEL")
	assert.False(t, leaked, ".env values do not leak into the process environment")
}

// =============================================================================
// Paths, WriteYAML, backups
// =============================================================================

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	assert.Equal(t, filepath.Join("/custom/config", "amanrag", "config.yaml"), GetUserConfigPath())
	assert.Equal(t, filepath.Join("/custom/config", "amanrag"), GetUserConfigDir())
}

func TestUserConfigExists(t *testing.T) {
	xdg := isolate(t)
	assert.False(t, UserConfigExists())
	writeConfig(t, filepath.Join(xdg, "amanrag", "config.yaml"), "version: 1\n")
	assert.True(t, UserConfigExists())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Search.RRFConstant = 42
	cfg.LLM.Model = "written-model"

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ".amanrag.yaml")))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Search.RRFConstant)
	assert.Equal(t, "written-model", loaded.LLM.Model)
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, filepath.Join(root, ".amanrag.yaml"), "version: 1\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	got, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = FindProjectRoot(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestBackupFile_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	got, err := BackupFile(path, time.Now())
	require.NoError(t, err)
	assert.Empty(t, got, "nothing to back up")

	writeConfig(t, path, "version: 1\n")
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Contains(t, backups[0], "20260301-100400")
}
