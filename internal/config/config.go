package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Project configuration file names, in lookup order.
const (
	ProjectConfigFile    = ".amanrag.yaml"
	ProjectConfigFileAlt = ".amanrag.yml"
	EnvFile              = ".env"
	EnvPrefix            = "AMANRAG_"
)

// Config represents the complete amanrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Semantic   SemanticConfig   `yaml:"semantic" json:"semantic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Router     RouterConfig     `yaml:"router" json:"router"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// SearchConfig configures retrieval and fusion.
// Weights and the RRF constant are configurable via:
//  1. User config (~/.config/amanrag/config.yaml) - personal defaults
//  2. Project config (.amanrag.yaml) - per-corpus tuning
//  3. Env vars (AMANRAG_KEYWORD_WEIGHT, AMANRAG_SEMANTIC_WEIGHT, AMANRAG_RRF_CONSTANT)
type SearchConfig struct {
	// KeywordWeight is the fusion weight of keyword results (0.0-1.0).
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// SemanticWeight is the fusion weight of semantic results (0.0-1.0).
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// RRFConstant is the fusion damping constant K. Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// KeywordBackend selects the keyword index: "tfidf" (default) or "bleve".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`

	// CandidateFloor is the minimum per-path candidate pool in hybrid mode.
	CandidateFloor int `yaml:"candidate_floor" json:"candidate_floor"`

	// MinScore is the default cut-off for keyword and semantic results.
	MinScore float64 `yaml:"min_score" json:"min_score"`

	// HybridMinScore is the default cut-off for fused results. Fused scores
	// live on a much smaller scale (at most 1/(K+1) per path).
	HybridMinScore float64 `yaml:"hybrid_min_score" json:"hybrid_min_score"`

	MaxResults int    `yaml:"max_results" json:"max_results"`
	MaxLimit   int    `yaml:"max_limit" json:"max_limit"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// SemanticConfig selects the semantic oracle.
type SemanticConfig struct {
	// Backend is "hnsw" (in-process, default), "pgvector" or "none".
	Backend string `yaml:"backend" json:"backend"`

	// PostgresDSN is the pgvector connection string.
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`

	// PostgresTable holds chunk embeddings for the pgvector backend.
	PostgresTable string `yaml:"postgres_table" json:"postgres_table"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static" or empty (auto: Ollama, then static).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
	Timeout    string `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the generation backend shared by the router and Ask.
type LLMConfig struct {
	Host           string  `yaml:"host" json:"host"`
	Model          string  `yaml:"model" json:"model"`
	RouterModel    string  `yaml:"router_model" json:"router_model"`
	Timeout        string  `yaml:"timeout" json:"timeout"`
	Temperature    float64 `yaml:"temperature" json:"temperature"`
	RequestsPerSec float64 `yaml:"requests_per_sec" json:"requests_per_sec"`
	Burst          int     `yaml:"burst" json:"burst"`
	MaxRetries     int     `yaml:"max_retries" json:"max_retries"`
}

// RouterConfig configures query routing.
type RouterConfig struct {
	// DisableModel skips the classification oracle; pattern misses route to SEARCH.
	DisableModel bool   `yaml:"disable_model" json:"disable_model"`
	CacheSize    int    `yaml:"cache_size" json:"cache_size"`
	Timeout      string `yaml:"timeout" json:"timeout"`
}

// CorpusConfig configures ingestion.
type CorpusConfig struct {
	// Root confines paths submitted over HTTP and MCP. Empty disables
	// remote indexing unless serve --watch names a directory.
	Root          string `yaml:"root" json:"root"`
	ChunkSize     int    `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// DataDir holds the corpus database, the lock file and telemetry.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ServerConfig configures the serving surfaces.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	HTTPAddr  string `yaml:"http_addr" json:"http_addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures query metrics.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			KeywordWeight:  0.3,
			SemanticWeight: 0.7,
			RRFConstant:    60,
			KeywordBackend: "tfidf",
			CandidateFloor: 10,
			MinScore:       0.1,
			HybridMinScore: 0.01,
			MaxResults:     5,
			MaxLimit:       100,
			Timeout:        "5s",
		},
		Semantic: SemanticConfig{
			Backend:       "hnsw",
			PostgresTable: "amanrag_chunks",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // auto-detect
			Model:      "nomic-embed-text",
			OllamaHost: "", // empty uses http://localhost:11434
			BatchSize:  32,
			CacheSize:  1000,
			Timeout:    "60s",
		},
		LLM: LLMConfig{
			Model:          "qwen3:1.7b",
			Timeout:        "60s",
			Temperature:    0.2,
			RequestsPerSec: 5,
			Burst:          10,
			MaxRetries:     2,
		},
		Router: RouterConfig{
			CacheSize: 1000,
			Timeout:   "5s",
		},
		Corpus: CorpusConfig{
			ChunkSize:     800,
			ChunkOverlap:  100,
			MaxFileSizeMB: 50,
			WatchDebounce: "500ms",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
		},
	}
}

// defaultDataDir returns ~/.amanrag/data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".amanrag", "data")
	}
	return filepath.Join(home, ".amanrag", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amanrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "amanrag", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var parsed Config
	if err := parseYAML(configPath, &parsed); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &parsed, nil
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/amanrag/config.yaml)
//  3. Project config (.amanrag.yaml in dir)
//  4. .env in dir (never overrides variables already in the environment)
//  5. Environment variables (AMANRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	env, err := readEnvFile(filepath.Join(dir, EnvFile))
	if err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides(lookupWith(env))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .amanrag.yaml or .amanrag.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigFile)
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ProjectConfigFileAlt)
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	var parsed Config
	if err := parseYAML(path, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

func parseYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// readEnvFile parses a dotenv file. A missing file yields an empty map.
func readEnvFile(path string) (map[string]string, error) {
	if !fileExists(path) {
		return map[string]string{}, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse env file %s: %w", path, err)
	}
	return env, nil
}

// lookupWith resolves a variable from the process environment first, then
// from the dotenv values.
func lookupWith(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	}
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Search
	// 0 is not a practical weight, so only non-zero values merge; the
	// env vars accept an explicit zero.
	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.KeywordBackend != "" {
		c.Search.KeywordBackend = other.Search.KeywordBackend
	}
	if other.Search.CandidateFloor != 0 {
		c.Search.CandidateFloor = other.Search.CandidateFloor
	}
	if other.Search.MinScore != 0 {
		c.Search.MinScore = other.Search.MinScore
	}
	if other.Search.HybridMinScore != 0 {
		c.Search.HybridMinScore = other.Search.HybridMinScore
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.Timeout != "" {
		c.Search.Timeout = other.Search.Timeout
	}

	// Semantic
	if other.Semantic.Backend != "" {
		c.Semantic.Backend = other.Semantic.Backend
	}
	if other.Semantic.PostgresDSN != "" {
		c.Semantic.PostgresDSN = other.Semantic.PostgresDSN
	}
	if other.Semantic.PostgresTable != "" {
		c.Semantic.PostgresTable = other.Semantic.PostgresTable
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != "" {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}

	// LLM
	if other.LLM.Host != "" {
		c.LLM.Host = other.LLM.Host
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.RouterModel != "" {
		c.LLM.RouterModel = other.LLM.RouterModel
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.RequestsPerSec != 0 {
		c.LLM.RequestsPerSec = other.LLM.RequestsPerSec
	}
	if other.LLM.Burst != 0 {
		c.LLM.Burst = other.LLM.Burst
	}
	if other.LLM.MaxRetries != 0 {
		c.LLM.MaxRetries = other.LLM.MaxRetries
	}

	// Router
	// DisableModel can only be switched on from a file; the env var can
	// switch it back off.
	if other.Router.DisableModel {
		c.Router.DisableModel = true
	}
	if other.Router.CacheSize != 0 {
		c.Router.CacheSize = other.Router.CacheSize
	}
	if other.Router.Timeout != "" {
		c.Router.Timeout = other.Router.Timeout
	}

	// Corpus
	if other.Corpus.Root != "" {
		c.Corpus.Root = expandHome(other.Corpus.Root)
	}
	if other.Corpus.ChunkSize != 0 {
		c.Corpus.ChunkSize = other.Corpus.ChunkSize
	}
	if other.Corpus.ChunkOverlap != 0 {
		c.Corpus.ChunkOverlap = other.Corpus.ChunkOverlap
	}
	if other.Corpus.MaxFileSizeMB != 0 {
		c.Corpus.MaxFileSizeMB = other.Corpus.MaxFileSizeMB
	}
	if other.Corpus.WatchDebounce != "" {
		c.Corpus.WatchDebounce = other.Corpus.WatchDebounce
	}

	// Storage
	if other.Storage.DataDir != "" {
		c.Storage.DataDir = expandHome(other.Storage.DataDir)
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.HTTPAddr != "" {
		c.Server.HTTPAddr = other.Server.HTTPAddr
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Telemetry
	// Enabled is boolean; it merges only alongside another telemetry field.
	if other.Telemetry.MetricsPath != "" {
		c.Telemetry.MetricsPath = other.Telemetry.MetricsPath
		c.Telemetry.Enabled = other.Telemetry.Enabled
	}
}

// applyEnvOverrides applies AMANRAG_* overrides resolved through getenv.
// Unparseable values are ignored.
func (c *Config) applyEnvOverrides(getenv func(string) string) {
	// Search weights accept an explicit zero.
	if v := getenv("AMANRAG_KEYWORD_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.KeywordWeight = w
		}
	}
	if v := getenv("AMANRAG_SEMANTIC_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.SemanticWeight = w
		}
	}
	if v := getenv("AMANRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := getenv("AMANRAG_KEYWORD_BACKEND"); v != "" {
		c.Search.KeywordBackend = v
	}
	if v := getenv("AMANRAG_MIN_SCORE"); v != "" {
		if s, err := parseFloat64(v); err == nil && s >= 0 {
			c.Search.MinScore = s
		}
	}
	if v := getenv("AMANRAG_HYBRID_MIN_SCORE"); v != "" {
		if s, err := parseFloat64(v); err == nil && s >= 0 {
			c.Search.HybridMinScore = s
		}
	}
	if v := getenv("AMANRAG_SEMANTIC_BACKEND"); v != "" {
		c.Semantic.Backend = v
	}
	if v := getenv("AMANRAG_POSTGRES_DSN"); v != "" {
		c.Semantic.PostgresDSN = v
	}
	if v := getenv("AMANRAG_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := getenv("AMANRAG_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	// AMANRAG_OLLAMA_HOST points both the embedder and the LLM at one server.
	if v := getenv("AMANRAG_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.Host = v
	}
	if v := getenv("AMANRAG_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := getenv("AMANRAG_ROUTER_MODEL"); v != "" {
		c.LLM.RouterModel = v
	}
	if v := getenv("AMANRAG_ROUTER_DISABLE_MODEL"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Router.DisableModel = b
		}
	}
	if v := getenv("AMANRAG_CORPUS_ROOT"); v != "" {
		c.Corpus.Root = expandHome(v)
	}
	if v := getenv("AMANRAG_DATA_DIR"); v != "" {
		c.Storage.DataDir = expandHome(v)
	}
	if v := getenv("AMANRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := getenv("AMANRAG_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := getenv("AMANRAG_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := getenv("AMANRAG_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Enabled = b
		}
	}
}

// parseFloat64 parses a string to float64.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// FindProjectRoot walks up from startDir looking for a project config file
// or a .git directory. Falls back to startDir.
func FindProjectRoot(startDir string) (string, error) {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !dirExists(absDir) {
		return "", fmt.Errorf("directory does not exist: %s", absDir)
	}

	dir := absDir
	for {
		if fileExists(filepath.Join(dir, ProjectConfigFile)) ||
			fileExists(filepath.Join(dir, ProjectConfigFileAlt)) ||
			dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

// SearchTimeout returns the per-search deadline.
func (c *Config) SearchTimeout() time.Duration {
	return parseDuration(c.Search.Timeout, 5*time.Second)
}

// EmbeddingsTimeout returns the per-request embedding deadline.
func (c *Config) EmbeddingsTimeout() time.Duration {
	return parseDuration(c.Embeddings.Timeout, 60*time.Second)
}

// LLMTimeout returns the per-request generation deadline.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// RouterTimeout returns the classification deadline.
func (c *Config) RouterTimeout() time.Duration {
	return parseDuration(c.Router.Timeout, 5*time.Second)
}

// WatchDebounce returns the corpus watcher debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return parseDuration(c.Corpus.WatchDebounce, 500*time.Millisecond)
}

// MaxFileSize returns the ingestion size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Corpus.MaxFileSizeMB) * 1024 * 1024
}

// CorpusDBPath returns the SQLite corpus database path.
func (c *Config) CorpusDBPath() string {
	return filepath.Join(c.Storage.DataDir, "corpus.db")
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.KeywordWeight < 0 || c.Search.KeywordWeight > 1 {
		return fmt.Errorf("keyword_weight must be between 0 and 1, got %f", c.Search.KeywordWeight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if c.Search.KeywordWeight == 0 && c.Search.SemanticWeight == 0 {
		return fmt.Errorf("keyword_weight and semantic_weight cannot both be 0")
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.MinScore < 0 || c.Search.HybridMinScore < 0 {
		return fmt.Errorf("min_score and hybrid_min_score must be non-negative")
	}
	if c.Search.MaxResults < 0 || c.Search.MaxLimit < 0 || c.Search.CandidateFloor < 0 {
		return fmt.Errorf("max_results, max_limit and candidate_floor must be non-negative")
	}

	validBackends := map[string]bool{"tfidf": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Search.KeywordBackend)] {
		return fmt.Errorf("search.keyword_backend must be 'tfidf' or 'bleve', got %s", c.Search.KeywordBackend)
	}

	switch strings.ToLower(c.Semantic.Backend) {
	case "hnsw", "none":
	case "pgvector":
		if c.Semantic.PostgresDSN == "" {
			return fmt.Errorf("semantic.postgres_dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("semantic.backend must be 'hnsw', 'pgvector' or 'none', got %s", c.Semantic.Backend)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "static": true, "auto": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'static' or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	if c.Corpus.ChunkSize < 0 || c.Corpus.ChunkOverlap < 0 {
		return fmt.Errorf("corpus chunk_size and chunk_overlap must be non-negative")
	}
	if c.Corpus.ChunkSize > 0 && c.Corpus.ChunkOverlap >= c.Corpus.ChunkSize {
		return fmt.Errorf("corpus.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Corpus.ChunkOverlap, c.Corpus.ChunkSize)
	}

	validTransports := map[string]bool{"stdio": true, "http": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'http', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	for name, value := range map[string]string{
		"search.timeout":        c.Search.Timeout,
		"embeddings.timeout":    c.Embeddings.Timeout,
		"llm.timeout":           c.LLM.Timeout,
		"router.timeout":        c.Router.Timeout,
		"corpus.watch_debounce": c.Corpus.WatchDebounce,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, value)
		}
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
