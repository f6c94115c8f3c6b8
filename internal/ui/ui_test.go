package ui

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/amanrag/internal/rag"
)

func TestStageFromName(t *testing.T) {
	tests := []struct {
		name string
		want Stage
	}{
		{"load", StageLoading},
		{"embed", StageEmbedding},
		{"index", StageIndexing},
		{"bogus", StageComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StageFromName(tt.name)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "???", got.Icon())
		})
	}
	assert.Equal(t, "Unknown", Stage(42).String())
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	var buf bytes.Buffer

	r := NewRenderer(Config{Output: &buf})

	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestIsTTY(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTTY(&buf))
	assert.False(t, IsTTY(nil))

	f, err := os.CreateTemp(t.TempDir(), "out")
	if err == nil {
		defer f.Close()
		assert.False(t, IsTTY(f))
	}
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestProgressFunc_ForwardsToRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})

	progress := ProgressFunc(r)
	progress("embed", 5, 10)

	assert.Contains(t, buf.String(), "[EMBED] 5/10")
}

func TestStatsFromResult(t *testing.T) {
	res := &rag.IndexResult{Indexed: 12, SourceCount: 3, Embedded: 12, Semantic: true, Persisted: true, Duration: time.Second}

	got := StatsFromResult(res, "ollama")

	assert.Equal(t, CompletionStats{
		Sources: 3, Chunks: 12, Embedded: 12, Semantic: true, Persisted: true,
		Duration: time.Second, Embedder: "ollama",
	}, got)
	assert.Equal(t, CompletionStats{Embedder: "static"}, StatsFromResult(nil, "static"))
}
