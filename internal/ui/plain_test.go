package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_ThrottlesToTenths(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(Config{Output: &buf})
	require.NoError(t, r.Start(context.Background()))

	r.UpdateProgress(ProgressEvent{Stage: StageLoading})
	for i := 1; i <= 100; i++ {
		r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: i, Total: 100})
	}
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: 0, Total: 0})
	require.NoError(t, r.Stop())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "[LOAD] Loading...", lines[0])
	assert.Equal(t, "[EMBED] 1/100", lines[1])
	assert.Equal(t, "[INDEX] Indexing...", lines[len(lines)-1])
	assert.Contains(t, buf.String(), "[EMBED] 100/100")
	assert.LessOrEqual(t, len(lines), 14)
}

func TestPlainRenderer_Complete(t *testing.T) {
	tests := []struct {
		name  string
		stats CompletionStats
		want  []string
	}{
		{
			name:  "semantic and persisted",
			stats: CompletionStats{Sources: 2, Chunks: 9, Embedded: 9, Semantic: true, Persisted: true, Duration: 1500 * time.Millisecond, Embedder: "ollama"},
			want:  []string{"Indexed 9 chunks from 2 sources in 1.5s", "(semantic: ollama, 9 embedded)"},
		},
		{
			name:  "keyword only and not persisted",
			stats: CompletionStats{Sources: 1, Chunks: 3, Warning: "failed to persist corpus"},
			want:  []string{"(keyword only)", "[not persisted]", "WARN: failed to persist corpus"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPlainRenderer(Config{Output: &buf}).Complete(tt.stats)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
