// Package ui renders indexing progress and corpus status in the terminal.
// Interactive terminals get a bubbletea view; pipes and CI get plain lines.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amanrag/internal/rag"
)

// Stage is an indexing stage.
type Stage int

const (
	StageLoading Stage = iota
	StageEmbedding
	StageIndexing
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageLoading:
		return "Loading"
	case StageEmbedding:
		return "Embedding"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain output.
func (s Stage) Icon() string {
	switch s {
	case StageLoading:
		return "LOAD"
	case StageEmbedding:
		return "EMBED"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFromName maps the stage names the service reports.
func StageFromName(name string) Stage {
	switch name {
	case "load":
		return StageLoading
	case "embed":
		return StageEmbedding
	case "index":
		return StageIndexing
	default:
		return StageComplete
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
}

// CompletionStats summarises a finished run.
type CompletionStats struct {
	Sources   int
	Chunks    int
	Embedded  int
	Semantic  bool
	Persisted bool
	Duration  time.Duration
	Embedder  string
	Warning   string
}

// StatsFromResult builds completion stats from an index result.
func StatsFromResult(res *rag.IndexResult, embedder string) CompletionStats {
	if res == nil {
		return CompletionStats{Embedder: embedder}
	}
	return CompletionStats{
		Sources:   res.SourceCount,
		Chunks:    res.Indexed,
		Embedded:  res.Embedded,
		Semantic:  res.Semantic,
		Persisted: res.Persisted,
		Duration:  res.Duration,
		Embedder:  embedder,
	}
}

// Renderer displays indexing progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// ProgressFunc adapts a Renderer to the service's progress callback.
func ProgressFunc(r Renderer) rag.Progress {
	return func(stage string, done, total int) {
		r.UpdateProgress(ProgressEvent{Stage: StageFromName(stage), Current: done, Total: total})
	}
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Root is the corpus path shown in the header.
	Root string
}

// NewRenderer picks the TUI for interactive terminals and plain text
// otherwise.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a common CI variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
