package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per stage change and per tenth of a stage.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	stage   Stage
	started bool
	lastPct int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, lastPct: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || event.Stage != r.stage {
		r.started = true
		r.stage = event.Stage
		r.lastPct = -1
	}

	if event.Total <= 0 {
		if r.lastPct < 0 {
			_, _ = fmt.Fprintf(r.out, "[%s] %s...\n", event.Stage.Icon(), event.Stage)
			r.lastPct = 0
		}
		return
	}

	pct := event.Current * 100 / event.Total
	if pct/10 == r.lastPct/10 && r.lastPct >= 0 && event.Current < event.Total {
		return
	}
	r.lastPct = pct
	_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", event.Stage.Icon(), event.Current, event.Total)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, summaryLine(stats))
	if stats.Warning != "" {
		_, _ = fmt.Fprintf(r.out, "WARN: %s\n", stats.Warning)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func summaryLine(stats CompletionStats) string {
	line := fmt.Sprintf("Indexed %d chunks from %d sources in %s",
		stats.Chunks, stats.Sources, stats.Duration.Round(100*time.Millisecond))
	switch {
	case stats.Semantic && stats.Embedder != "":
		line += fmt.Sprintf(" (semantic: %s, %d embedded)", stats.Embedder, stats.Embedded)
	case !stats.Semantic:
		line += " (keyword only)"
	}
	if !stats.Persisted {
		line += " [not persisted]"
	}
	return line
}
