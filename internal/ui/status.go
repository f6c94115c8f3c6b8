package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Aman-CERP/amanrag/internal/rag"
)

// StatusRenderer prints service status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor), now: time.Now}
}

// Render prints st as aligned text.
func (r *StatusRenderer) Render(st rag.Status) error {
	w := r.out
	_, _ = fmt.Fprintf(w, "%s\n\n", r.styles.Header.Render("amanrag status"))

	if st.Index.Indexed {
		_, _ = fmt.Fprintf(w, "  Index:     %d chunks from %d sources (%s)\n",
			st.Index.DocumentCount, st.Index.SourceCount, st.Index.Backend)
		_, _ = fmt.Fprintf(w, "  Terms:     %d\n", st.Index.Terms)
		if !st.Index.BuiltAt.IsZero() {
			_, _ = fmt.Fprintf(w, "  Built:     %s\n", formatTime(st.Index.BuiltAt, r.now()))
		}
	} else {
		_, _ = fmt.Fprintf(w, "  Index:     %s\n", r.styles.Warning.Render("not indexed"))
	}

	semantic := st.SemanticBackend
	switch {
	case st.Embedder != "" && st.Index.Semantic:
		semantic = fmt.Sprintf("%s (%s, %d dims)", st.SemanticBackend, st.Embedder, st.EmbedderDims)
	case st.Embedder != "":
		semantic = fmt.Sprintf("%s (%s, %d dims, %s)", st.SemanticBackend, st.Embedder, st.EmbedderDims,
			r.styles.Warning.Render("inactive"))
	}
	_, _ = fmt.Fprintf(w, "  Semantic:  %s\n", semantic)

	if st.Generator != "" {
		_, _ = fmt.Fprintf(w, "  Generator: %s\n", st.Generator)
	}

	if st.Persistent {
		size := ""
		if info, err := os.Stat(st.StorePath); err == nil {
			size = " (" + FormatBytes(info.Size()) + ")"
		}
		_, _ = fmt.Fprintf(w, "  Store:     %s%s\n", st.StorePath, size)
	} else {
		_, _ = fmt.Fprintln(w, "  Store:     in-memory")
	}

	if q := st.Queries; q != nil {
		_, _ = fmt.Fprintf(w, "\n  Queries:   %d (%.0f%% zero-result, %.0f%% direct)\n",
			q.TotalQueries, q.ZeroResultPercentage(), q.DirectRate()*100)
	}
	return nil
}

// RenderJSON prints st as indented JSON.
func (r *StatusRenderer) RenderJSON(st rag.Status) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func formatTime(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats a byte count for display.
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
