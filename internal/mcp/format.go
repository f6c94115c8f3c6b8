package mcp

import (
	"fmt"
	"strings"
)

// maxSnippetRunes bounds the content shown per result in markdown output.
const maxSnippetRunes = 600

// FormatQueryResults formats query output as markdown.
func FormatQueryResults(question string, out QueryOutput) string {
	if out.Route == "DIRECT" {
		return fmt.Sprintf("\"%s\" needs no retrieval (routed DIRECT). Answer it directly.", question)
	}
	if len(out.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", question)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", question)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	fmt.Fprintf(&sb, " (%s search, min score %s)\n\n", out.SearchType, formatScore(out.MinScore))

	for i, r := range out.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, n int, r ResultOutput) {
	name := r.FileName
	if name == "" {
		name = r.SourceID
	}
	fmt.Fprintf(sb, "### %d. %s (chunk %d)\n\n", n, name, r.ChunkIndex)
	fmt.Fprintf(sb, "**Score:** %s", formatScore(r.Score))
	if reason := matchReason(r); reason != "" {
		fmt.Fprintf(sb, " | %s", reason)
	}
	sb.WriteString("\n\n")
	sb.WriteString(truncateRunes(r.Content, maxSnippetRunes))
	sb.WriteString("\n\n")
}

// matchReason explains which search paths found the result.
func matchReason(r ResultOutput) string {
	var parts []string
	if r.InBothLists {
		parts = append(parts, "keyword + semantic match")
	} else if r.KeywordRank > 0 {
		parts = append(parts, "keyword match")
	} else if r.SemanticRank > 0 {
		parts = append(parts, "semantic match")
	}
	if len(r.MatchedTerms) > 0 {
		parts = append(parts, "terms: "+strings.Join(r.MatchedTerms, ", "))
	}
	return strings.Join(parts, "; ")
}

// FormatAnswer formats ask output as markdown.
func FormatAnswer(out AskOutput) string {
	var sb strings.Builder
	if out.Answer != "" {
		sb.WriteString(out.Answer)
		sb.WriteString("\n")
	}
	if out.AnswerError != "" {
		fmt.Fprintf(&sb, "\n_Answer generation failed: %s_\n", out.AnswerError)
	}
	if !out.Grounded {
		sb.WriteString("\n_No corpus context was used for this answer._\n")
		return sb.String()
	}

	sb.WriteString("\n**Sources:**\n")
	for _, src := range out.Sources {
		name := src.FileName
		if name == "" {
			name = src.SourceID
		}
		fmt.Fprintf(&sb, "- %s (chunks %s)\n", name, joinInts(src.Chunks))
	}
	return sb.String()
}

// FormatStatus formats status output as markdown.
func FormatStatus(out StatusOutput) string {
	var sb strings.Builder
	sb.WriteString("## amanrag status\n\n")
	if out.Indexed {
		fmt.Fprintf(&sb, "- **Index:** %d chunks from %d sources (%s keyword backend)\n",
			out.DocumentCount, out.SourceCount, out.KeywordBackend)
		if out.BuiltAt != "" {
			fmt.Fprintf(&sb, "- **Built:** %s\n", out.BuiltAt)
		}
	} else {
		sb.WriteString("- **Index:** not indexed\n")
	}

	semantic := out.SemanticBackend
	if out.Embedder != "" {
		semantic = fmt.Sprintf("%s (%s, %d dims)", out.SemanticBackend, out.Embedder, out.Dimensions)
	}
	fmt.Fprintf(&sb, "- **Semantic:** %s\n", semantic)
	if out.Generator != "" {
		fmt.Fprintf(&sb, "- **Generator:** %s\n", out.Generator)
	}
	fmt.Fprintf(&sb, "- **Persistent:** %t\n", out.Persistent)

	if p := out.Indexing; p != nil {
		fmt.Fprintf(&sb, "\n**Indexing in progress:** %s %d/%d (%ds elapsed)\n",
			p.Stage, p.Done, p.Total, p.ElapsedSeconds)
	}
	return sb.String()
}

func formatScore(s float64) string {
	if s != 0 && s < 0.01 {
		return fmt.Sprintf("%.4f", s)
	}
	return fmt.Sprintf("%.2f", s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
