package corpus

import (
	"strings"
	"unicode"
)

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
	minChunkSize        = 50
)

// Chunker splits text into overlapping rune windows. A window prefers to end
// at a paragraph break, then a sentence end, then whitespace, as long as the
// break falls in the last quarter of the window. Rune-based so CJK text is
// never cut inside a character.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker. Out-of-range values fall back to defaults.
func NewChunker(size, overlap int) *Chunker {
	if size < minChunkSize {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size/2 {
		overlap = min(DefaultChunkOverlap, size/4)
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunks of text, trimmed, blanks dropped.
func (c *Chunker) Split(text string) []string {
	runes := []rune(normalizeWhitespace(text))
	if len(runes) == 0 {
		return []string{}
	}

	out := make([]string, 0, len(runes)/c.Size+1)
	start := 0
	for start < len(runes) {
		end := min(start+c.Size, len(runes))
		if end < len(runes) {
			end = c.breakPoint(runes, start, end)
		}

		if part := strings.TrimSpace(string(runes[start:end])); part != "" {
			out = append(out, part)
		}
		if end >= len(runes) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// breakPoint picks where a window [start, end) should end.
func (c *Chunker) breakPoint(runes []rune, start, end int) int {
	floor := end - c.Size/4
	if floor <= start {
		return end
	}

	if i := lastIndexFunc(runes, floor, end, func(i int) bool {
		return runes[i] == '\n' && i > 0 && runes[i-1] == '\n'
	}); i > 0 {
		return i + 1
	}
	if i := lastIndexFunc(runes, floor, end, func(i int) bool {
		return isSentenceEnd(runes[i])
	}); i > 0 {
		return i + 1
	}
	if i := lastIndexFunc(runes, floor, end, func(i int) bool {
		return unicode.IsSpace(runes[i])
	}); i > 0 {
		return i + 1
	}
	return end
}

func lastIndexFunc(runes []rune, lo, hi int, match func(int) bool) int {
	for i := hi - 1; i >= lo; i-- {
		if match(i) {
			return i
		}
	}
	return -1
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '；':
		return true
	}
	return false
}

// normalizeWhitespace unifies line endings, drops control characters and
// collapses runs of three or more newlines.
func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var sb strings.Builder
	sb.Grow(len(s))
	newlines := 0
	for _, r := range s {
		if r == '\n' {
			newlines++
			if newlines <= 2 {
				sb.WriteRune(r)
			}
			continue
		}
		newlines = 0
		if r == '\t' {
			sb.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}
