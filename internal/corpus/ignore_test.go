package corpus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreRules_Match(t *testing.T) {
	rules := ParseIgnore(
		"# drafts are never indexed",
		"",
		"*.log",
		"drafts/",
		"/build",
		"docs/**/old-*.md",
		"notes?.txt",
		"data/[ab].csv",
		"!keep.log",
	)
	require.Equal(t, 7, rules.Len())

	tests := []struct {
		name  string
		path  string
		isDir bool
		want  bool
	}{
		{"glob at root", "debug.log", false, true},
		{"glob nested", "logs/app/debug.log", false, true},
		{"negated", "keep.log", false, false},
		{"dir only matches dir", "drafts", true, true},
		{"dir only covers children", "docs/drafts/a.md", false, true},
		{"dir only skips file", "drafts", false, false},
		{"anchored at root", "build/out.txt", false, true},
		{"anchored not nested", "src/build/out.txt", false, false},
		{"double star zero dirs", "docs/old-guide.md", false, true},
		{"double star many dirs", "docs/a/b/old-guide.md", false, true},
		{"double star miss", "docs/a/new-guide.md", false, false},
		{"question mark", "notes1.txt", false, true},
		{"question mark needs one rune", "notes.txt", false, false},
		{"class", "data/a.csv", false, true},
		{"class miss", "data/c.csv", false, false},
		{"plain file", "guide.md", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Match(tt.path, tt.isDir))
		})
	}
}

func TestIgnoreRules_NilIgnoresNothing(t *testing.T) {
	var rules *IgnoreRules
	assert.False(t, rules.Match("anything.md", false))
	assert.Equal(t, 0, rules.Len())
}

func TestIgnoreRules_LastRuleWins(t *testing.T) {
	rules := ParseIgnore("*.md", "!important.md", "important.md")
	assert.True(t, rules.Match("important.md", false))
}

func TestLoadIgnoreFile_Missing(t *testing.T) {
	rules, err := LoadIgnoreFile(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, rules.Len())
}

func TestLoader_LoadPath_HonorsIgnoreFile(t *testing.T) {
	// Given a corpus with an ignore file excluding a directory and a pattern
	dir := t.TempDir()
	writeFile(t, dir, IgnoreFile, "archive/\n*.draft.md\n")
	writeFile(t, dir, "guide.md", "the guide")
	writeFile(t, dir, "wip.draft.md", "unfinished")
	writeFile(t, dir, "archive/old.txt", "stale")

	// When the directory is loaded
	chunks, err := NewLoader(Options{}).LoadPath(context.Background(), dir)

	// Then only the unmatched file is ingested
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "guide.md", chunks[0].SourceID)
}
