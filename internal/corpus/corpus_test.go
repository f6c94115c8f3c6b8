package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// Chunker
// =============================================================================

func TestChunker_ShortTextIsOneChunk(t *testing.T) {
	c := NewChunker(100, 10)
	assert.Equal(t, []string{"hello world"}, c.Split("  hello world \n"))
	assert.Empty(t, c.Split("   \n\t "))
}

func TestChunker_WindowsOverlapAndCoverText(t *testing.T) {
	c := NewChunker(100, 20)
	var words []string
	for i := 0; i < 120; i++ {
		words = append(words, "word")
	}
	text := strings.Join(words, " ")

	parts := c.Split(text)

	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len([]rune(p)), 100)
		assert.NotContains(t, p, "wo rd")
		assert.False(t, strings.HasPrefix(p, " "))
	}
}

func TestChunker_PrefersParagraphBreak(t *testing.T) {
	c := NewChunker(60, 0)
	para1 := strings.Repeat("a", 50)
	para2 := strings.Repeat("b", 40)

	parts := c.Split(para1 + "\n\n" + para2)

	require.Len(t, parts, 2)
	assert.Equal(t, para1, parts[0])
	assert.Equal(t, para2, parts[1])
}

func TestChunker_CJKSafe(t *testing.T) {
	c := NewChunker(50, 5)
	text := strings.Repeat("知识库问答系统。", 30)

	parts := c.Split(text)

	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p))
		assert.LessOrEqual(t, len([]rune(p)), 50)
	}
	// windows end on the sentence mark
	assert.True(t, strings.HasSuffix(parts[0], "。"))
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.Size)
	assert.Equal(t, DefaultChunkOverlap, c.Overlap)

	c = NewChunker(100, 80)
	assert.Equal(t, 100, c.Size)
	assert.Equal(t, 25, c.Overlap)
}

// =============================================================================
// Records
// =============================================================================

func TestParseRecords_DuckTypedShapes(t *testing.T) {
	input := `[
		{"pageContent": "apples are red", "metadata": {"source": "docA", "chunkIndex": 0, "totalChunks": 2}},
		{"content": "bananas are yellow", "sourceId": "docA", "chunkIndex": 1},
		{"text": "   "},
		{"pageContent": 42},
		{"content": "whole document text", "metadata": {"source": "docB", "fileName": "b.txt", "fileType": "TXT"}}
	]`

	chunks, err := ParseRecords(strings.NewReader(input), "upload.json", NewChunker(100, 10), fixedNow)

	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// whole documents first, then pre-chunked records grouped by source
	assert.Equal(t, "docB", chunks[0].SourceID)
	assert.Equal(t, "b.txt", chunks[0].FileName)
	assert.Equal(t, "txt", chunks[0].FileType)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].TotalChunks)

	assert.Equal(t, store.ChunkKey{SourceID: "docA", ChunkIndex: 0}, chunks[1].Key())
	assert.Equal(t, "apples are red", chunks[1].Content)
	assert.Equal(t, 2, chunks[1].TotalChunks)
	assert.Equal(t, store.ChunkKey{SourceID: "docA", ChunkIndex: 1}, chunks[2].Key())
	assert.Equal(t, 2, chunks[2].TotalChunks)
	assert.Equal(t, store.FileTypeJSON, chunks[2].FileType)
	assert.Equal(t, fixedNow, chunks[2].IndexedAt)
}

func TestParseRecords_JSONLines(t *testing.T) {
	input := `{"content": "first", "source": "s1", "timestamp": "2026-01-02T03:04:05Z"}

{"content": "second", "source": "s2", "timestamp": 1767225600000}
`
	chunks, err := ParseRecords(strings.NewReader(input), "f.jsonl", nil, fixedNow)

	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "s1", chunks[0].SourceID)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), chunks[0].IndexedAt)
	assert.Equal(t, "s2", chunks[1].SourceID)
	assert.Equal(t, time.UnixMilli(1767225600000).UTC(), chunks[1].IndexedAt)
}

func TestParseRecords_SingleObjectAndFallbackSource(t *testing.T) {
	chunks, err := ParseRecords(strings.NewReader(`{
		"content": "pretty printed"
	}`), "notes.json", nil, fixedNow)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "notes.json", chunks[0].SourceID)
}

func TestParseRecords_Errors(t *testing.T) {
	_, err := ParseRecords(strings.NewReader(`[{"content": "x"`), "f", nil, fixedNow)
	assert.Error(t, err)

	_, err = ParseRecords(strings.NewReader("{\"content\": \"ok\"}\nnot json\n"), "f", nil, fixedNow)
	assert.ErrorContains(t, err, "line 2")

	chunks, err := ParseRecords(strings.NewReader("  "), "f", nil, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

// =============================================================================
// Loader
// =============================================================================

func TestLoader_LoadPath_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "apples are red")
	writeFile(t, dir, "docs/b.md", "# Bananas\n\nbananas are yellow")
	writeFile(t, dir, "records.jsonl", `{"content": "cherries", "source": "cherry-doc"}`)
	writeFile(t, dir, ".hidden/secret.txt", "should be skipped")
	writeFile(t, dir, "image.png", "binary")
	writeFile(t, dir, "broken.pdf", "not really a pdf")

	loader := NewLoader(Options{ChunkSize: 200, ChunkOverlap: 20})
	chunks, err := loader.LoadPath(context.Background(), dir)

	require.NoError(t, err)
	sources := map[string]*store.Chunk{}
	for _, c := range chunks {
		sources[c.SourceID] = c
	}
	require.Len(t, sources, 3)

	assert.Equal(t, store.FileTypeText, sources["a.txt"].FileType)
	assert.Equal(t, "a.txt", sources["a.txt"].FileName)
	assert.Equal(t, store.FileTypeMarkdown, sources["docs/b.md"].FileType)
	assert.Equal(t, "b.md", sources["docs/b.md"].FileName)
	assert.Contains(t, sources["docs/b.md"].Content, "bananas are yellow")
	assert.Equal(t, "cherries", sources["cherry-doc"].Content)
	assert.False(t, sources["a.txt"].IndexedAt.IsZero())
}

func TestLoader_LoadPath_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "only.txt", "single file corpus")

	chunks, err := NewLoader(Options{}).LoadPath(context.Background(), path)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only.txt", chunks[0].SourceID)
	assert.Equal(t, 1, chunks[0].TotalChunks)
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(Options{MaxFileSize: 10})

	_, err := loader.LoadPath(context.Background(), filepath.Join(dir, "missing"))
	assert.Equal(t, amanerrors.ErrCodeFileNotFound, amanerrors.GetCode(err))

	big := writeFile(t, dir, "big.txt", strings.Repeat("x", 100))
	_, err = loader.LoadFile(context.Background(), big, "big.txt")
	assert.Equal(t, amanerrors.ErrCodeFileTooLarge, amanerrors.GetCode(err))

	_, err = loader.LoadFile(context.Background(), filepath.Join(dir, "x.exe"), "x.exe")
	assert.Equal(t, amanerrors.ErrCodeUnsupportedFile, amanerrors.GetCode(err))

	bad := writeFile(t, dir, "bad.pdf", "nope")
	_, err = NewLoader(Options{}).LoadFile(context.Background(), bad, "bad.pdf")
	assert.Equal(t, amanerrors.ErrCodeFileCorrupt, amanerrors.GetCode(err))
}

func TestLoader_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "text")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(Options{}).LoadPath(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_ChunkDocument(t *testing.T) {
	loader := NewLoader(Options{ChunkSize: 60, ChunkOverlap: 0, Now: func() time.Time { return fixedNow }})

	chunks := loader.ChunkDocument(Document{
		SourceID: "doc",
		Content:  strings.Repeat("alpha beta gamma. ", 10),
	})

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(chunks), c.TotalChunks)
		assert.Equal(t, fixedNow, c.IndexedAt)
	}
}

func TestSupported(t *testing.T) {
	for _, p := range []string{"a.txt", "B.MD", "c.pdf", "d.json", "e.jsonl", "f.markdown"} {
		assert.True(t, Supported(p), p)
	}
	for _, p := range []string{"a.go", "b.png", "noext"} {
		assert.False(t, Supported(p), p)
	}
}
