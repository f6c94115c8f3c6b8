// Package corpus is the ingestion boundary. It reads documents from disk in
// whatever shape they arrive (plain text, markdown, PDF, loosely-typed JSON
// records) and produces canonical store.Chunk values; nothing downstream
// needs to know where a chunk came from.
package corpus

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultMaxFileSize bounds a single ingested file.
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// Document is a whole source document before chunking.
type Document struct {
	SourceID  string
	FileName  string
	FileType  string
	Content   string
	IndexedAt time.Time
}

// Options configures a Loader.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	MaxFileSize  int64

	// Now stamps IndexedAt on chunks whose source carries no timestamp.
	Now func() time.Time
}

// Loader reads files and directories into chunks.
type Loader struct {
	chunker *Chunker
	maxSize int64
	now     func() time.Time
}

// NewLoader creates a loader.
func NewLoader(opts Options) *Loader {
	l := &Loader{
		chunker: NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		maxSize: opts.MaxFileSize,
		now:     opts.Now,
	}
	if l.maxSize <= 0 {
		l.maxSize = DefaultMaxFileSize
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

// Chunker returns the loader's chunker.
func (l *Loader) Chunker() *Chunker {
	return l.chunker
}

// fileTypeFor maps an extension onto a supported file type.
func fileTypeFor(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".log":
		return store.FileTypeText, true
	case ".md", ".markdown", ".mdx":
		return store.FileTypeMarkdown, true
	case ".pdf":
		return store.FileTypePDF, true
	case ".json", ".jsonl", ".ndjson":
		return store.FileTypeJSON, true
	default:
		return "", false
	}
}

// Supported reports whether path has an extension the loader reads.
func Supported(path string) bool {
	_, ok := fileTypeFor(path)
	return ok
}

// FileType returns the stored file type for path, or "" if unsupported.
func FileType(path string) string {
	ft, _ := fileTypeFor(path)
	return ft
}

// LoadPath loads a file, or every supported file under a directory. Hidden
// files and directories are skipped, as is anything matched by the root's
// .amanragignore. Files that fail to parse are logged and
// skipped; a missing root is an error. Chunks come back ordered by source ID.
func (l *Loader) LoadPath(ctx context.Context, root string) ([]*store.Chunk, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound,
				fmt.Sprintf("corpus path not found: %s", root), err)
		}
		return nil, amanerrors.Wrap(amanerrors.ErrCodeFilePermission, err)
	}
	if !info.IsDir() {
		return l.LoadFile(ctx, root, filepath.Base(root))
	}

	ignore, err := LoadIgnoreFile(root)
	if err != nil {
		return nil, amanerrors.Wrap(amanerrors.ErrCodeFilePermission, err)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			slog.Warn("corpus_walk_error",
				slog.String("path", path),
				slog.String("error", walkErr.Error()))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel, err := filepath.Rel(root, path); err == nil && rel != "." && ignore.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && Supported(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var chunks []*store.Chunk
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		fileChunks, err := l.LoadFile(ctx, path, filepath.ToSlash(rel))
		if err != nil {
			slog.Warn("corpus_file_skipped",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		chunks = append(chunks, fileChunks...)
	}

	slog.Info("corpus_loaded",
		slog.String("root", root),
		slog.Int("files", len(files)),
		slog.Int("chunks", len(chunks)))

	if chunks == nil {
		chunks = []*store.Chunk{}
	}
	return chunks, nil
}

// LoadFile loads one file. sourceID identifies the document in the corpus.
func (l *Loader) LoadFile(ctx context.Context, path, sourceID string) ([]*store.Chunk, error) {
	fileType, ok := fileTypeFor(path)
	if !ok {
		return nil, amanerrors.New(amanerrors.ErrCodeUnsupportedFile,
			fmt.Sprintf("unsupported file type: %s", filepath.Ext(path)), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeFileNotFound, "cannot stat "+path, err)
	}
	if info.Size() > l.maxSize {
		return nil, amanerrors.New(amanerrors.ErrCodeFileTooLarge,
			fmt.Sprintf("%s is %d bytes, limit %d", path, info.Size(), l.maxSize), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	modTime := info.ModTime().UTC()
	fileName := filepath.Base(path)

	switch fileType {
	case store.FileTypeJSON:
		f, err := os.Open(path)
		if err != nil {
			return nil, amanerrors.Wrap(amanerrors.ErrCodeFilePermission, err)
		}
		defer func() { _ = f.Close() }()
		chunks, err := ParseRecords(f, sourceID, l.chunker, modTime)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeFileCorrupt, "cannot parse "+path, err)
		}
		for _, c := range chunks {
			if c.FileName == "" && c.SourceID == sourceID {
				c.FileName = fileName
			}
		}
		return chunks, nil

	case store.FileTypePDF:
		text, err := ExtractPDFText(path)
		if err != nil {
			return nil, amanerrors.New(amanerrors.ErrCodeFileCorrupt, "cannot extract pdf text", err)
		}
		return l.ChunkDocument(Document{
			SourceID: sourceID, FileName: fileName, FileType: fileType,
			Content: text, IndexedAt: modTime,
		}), nil

	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, amanerrors.Wrap(amanerrors.ErrCodeFilePermission, err)
		}
		return l.ChunkDocument(Document{
			SourceID: sourceID, FileName: fileName, FileType: fileType,
			Content: string(data), IndexedAt: modTime,
		}), nil
	}
}

// ChunkDocument splits a whole document into chunks.
func (l *Loader) ChunkDocument(doc Document) []*store.Chunk {
	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = l.now()
	}
	return chunkDocument(doc, l.chunker)
}

func chunkDocument(doc Document, chunker *Chunker) []*store.Chunk {
	parts := chunker.Split(doc.Content)
	chunks := make([]*store.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = &store.Chunk{
			Content:     part,
			SourceID:    doc.SourceID,
			ChunkIndex:  i,
			TotalChunks: len(parts),
			FileType:    doc.FileType,
			FileName:    doc.FileName,
			IndexedAt:   doc.IndexedAt,
		}
	}
	return chunks
}

// ExtractPDFText returns the plain text of a PDF file.
func ExtractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}

	text := strings.TrimSpace(strings.ReplaceAll(sb.String(), "\x00", ""))
	if text == "" {
		return "", fmt.Errorf("no extractable text")
	}
	return text, nil
}
