package corpus

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/store"
)

// maxRecordLine bounds one JSONL line.
const maxRecordLine = 16 * 1024 * 1024

// rawRecord is the loosely-typed shape documents arrive in. Text may sit
// under pageContent, content or text, and metadata either nested under
// "metadata" or flat on the record.
type rawRecord map[string]any

// ParseRecords reads a JSON array, a single JSON object or JSON Lines and
// normalizes each record into canonical chunks. Records that already carry a
// chunk index are taken as chunks; the rest are whole documents and are
// split with chunker. fallbackSource names records that carry no source.
//
// Records without usable text are skipped, never an error.
func ParseRecords(r io.Reader, fallbackSource string, chunker *Chunker, now time.Time) ([]*store.Chunk, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []*store.Chunk{}, nil
	}

	var records []rawRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
	default:
		records, err = decodeLines(trimmed)
		if err != nil {
			return nil, err
		}
	}

	return normalizeRecords(records, fallbackSource, chunker, now), nil
}

// decodeLines decodes JSON Lines; a single pretty-printed object also works.
func decodeLines(data []byte) ([]rawRecord, error) {
	var single rawRecord
	if err := json.Unmarshal(data, &single); err == nil {
		return []rawRecord{single}, nil
	}

	var records []rawRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordLine)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec rawRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("decode json line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan json lines: %w", err)
	}
	return records, nil
}

type normalized struct {
	content    string
	sourceID   string
	fileName   string
	fileType   string
	chunkIndex int
	hasIndex   bool
	total      int
	indexedAt  time.Time
}

func normalizeRecords(records []rawRecord, fallbackSource string, chunker *Chunker, now time.Time) []*store.Chunk {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}

	var out []*store.Chunk
	preChunked := make(map[string][]*store.Chunk)
	var order []string

	for i, rec := range records {
		n, ok := normalizeRecord(rec)
		if !ok {
			continue
		}
		if n.sourceID == "" {
			n.sourceID = fallbackSource
			if len(records) > 1 && !n.hasIndex {
				n.sourceID = fmt.Sprintf("%s#record-%d", fallbackSource, i)
			}
		}
		if n.fileType == "" {
			n.fileType = store.FileTypeJSON
		}
		if n.indexedAt.IsZero() {
			n.indexedAt = now
		}

		if n.hasIndex {
			c := &store.Chunk{
				Content:     n.content,
				SourceID:    n.sourceID,
				ChunkIndex:  n.chunkIndex,
				TotalChunks: n.total,
				FileType:    n.fileType,
				FileName:    n.fileName,
				IndexedAt:   n.indexedAt,
			}
			if _, seen := preChunked[n.sourceID]; !seen {
				order = append(order, n.sourceID)
			}
			preChunked[n.sourceID] = append(preChunked[n.sourceID], c)
			continue
		}

		out = append(out, chunkDocument(Document{
			SourceID:  n.sourceID,
			FileName:  n.fileName,
			FileType:  n.fileType,
			Content:   n.content,
			IndexedAt: n.indexedAt,
		}, chunker)...)
	}

	for _, source := range order {
		chunks := preChunked[source]
		for _, c := range chunks {
			if c.TotalChunks < len(chunks) {
				c.TotalChunks = len(chunks)
			}
		}
		out = append(out, chunks...)
	}
	if out == nil {
		out = []*store.Chunk{}
	}
	return out
}

func normalizeRecord(rec rawRecord) (normalized, bool) {
	var n normalized
	if rec == nil {
		return n, false
	}

	n.content = firstString(rec, "pageContent", "page_content", "content", "text")
	if strings.TrimSpace(n.content) == "" {
		return n, false
	}

	meta, _ := rec["metadata"].(map[string]any)
	lookup := func(keys ...string) any {
		for _, k := range keys {
			if v, ok := rec[k]; ok && v != nil {
				return v
			}
			if meta != nil {
				if v, ok := meta[k]; ok && v != nil {
					return v
				}
			}
		}
		return nil
	}

	n.sourceID = asString(lookup("sourceId", "source_id", "source", "id"))
	n.fileName = asString(lookup("fileName", "file_name", "filename", "title"))
	n.fileType = strings.ToLower(asString(lookup("fileType", "file_type", "type")))
	if idx, ok := asInt(lookup("chunkIndex", "chunk_index")); ok && idx >= 0 {
		n.chunkIndex, n.hasIndex = idx, true
	}
	if total, ok := asInt(lookup("totalChunks", "total_chunks")); ok && total > 0 {
		n.total = total
	}
	if n.total < n.chunkIndex+1 {
		n.total = n.chunkIndex + 1
	}
	n.indexedAt = asTime(lookup("timestamp", "indexedAt", "indexed_at", "uploadedAt"))
	return n, true
}

func firstString(rec rawRecord, keys ...string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), t == float64(int(t))
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	case float64:
		// epoch milliseconds
		return time.UnixMilli(int64(t)).UTC()
	}
	return time.Time{}
}
