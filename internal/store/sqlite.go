package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// State keys for the corpus store.
const (
	// StateKeyEmbeddingModel stores the embedder model that produced stored vectors.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDims stores the dimension of stored vectors.
	StateKeyEmbeddingDims = "embedding_dims"
	// StateKeyLastIndexed stores the RFC3339 timestamp of the last full index.
	StateKeyLastIndexed = "last_indexed"
)

const corpusSchemaVersion = 1

const corpusSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS chunks (
	seq          INTEGER NOT NULL,
	source_id    TEXT    NOT NULL,
	chunk_index  INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	file_type    TEXT    NOT NULL DEFAULT '',
	file_name    TEXT    NOT NULL DEFAULT '',
	content      TEXT    NOT NULL,
	indexed_at   INTEGER NOT NULL,
	embedding    BLOB,
	PRIMARY KEY (source_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_seq ON chunks(seq);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// CorpusStore persists the chunk corpus and its embeddings in SQLite.
type CorpusStore struct {
	db   *sql.DB
	path string
}

// NewCorpusStore opens (or creates) the corpus database at path.
// An empty path opens an in-memory database.
func NewCorpusStore(path string) (*CorpusStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: SQLite serializes writers and :memory: is per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &CorpusStore{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newCorpusStoreFromDB wraps an already-open database without migrating it.
func newCorpusStoreFromDB(db *sql.DB) *CorpusStore {
	return &CorpusStore{db: db}
}

func (s *CorpusStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, corpusSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO schema_version (version) VALUES (?)", corpusSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

// ReplaceAll atomically replaces the stored corpus. vectors may be nil, or
// must have one entry (possibly nil) per chunk.
func (s *CorpusStore) ReplaceAll(ctx context.Context, chunks []*Chunk, vectors [][]float32) error {
	if vectors != nil && len(vectors) != len(chunks) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO chunks
		(seq, source_id, chunk_index, total_chunks, file_type, file_name, content, indexed_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	seq := 0
	for i, c := range chunks {
		if c == nil {
			continue
		}
		var blob []byte
		if vectors != nil && vectors[i] != nil {
			blob = EncodeVector(vectors[i])
		}
		if _, err := stmt.ExecContext(ctx, seq, c.SourceID, c.ChunkIndex, c.TotalChunks,
			c.FileType, c.FileName, c.Content, c.IndexedAt.UnixNano(), blob); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.Key(), err)
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit corpus: %w", err)
	}

	slog.Debug("corpus_store_replaced", slog.Int("chunks", seq))
	return nil
}

// Load returns the stored corpus in insertion order together with stored
// embeddings (nil entries where none was stored).
func (s *CorpusStore) Load(ctx context.Context) ([]*Chunk, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, chunk_index, total_chunks, file_type,
		file_name, content, indexed_at, embedding FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*Chunk, 0)
	vectors := make([][]float32, 0)
	for rows.Next() {
		var (
			c         Chunk
			indexedAt int64
			blob      []byte
		)
		if err := rows.Scan(&c.SourceID, &c.ChunkIndex, &c.TotalChunks, &c.FileType,
			&c.FileName, &c.Content, &indexedAt, &blob); err != nil {
			return nil, nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.IndexedAt = time.Unix(0, indexedAt).UTC()
		chunks = append(chunks, &c)
		vectors = append(vectors, DecodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	return chunks, vectors, nil
}

// DeleteSource removes all chunks of a source and returns the number removed.
func (s *CorpusStore) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE source_id = ?", sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// Clear removes every stored chunk.
func (s *CorpusStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("failed to clear corpus: %w", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *CorpusStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// SetState upserts a state value.
func (s *CorpusStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// GetState returns a state value, or "" when the key is absent.
func (s *CorpusStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// DB exposes the underlying connection for tables owned by other packages
// (query telemetry shares the corpus database).
func (s *CorpusStore) DB() *sql.DB {
	return s.db
}

// Path returns the database path ("" for in-memory stores).
func (s *CorpusStore) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *CorpusStore) Close() error {
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// EncodeVector serializes a vector as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. Empty or malformed blobs give nil.
func DecodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
