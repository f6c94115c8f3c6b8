package search

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultPgVectorTable is the table holding chunk embeddings.
const DefaultPgVectorTable = "amanrag_chunks"

// dropGenerationTimeout bounds the delete run when a generation is retired.
const dropGenerationTimeout = 30 * time.Second

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// OpenPgVector opens a PostgreSQL connection through the pgx stdlib driver.
func OpenPgVector(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// PgVectorStore mirrors corpus generations into one pgvector table. Each
// Stage call writes a new generation and returns an oracle bound to it, so
// a published index never sees rows written for a later build.
type PgVectorStore struct {
	db       *sql.DB
	embedder embed.Embedder
	table    string
}

// NewPgVectorStore creates a store over db. An empty table uses DefaultPgVectorTable.
func NewPgVectorStore(db *sql.DB, embedder embed.Embedder, table string) (*PgVectorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: database is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if table == "" {
		table = DefaultPgVectorTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PgVectorStore{db: db, embedder: embedder, table: table}, nil
}

// EnsureSchema creates the vector extension, the chunk table and the
// generation sequence.
func (p *PgVectorStore) EnsureSchema(ctx context.Context) error {
	dims := p.embedder.Dimensions()
	if dims <= 0 {
		return fmt.Errorf("embedder reports %d dimensions", dims)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE SEQUENCE IF NOT EXISTS %[1]s_generation_seq;
CREATE TABLE IF NOT EXISTS %[1]s (
	generation BIGINT NOT NULL,
	source_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	total_chunks INTEGER NOT NULL,
	file_type TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL,
	embedding vector(%[2]d),
	PRIMARY KEY (generation, source_id, chunk_index)
);`, p.table, dims)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Purge deletes every generation. Call it before the first Stage of a
// process to drop rows an earlier run left behind.
func (p *PgVectorStore) Purge(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, "DELETE FROM "+p.table); err != nil {
		return fmt.Errorf("purge %s: %w", p.table, err)
	}
	return nil
}

// Stage writes chunks and their vectors as a new generation in one
// transaction and returns the oracle serving it. Chunks without a vector are
// stored with a NULL embedding. Rows of other generations are untouched.
func (p *PgVectorStore) Stage(ctx context.Context, chunks []*store.Chunk, vectors [][]float32) (*PgVectorOracle, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("have %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin stage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var generation int64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT nextval('%s_generation_seq')", p.table)).Scan(&generation); err != nil {
		return nil, fmt.Errorf("next generation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (generation, source_id, chunk_index, total_chunks, file_type, file_name, content, indexed_at, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::vector)
ON CONFLICT (generation, source_id, chunk_index) DO NOTHING`, p.table))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		if c == nil {
			continue
		}
		var literal any
		if !isZeroVector(vectors[i]) {
			literal = VectorLiteral(vectors[i])
		}
		if _, err := stmt.ExecContext(ctx, generation,
			c.SourceID, c.ChunkIndex, c.TotalChunks, c.FileType, c.FileName, c.Content,
			c.IndexedAt.UTC(), literal); err != nil {
			return nil, fmt.Errorf("insert chunk %s: %w", c.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit stage tx: %w", err)
	}
	return &PgVectorOracle{store: p, generation: generation}, nil
}

// PgVectorOracle answers semantic queries over one generation with
// pgvector's cosine distance operator. Close deletes the generation.
type PgVectorOracle struct {
	store      *PgVectorStore
	generation int64
	closed     atomic.Bool
}

// Verify interface implementation at compile time.
var (
	_ SemanticOracle = (*PgVectorOracle)(nil)
	_ io.Closer      = (*PgVectorOracle)(nil)
)

// Generation returns the generation this oracle reads.
func (o *PgVectorOracle) Generation() int64 {
	return o.generation
}

// Search embeds query and returns the k nearest chunks tagged semantic.
// Score is 1 - cosine distance, floored at 0.
func (o *PgVectorOracle) Search(ctx context.Context, query string, k int) ([]*Result, error) {
	if k <= 0 || isBlank(query) {
		return []*Result{}, nil
	}

	embedding, err := o.store.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if isZeroVector(embedding) {
		return []*Result{}, nil
	}

	rows, err := o.store.db.QueryContext(ctx, fmt.Sprintf(`
SELECT source_id, chunk_index, total_chunks, file_type, file_name, content, indexed_at,
       embedding <=> $1::vector AS distance
FROM %s
WHERE generation = $2 AND embedding IS NOT NULL
ORDER BY distance, source_id, chunk_index
LIMIT $3`, o.store.table), VectorLiteral(embedding), o.generation, k)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]*Result, 0, k)
	for rows.Next() {
		var (
			c        store.Chunk
			distance float64
		)
		if err := rows.Scan(&c.SourceID, &c.ChunkIndex, &c.TotalChunks, &c.FileType,
			&c.FileName, &c.Content, &c.IndexedAt, &distance); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		results = append(results, &Result{
			Chunk:      &c,
			Score:      max(1-distance, 0),
			SearchType: SearchTypeSemantic,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

// Close deletes the generation's rows. Subsequent calls are no-ops.
func (o *PgVectorOracle) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), dropGenerationTimeout)
	defer cancel()
	if _, err := o.store.db.ExecContext(ctx,
		"DELETE FROM "+o.store.table+" WHERE generation = $1", o.generation); err != nil {
		return fmt.Errorf("drop generation %d: %w", o.generation, err)
	}
	return nil
}

// VectorLiteral renders v in pgvector's text input format.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
