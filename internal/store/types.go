// Package store provides the chunk model, the keyword indexes (TF-IDF, bleve),
// the HNSW vector store and the SQLite corpus persistence layer.
package store

import (
	"context"
	"fmt"
	"time"
)

// FileType values recognised by the ingestion adapter.
const (
	FileTypeText     = "txt"
	FileTypeMarkdown = "md"
	FileTypePDF      = "pdf"
	FileTypeJSON     = "json"
)

// Chunk is an immutable unit of retrievable text.
type Chunk struct {
	Content     string    `json:"content"`
	SourceID    string    `json:"source_id"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	FileType    string    `json:"file_type"`
	FileName    string    `json:"file_name,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// ChunkKey identifies a logical chunk regardless of which search path produced it.
type ChunkKey struct {
	SourceID   string
	ChunkIndex int
}

// String returns the "source#index" form used as an external document ID.
func (k ChunkKey) String() string {
	return fmt.Sprintf("%s#%d", k.SourceID, k.ChunkIndex)
}

// Key returns the chunk's identity.
func (c *Chunk) Key() ChunkKey {
	return ChunkKey{SourceID: c.SourceID, ChunkIndex: c.ChunkIndex}
}

// DisplayName returns the file name, or the source ID when no file name was recorded.
func (c *Chunk) DisplayName() string {
	if c.FileName != "" {
		return c.FileName
	}
	return c.SourceID
}

// KeywordResult is a single hit from a keyword index.
// Position is the chunk's offset in the corpus slice the index was built from.
type KeywordResult struct {
	Position     int
	Chunk        *Chunk
	Score        float64
	MatchedTerms []string
}

// KeywordIndex is an immutable keyword index over a corpus snapshot.
// Results are sorted by score descending, ties broken by corpus position.
type KeywordIndex interface {
	Search(ctx context.Context, query string, k int) ([]*KeywordResult, error)
	Len() int
	Stats() IndexStats
	Close() error
}

// KeywordBuilder builds a KeywordIndex from a corpus snapshot.
type KeywordBuilder func(ctx context.Context, chunks []*Chunk) (KeywordIndex, error)

// IndexStats contains keyword index statistics.
type IndexStats struct {
	DocumentCount int    `json:"document_count"`
	TermCount     int    `json:"term_count"`
	TotalTokens   int    `json:"total_tokens"`
	Backend       string `json:"backend"`
}

// VectorResult represents a nearest-neighbour search result.
// Position is the corpus offset of the chunk the vector was built from.
type VectorResult struct {
	Position int
	Distance float32
	Score    float32 // 1 - distance/2 for normalized cosine
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	Dimensions int
	M          int // Max connections per node
	EfSearch   int // Search candidate list size
	Ml         float64
	Metric     string // "cos" or "l2"
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
		Ml:         0.25,
		Metric:     "cos",
	}
}
