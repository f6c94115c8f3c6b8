package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// BackendBleve is the name of the bleve keyword backend.
	BackendBleve = "bleve"

	// CorpusTokenizerName is the bleve registry name of the corpus tokenizer.
	CorpusTokenizerName = "amanrag_corpus_tokenizer"

	// CorpusAnalyzerName is the bleve analyzer wrapping the corpus tokenizer.
	CorpusAnalyzerName = "amanrag_corpus_analyzer"

	contentField = "content"
)

func init() {
	_ = registry.RegisterTokenizer(CorpusTokenizerName, corpusTokenizerConstructor)
}

// BleveIndex is an in-memory bleve keyword index over a corpus snapshot.
// Document IDs are corpus positions so hits map back to the snapshot order.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	chunks []*Chunk
	closed bool
}

// bleveDocument is the document structure for bleve indexing.
type bleveDocument struct {
	Content string `json:"content"`
}

var _ KeywordIndex = (*BleveIndex)(nil)

// NewBleveBuilder returns a KeywordBuilder producing in-memory bleve indexes.
func NewBleveBuilder() KeywordBuilder {
	return func(ctx context.Context, chunks []*Chunk) (KeywordIndex, error) {
		return BuildBleve(ctx, chunks)
	}
}

// BuildBleve indexes chunks into a fresh in-memory bleve index.
func BuildBleve(ctx context.Context, chunks []*Chunk) (*BleveIndex, error) {
	indexMapping, err := createCorpusMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	b := &BleveIndex{
		index:  idx,
		chunks: make([]*Chunk, len(chunks)),
	}
	copy(b.chunks, chunks)

	batch := idx.NewBatch()
	for pos, c := range chunks {
		if err := ctx.Err(); err != nil {
			_ = idx.Close()
			return nil, err
		}
		if c == nil || strings.TrimSpace(c.Content) == "" {
			continue
		}
		if err := batch.Index(strconv.Itoa(pos), bleveDocument{Content: c.Content}); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("failed to index chunk %s: %w", c.Key(), err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to execute batch: %w", err)
	}

	return b, nil
}

// createCorpusMapping creates the bleve mapping using the corpus tokenizer.
func createCorpusMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(CorpusAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     CorpusTokenizerName,
		"token_filters": []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = CorpusAnalyzerName

	return indexMapping, nil
}

// Search runs a match query and returns hits in score order, ties by position.
func (b *BleveIndex) Search(ctx context.Context, query string, k int) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if k <= 0 || len(b.chunks) == 0 || len(Tokenize(query)) == 0 {
		return []*KeywordResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField(contentField)

	// Fetch every hit so ties can be ordered by corpus position before truncation.
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = len(b.chunks)
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*KeywordResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil || pos < 0 || pos >= len(b.chunks) || hit.Score <= 0 {
			continue
		}
		results = append(results, &KeywordResult{
			Position:     pos,
			Chunk:        b.chunks[pos],
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	SortKeywordResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of chunks in the snapshot.
func (b *BleveIndex) Len() int {
	return len(b.chunks)
}

// Stats returns index statistics.
func (b *BleveIndex) Stats() IndexStats {
	return IndexStats{DocumentCount: len(b.chunks), Backend: BackendBleve}
}

// Close releases the bleve index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// extractMatchedTerms extracts terms that matched in the content field,
// sorted so repeated searches report them in the same order.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	locations, ok := hit.Locations[contentField]
	if !ok {
		return nil
	}
	terms := make([]string, 0, len(locations))
	for term := range locations {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func corpusTokenizerConstructor(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return &corpusTokenizer{}, nil
}

// corpusTokenizer adapts Tokenize to bleve's analysis.Tokenizer.
type corpusTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *corpusTokenizer) Tokenize(input []byte) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0, len(input)/4)
	pos := 1
	scanTokens(string(input), func(term string, start, end int, ideograph bool) {
		typ := analysis.AlphaNumeric
		if ideograph {
			typ = analysis.Ideographic
		}
		stream = append(stream, &analysis.Token{
			Term:     []byte(term),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     typ,
		})
		pos++
	})
	return stream
}
