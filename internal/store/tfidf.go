package store

import (
	"context"
	"math"
	"sort"
)

// BackendTFIDF is the name of the in-process TF-IDF keyword backend.
const BackendTFIDF = "tfidf"

// TFIDFIndex is an immutable term-frequency index built from a corpus snapshot.
//
// Algorithm: score(d, q) = Σ_{t ∈ tokens(q)} tf(t, d) · idf(t)
// where tf is the raw term count and idf(t) = 1 + ln(N / (1 + df(t))).
type TFIDFIndex struct {
	chunks      []*Chunk
	termFreqs   []map[string]int
	docFreq     map[string]int
	totalTokens int
}

// Verify interface implementation at compile time.
var _ KeywordIndex = (*TFIDFIndex)(nil)

// BuildTFIDF builds a new index. Nil chunks and empty content keep their
// corpus position but contribute no terms.
func BuildTFIDF(chunks []*Chunk) *TFIDFIndex {
	idx := &TFIDFIndex{
		chunks:    make([]*Chunk, len(chunks)),
		termFreqs: make([]map[string]int, len(chunks)),
		docFreq:   make(map[string]int),
	}
	copy(idx.chunks, chunks)

	for i, c := range chunks {
		tf := make(map[string]int)
		if c != nil {
			for _, term := range Tokenize(c.Content) {
				tf[term]++
				idx.totalTokens++
			}
		}
		for term := range tf {
			idx.docFreq[term]++
		}
		idx.termFreqs[i] = tf
	}

	return idx
}

// NewTFIDFBuilder returns a KeywordBuilder producing TF-IDF indexes.
func NewTFIDFBuilder() KeywordBuilder {
	return func(ctx context.Context, chunks []*Chunk) (KeywordIndex, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return BuildTFIDF(chunks), nil
	}
}

// idf returns the inverse document frequency of term, floored at zero.
func (idx *TFIDFIndex) idf(term string) float64 {
	n := float64(len(idx.chunks))
	v := 1 + math.Log(n/(1+float64(idx.docFreq[term])))
	if v < 0 {
		return 0
	}
	return v
}

// Score returns the TF-IDF score of the document at position pos for query terms.
func (idx *TFIDFIndex) Score(terms []string, pos int) float64 {
	if pos < 0 || pos >= len(idx.termFreqs) {
		return 0
	}
	tf := idx.termFreqs[pos]
	var score float64
	for _, t := range terms {
		if c := tf[t]; c > 0 {
			score += float64(c) * idx.idf(t)
		}
	}
	return score
}

// Search returns up to k documents with a positive score for query.
func (idx *TFIDFIndex) Search(_ context.Context, query string, k int) ([]*KeywordResult, error) {
	if k <= 0 || len(idx.chunks) == 0 {
		return []*KeywordResult{}, nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []*KeywordResult{}, nil
	}
	unique := UniqueTerms(terms)

	results := make([]*KeywordResult, 0)
	for pos := range idx.chunks {
		score := idx.Score(terms, pos)
		if score <= 0 {
			continue
		}
		var matched []string
		for _, t := range unique {
			if idx.termFreqs[pos][t] > 0 {
				matched = append(matched, t)
			}
		}
		results = append(results, &KeywordResult{
			Position:     pos,
			Chunk:        idx.chunks[pos],
			Score:        score,
			MatchedTerms: matched,
		})
	}

	SortKeywordResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of documents in the index.
func (idx *TFIDFIndex) Len() int {
	return len(idx.chunks)
}

// Chunk returns the chunk at corpus position pos, or nil.
func (idx *TFIDFIndex) Chunk(pos int) *Chunk {
	if pos < 0 || pos >= len(idx.chunks) {
		return nil
	}
	return idx.chunks[pos]
}

// Stats returns index statistics.
func (idx *TFIDFIndex) Stats() IndexStats {
	return IndexStats{
		DocumentCount: len(idx.chunks),
		TermCount:     len(idx.docFreq),
		TotalTokens:   idx.totalTokens,
		Backend:       BackendTFIDF,
	}
}

// Close is a no-op; the index holds no external resources.
func (idx *TFIDFIndex) Close() error {
	return nil
}

// SortKeywordResults orders results by score descending, then corpus position.
func SortKeywordResults(results []*KeywordResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
}
