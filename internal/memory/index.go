package memory

import (
	"context"
	"sort"
	"sync"
)

// SimilarityIndex finds entries comparable to a query fingerprint. The
// lexical implementation is the default; an embedding-backed one can be
// swapped in without changing the Log contract.
type SimilarityIndex interface {
	Add(ctx context.Context, e *Entry) error
	Search(ctx context.Context, fp Fingerprint, limit int) ([]Scored, error)
}

// LexicalIndex scores entries by token-set overlap. It keeps its own slice of
// entry references so searches never contend with the log's append lock.
type LexicalIndex struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewLexicalIndex creates an empty lexical index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{}
}

// Add registers an entry for future searches.
func (ix *LexicalIndex) Add(_ context.Context, e *Entry) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries = append(ix.entries, e)
	return nil
}

// Search scans all entries and returns the closest matches by Jaccard
// overlap, descending.
func (ix *LexicalIndex) Search(_ context.Context, fp Fingerprint, limit int) ([]Scored, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	scored := make([]Scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		if sim := fp.Similarity(e.Fingerprint); sim > 0 {
			scored = append(scored, Scored{Entry: e, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
