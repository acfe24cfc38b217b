package memory

import (
	"context"
	"fmt"

	"github.com/nidhogg/hivemind/internal/embedding"
	"github.com/nidhogg/hivemind/internal/vectorstore"
	"go.uber.org/zap"
)

// Collection is the Qdrant collection holding task fingerprints.
const Collection = "task_fingerprints"

// VectorStore is the subset of the Qdrant client the index needs. Tests swap
// in an in-memory implementation.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, filterField, filterValue string) ([]*vectorstore.SearchResult, error)
}

// VectorIndex is a SimilarityIndex backed by a vector store with an embedding
// provider. It stores only entry ids and resolves them back through the log,
// so the append-only entries remain the single source of truth.
type VectorIndex struct {
	embedder embedding.Provider
	store    VectorStore
	resolve  func(id string) *Entry
	logger   *zap.Logger
}

// NewVectorIndex creates a vector-backed similarity index. resolve maps a
// stored entry id back to its log entry; usually Log.Get.
func NewVectorIndex(embedder embedding.Provider, store VectorStore, resolve func(id string) *Entry, logger *zap.Logger) *VectorIndex {
	return &VectorIndex{
		embedder: embedder,
		store:    store,
		resolve:  resolve,
		logger:   logger,
	}
}

// Init ensures the fingerprint collection exists.
func (ix *VectorIndex) Init(ctx context.Context) error {
	dim := uint64(ix.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := ix.store.EnsureCollection(ctx, Collection, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", Collection, err)
	}
	return nil
}

// Add embeds the entry's fingerprint and upserts it.
func (ix *VectorIndex) Add(ctx context.Context, e *Entry) error {
	vectors, err := ix.embedder.Embed(ctx, []string{e.Fingerprint.Text()})
	if err != nil {
		return fmt.Errorf("embed fingerprint: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("empty embedding result")
	}

	point := vectorstore.Point{
		ID:     e.ID,
		Vector: vectors[0],
		Payload: map[string]string{
			"agent_id": e.AgentID,
			"category": e.Fingerprint.Category,
		},
	}
	return ix.store.Upsert(ctx, Collection, []vectorstore.Point{point})
}

// Search embeds the query fingerprint and returns the nearest entries. A
// categorized query only matches entries of the same category; cross-category
// hits would inflate the memory prior with unrelated work.
func (ix *VectorIndex) Search(ctx context.Context, fp Fingerprint, limit int) ([]Scored, error) {
	vectors, err := ix.embedder.Embed(ctx, []string{fp.Text()})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := ix.store.Search(ctx, Collection, vectors[0], uint64(limit), "category", fp.Category)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	scored := make([]Scored, 0, len(hits))
	for _, h := range hits {
		e := ix.resolve(h.ID)
		if e == nil {
			ix.logger.Debug("vector hit not in log", zap.String("entry", h.ID))
			continue
		}
		scored = append(scored, Scored{Entry: e, Similarity: float64(h.Score)})
	}
	return scored, nil
}
