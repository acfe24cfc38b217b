package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the terminal result of a recorded task execution.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Entry is one completed task execution. Entries are append-only and never
// mutated after Record returns.
type Entry struct {
	ID          string      `json:"id"`
	Fingerprint Fingerprint `json:"task_fingerprint"`
	AgentID     string      `json:"agent_id"`
	Outcome     Outcome     `json:"outcome"`
	Confidence  float64     `json:"confidence"` // 0-1
	Learning    string      `json:"extracted_learning,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Config controls similarity ranking.
type Config struct {
	HalfLifeDays float64 // recency decay half-life (default 30)
}

// DefaultConfig returns the ranking defaults.
func DefaultConfig() Config {
	return Config{HalfLifeDays: 30}
}

// Log is the collective memory: an append-only record of task executions
// with a pluggable similarity index over task fingerprints. Retention and
// archival belong to the storage collaborator, never to this component.
type Log struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
	index   SimilarityIndex
	cfg     Config
	logger  *zap.Logger
}

// NewLog creates a collective memory with the lexical similarity index.
func NewLog(cfg Config, logger *zap.Logger) *Log {
	if cfg.HalfLifeDays <= 0 {
		cfg = DefaultConfig()
	}
	l := &Log{
		byID:   make(map[string]*Entry),
		cfg:    cfg,
		logger: logger,
	}
	l.index = NewLexicalIndex()
	return l
}

// SetIndex swaps in an alternative similarity index (e.g. the Qdrant-backed
// one). Existing entries are replayed into it.
func (l *Log) SetIndex(ctx context.Context, index SimilarityIndex) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if err := index.Add(ctx, e); err != nil {
			return fmt.Errorf("replay entry %s: %w", e.ID, err)
		}
	}
	l.index = index
	return nil
}

// Record appends one execution outcome. It never fails on a valid non-empty
// fingerprint; an index write failure is logged and the entry stays
// searchable after the next index rebuild.
func (l *Log) Record(ctx context.Context, fp Fingerprint, agentID string, outcome Outcome, confidence float64, learning string) (*Entry, error) {
	if fp.Empty() {
		return nil, fmt.Errorf("record memory: empty fingerprint")
	}

	e := &Entry{
		ID:          uuid.New().String(),
		Fingerprint: fp,
		AgentID:     agentID,
		Outcome:     outcome,
		Confidence:  clamp01(confidence),
		Learning:    learning,
		Timestamp:   time.Now(),
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.byID[e.ID] = e
	index := l.index
	l.mu.Unlock()

	if err := index.Add(ctx, e); err != nil {
		l.logger.Warn("memory index add failed",
			zap.String("entry", e.ID),
			zap.Error(err))
	}
	return e, nil
}

// Restore seeds the log with archived entries at startup, preserving their
// original ids and timestamps.
func (l *Log) Restore(ctx context.Context, entries []*Entry) {
	for _, e := range entries {
		l.mu.Lock()
		if _, ok := l.byID[e.ID]; ok {
			l.mu.Unlock()
			continue
		}
		l.entries = append(l.entries, e)
		l.byID[e.ID] = e
		index := l.index
		l.mu.Unlock()

		if err := index.Add(ctx, e); err != nil {
			l.logger.Warn("memory index restore failed",
				zap.String("entry", e.ID),
				zap.Error(err))
		}
	}
}

// Get returns an entry by id, or nil.
func (l *Log) Get(id string) *Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byID[id]
}

// Len returns the number of recorded entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Scored pairs an entry with its similarity to a query fingerprint.
type Scored struct {
	Entry      *Entry  `json:"entry"`
	Similarity float64 `json:"similarity"`
}

// FindSimilar returns up to topK entries whose fingerprints overlap the query
// at or above minSimilarity. Results rank by similarity first; equal
// similarity breaks on recency-decayed confidence, so a fresh high-confidence
// match outranks a stale one.
func (l *Log) FindSimilar(ctx context.Context, fp Fingerprint, topK int, minSimilarity float64) ([]Scored, error) {
	if topK <= 0 {
		topK = 5
	}

	l.mu.RLock()
	index := l.index
	l.mu.RUnlock()

	scored, err := index.Search(ctx, fp, topK*4)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	now := time.Now()
	filtered := scored[:0]
	for _, s := range scored {
		if s.Similarity >= minSimilarity {
			filtered = append(filtered, s)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		return l.effectiveScore(filtered[i], now) > l.effectiveScore(filtered[j], now)
	})

	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// effectiveScore applies recency-decayed confidence:
// similarity * confidence * 2^(-age_days / half_life).
func (l *Log) effectiveScore(s Scored, now time.Time) float64 {
	ageDays := now.Sub(s.Entry.Timestamp).Hours() / 24
	decay := math.Exp2(-ageDays / l.cfg.HalfLifeDays)
	return s.Similarity * s.Entry.Confidence * decay
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
