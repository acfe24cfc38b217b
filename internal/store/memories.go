package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/hivemind/internal/memory"
)

// SaveMemoryEntry archives one collective-memory entry. Entries are
// append-only and keyed by id, so a retried write is a no-op.
func (s *Store) SaveMemoryEntry(ctx context.Context, e *memory.Entry) error {
	fp, _ := json.Marshal(e.Fingerprint)

	_, err := s.db.Exec(ctx, `
		INSERT INTO memory_entries (id, fingerprint, agent_id, outcome, confidence, learning, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, fp, e.AgentID, string(e.Outcome), e.Confidence, e.Learning, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save memory entry %s: %w", e.ID, err)
	}
	return nil
}

// LoadMemoryEntries reads archived entries oldest first, used to warm the
// collective memory at startup.
func (s *Store) LoadMemoryEntries(ctx context.Context, limit int) ([]*memory.Entry, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, fingerprint, agent_id, outcome, confidence, learning, recorded_at
		FROM memory_entries
		ORDER BY recorded_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load memory entries: %w", err)
	}
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		e := &memory.Entry{}
		var fp []byte
		var outcome string
		if err := rows.Scan(&e.ID, &fp, &e.AgentID, &outcome, &e.Confidence, &e.Learning, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.Outcome = memory.Outcome(outcome)
		_ = json.Unmarshal(fp, &e.Fingerprint)
		entries = append(entries, e)
	}
	return entries, nil
}
