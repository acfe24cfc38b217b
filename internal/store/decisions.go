package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/hivemind/internal/engine"
)

// SaveDecision inserts a routing decision at dispatch time. Re-running the
// same task id is an upsert so the engine's internal retry stays idempotent.
func (s *Store) SaveDecision(ctx context.Context, d *engine.RoutingDecision) error {
	task, _ := json.Marshal(d.Task)
	candidates, _ := json.Marshal(d.Candidates)

	_, err := s.db.Exec(ctx, `
		INSERT INTO routing_decisions (task_id, task, state, candidates, chosen_agent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE SET
			state = EXCLUDED.state,
			candidates = EXCLUDED.candidates,
			chosen_agent_id = EXCLUDED.chosen_agent_id`,
		d.TaskID, task, string(d.State), candidates, d.ChosenAgentID, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.TaskID, err)
	}
	return nil
}

// FinalizeDecision writes the terminal state and outcome exactly once per
// task id; repeating the write leaves the row unchanged.
func (s *Store) FinalizeDecision(ctx context.Context, d *engine.RoutingDecision) error {
	outcome, _ := json.Marshal(d.Outcome)

	_, err := s.db.Exec(ctx, `
		UPDATE routing_decisions
		SET state = $1, outcome = $2, completed_at = $3
		WHERE task_id = $4`,
		string(d.State), outcome, d.CompletedAt, d.TaskID,
	)
	if err != nil {
		return fmt.Errorf("finalize decision %s: %w", d.TaskID, err)
	}
	return nil
}

// ListDecisions returns persisted decisions, most recent first, optionally
// filtered by chosen agent.
func (s *Store) ListDecisions(ctx context.Context, agentID string, limit int) ([]*engine.RoutingDecision, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT task_id, task, state, candidates, chosen_agent_id, outcome, created_at, completed_at
		FROM routing_decisions
		WHERE ($1 = '' OR chosen_agent_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*engine.RoutingDecision
	for rows.Next() {
		d := &engine.RoutingDecision{}
		var task, candidates, outcome []byte
		var state string
		if err := rows.Scan(&d.TaskID, &task, &state, &candidates, &d.ChosenAgentID, &outcome, &d.CreatedAt, &d.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.State = engine.TaskState(state)
		_ = json.Unmarshal(task, &d.Task)
		_ = json.Unmarshal(candidates, &d.Candidates)
		if len(outcome) > 0 && string(outcome) != "null" {
			d.Outcome = &engine.TaskOutcome{}
			_ = json.Unmarshal(outcome, d.Outcome)
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}
