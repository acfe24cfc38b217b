package engine

import "time"

// TaskState tracks a routed task through its lifecycle. Completed,
// CompletedFailed and Cancelled are terminal; the engine never retries
// internally — callers resubmit as a new task if they want another attempt.
type TaskState string

const (
	StateReceived        TaskState = "received"
	StateScored          TaskState = "scored"
	StateDispatched      TaskState = "dispatched"
	StateCompleted       TaskState = "completed"
	StateCompletedFailed TaskState = "completed_failed"
	StateCancelled       TaskState = "cancelled"
)

// Task is one inbound unit of work to route.
type Task struct {
	Description    string   `json:"description"`
	RequiredSkills []string `json:"required_skills,omitempty"`
	Priority       int      `json:"priority"`
	Category       string   `json:"category,omitempty"`
	// ParentContext is the agent that originated the task; "" means none and
	// zeroes the connector contribution.
	ParentContext string `json:"parent_context,omitempty"`
}

// CandidateScore is one agent's composite score with its per-factor
// contributions, kept for explainability.
type CandidateScore struct {
	AgentID    string             `json:"agent_id"`
	Score      float64            `json:"score"`
	TrustLevel float64            `json:"trust_level"`
	Breakdown  map[string]float64 `json:"score_breakdown"`
}

// TaskOutcome is the reported result of an external execution.
type TaskOutcome struct {
	Success    bool      `json:"success"`
	Cancelled  bool      `json:"cancelled"`
	Confidence float64   `json:"confidence"`
	Learning   string    `json:"learning,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// RoutingDecision is the audit record of one routing event. It is created at
// dispatch time and finalized exactly once when the outcome is known.
type RoutingDecision struct {
	TaskID        string           `json:"task_id"`
	Task          Task             `json:"task"`
	State         TaskState        `json:"state"`
	Candidates    []CandidateScore `json:"candidates"` // ordered by score
	ChosenAgentID string           `json:"chosen_agent_id"`
	Outcome       *TaskOutcome     `json:"outcome,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// CandidateIDs returns the candidate agent ids in score order.
func (d *RoutingDecision) CandidateIDs() []string {
	ids := make([]string, len(d.Candidates))
	for i, c := range d.Candidates {
		ids[i] = c.AgentID
	}
	return ids
}
