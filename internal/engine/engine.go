package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/graph"
	"github.com/nidhogg/hivemind/internal/memory"
	"github.com/nidhogg/hivemind/internal/registry"
	"go.uber.org/zap"
)

var (
	// ErrNoCandidate is returned when no agent matches a task's skills.
	// Non-retryable by the core; the caller decides what happens next.
	ErrNoCandidate = errors.New("no candidate agent")
	// ErrUnknownTask is returned when a task id has no open decision.
	ErrUnknownTask = errors.New("unknown task")
)

// Persister receives routing decisions and memory entries for durable
// storage. Implementations must be idempotent per task id since finalization
// is retried on failure.
type Persister interface {
	SaveDecision(ctx context.Context, d *RoutingDecision) error
	FinalizeDecision(ctx context.Context, d *RoutingDecision) error
	SaveMemoryEntry(ctx context.Context, e *memory.Entry) error
}

// EventPublisher receives routing lifecycle events for external monitors.
type EventPublisher interface {
	Publish(ctx context.Context, event string, d *RoutingDecision) error
}

// Config controls scoring and learning behavior. All values are external
// configuration, never hardwired at call sites.
type Config struct {
	Weights               Weights `json:"weights"`
	LearningRate          float64 `json:"learning_rate"`            // connector update rate (default 0.1)
	MinPatternOccurrences int     `json:"min_pattern_occurrences"`  // memory prior floor (default 3)
	HistoryLimit          int     `json:"history_limit"`            // retained decisions (default 1000)
}

// DefaultConfig returns the stock engine configuration.
func DefaultConfig() Config {
	return Config{
		Weights:               DefaultWeights(),
		LearningRate:          0.1,
		MinPatternOccurrences: 3,
		HistoryLimit:          1000,
	}
}

// Engine routes tasks to agents and feeds outcomes back into the skill
// registry, connector graph and collective memory. Routing itself only reads
// shared state, so any number of Route calls run in parallel; the
// outcome-recording path serializes per affected entity inside each store.
type Engine struct {
	directory *agent.Directory
	registry  *registry.Registry
	graph     *graph.Graph
	memory    *memory.Log
	persister Persister
	events    EventPublisher
	cfg       Config
	logger    *zap.Logger

	mu      sync.RWMutex
	open    map[string]*RoutingDecision
	history []*RoutingDecision
}

// New creates a routing engine over the three leaf stores. persister and
// events may be nil for in-memory-only operation.
func New(directory *agent.Directory, reg *registry.Registry, g *graph.Graph, mem *memory.Log, cfg Config, logger *zap.Logger) *Engine {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Engine{
		directory: directory,
		registry:  reg,
		graph:     g,
		memory:    mem,
		cfg:       cfg,
		logger:    logger,
		open:      make(map[string]*RoutingDecision),
	}
}

// SetPersister attaches durable decision storage.
func (e *Engine) SetPersister(p Persister) { e.persister = p }

// SetEventPublisher attaches a lifecycle event sink.
func (e *Engine) SetEventPublisher(p EventPublisher) { e.events = p }

// Route selects the best agent for a task and records a routing decision.
// The decision stays open until ReportOutcome or CancelTask closes it.
func (e *Engine) Route(ctx context.Context, task Task) (*RoutingDecision, error) {
	candidates := e.registry.Match(task.Description, task.RequiredSkills)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("route task: %w", ErrNoCandidate)
	}

	scored := e.scoreCandidates(task, candidates)
	if len(scored) == 0 {
		return nil, fmt.Errorf("route task: %w", ErrNoCandidate)
	}

	d := &RoutingDecision{
		TaskID:    uuid.New().String(),
		Task:      task,
		State:     StateReceived,
		CreatedAt: time.Now(),
	}
	d.Candidates = scored
	d.ChosenAgentID = scored[0].AgentID
	d.State = StateScored

	e.mu.Lock()
	d.State = StateDispatched
	e.open[d.TaskID] = d
	e.history = append(e.history, d)
	if len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit:]
	}
	snap := *d
	e.mu.Unlock()

	e.persist(ctx, &snap, false)
	e.publish(ctx, "routed", &snap)

	e.logger.Info("task routed",
		zap.String("task", snap.TaskID),
		zap.String("agent", snap.ChosenAgentID),
		zap.Strings("candidates", snap.CandidateIDs()),
		zap.Float64("score", scored[0].Score))
	return &snap, nil
}

// ReportOutcome closes an open decision with the execution result and feeds
// the outcome into all three leaf stores. A reported failure is a valid
// terminal state, never an error of this call.
func (e *Engine) ReportOutcome(ctx context.Context, taskID string, success bool, confidence float64, learning string) error {
	now := time.Now()
	outcome := &TaskOutcome{
		Success:    success,
		Confidence: confidence,
		Learning:   learning,
		ReportedAt: now,
	}
	d, err := e.closeDecision(taskID, func(d *RoutingDecision) {
		d.Outcome = outcome
		d.CompletedAt = &now
		if success {
			d.State = StateCompleted
		} else {
			d.State = StateCompletedFailed
		}
	})
	if err != nil {
		return err
	}

	e.recordSkillUsage(&d, success)
	e.recordConnectorOutcome(&d, success)

	if err := e.directory.RecordResult(d.ChosenAgentID, success, e.cfg.LearningRate); err != nil {
		e.logger.Warn("agent stat update failed",
			zap.String("agent", d.ChosenAgentID), zap.Error(err))
	}

	e.recordMemory(ctx, &d)
	e.persist(ctx, &d, true)
	e.publish(ctx, "completed", &d)

	e.logger.Info("task outcome recorded",
		zap.String("task", taskID),
		zap.Bool("success", success),
		zap.Float64("confidence", confidence))
	return nil
}

// CancelTask closes an open decision as cancelled. The cancellation is a
// distinct terminal outcome: usage counters still move so statistics stay
// consistent, but no trust or strength update fires since the agent never
// got to finish.
func (e *Engine) CancelTask(ctx context.Context, taskID string) error {
	now := time.Now()
	d, err := e.closeDecision(taskID, func(d *RoutingDecision) {
		d.Outcome = &TaskOutcome{Cancelled: true, ReportedAt: now}
		d.CompletedAt = &now
		d.State = StateCancelled
	})
	if err != nil {
		return err
	}

	e.recordSkillUsage(&d, false)
	e.recordMemory(ctx, &d)
	e.persist(ctx, &d, true)
	e.publish(ctx, "cancelled", &d)

	e.logger.Info("task cancelled", zap.String("task", taskID))
	return nil
}

// RoutingHistory returns retained decisions, most recent first, optionally
// filtered by chosen agent. Entries are copies taken under the engine lock;
// callers never see a decision mid-finalization and cannot mutate the retained
// records.
func (e *Engine) RoutingHistory(agentID string, limit int) []*RoutingDecision {
	if limit <= 0 {
		limit = 50
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*RoutingDecision, 0, limit)
	for i := len(e.history) - 1; i >= 0 && len(out) < limit; i-- {
		d := e.history[i]
		if agentID != "" && d.ChosenAgentID != agentID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// OpenCount returns the number of dispatched-but-unreported tasks.
func (e *Engine) OpenCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.open)
}

// GraphSnapshot exposes the connector graph for introspection.
func (e *Engine) GraphSnapshot() []graph.Connector {
	return e.graph.Snapshot()
}

// closeDecision removes an open decision exactly once and applies the
// terminal mutation while still holding the engine lock, so history readers
// never observe a half-finalized record. The returned copy shares the
// candidates slice and outcome pointer; both are immutable once published.
func (e *Engine) closeDecision(taskID string, finalize func(*RoutingDecision)) (RoutingDecision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.open[taskID]
	if !ok {
		return RoutingDecision{}, fmt.Errorf("task %s: %w", taskID, ErrUnknownTask)
	}
	delete(e.open, taskID)
	finalize(d)
	return *d, nil
}

// recordSkillUsage attributes usage to the task's required skills, or to the
// chosen agent's keyword-matched skills when none were required.
func (e *Engine) recordSkillUsage(d *RoutingDecision, success bool) {
	skills := d.Task.RequiredSkills
	if len(skills) == 0 {
		skills = e.registry.MatchedSkills(d.Task.Description, d.ChosenAgentID)
	}
	for _, name := range skills {
		if err := e.registry.RecordUsage(name, success); err != nil {
			e.logger.Warn("skill usage update failed",
				zap.String("skill", name), zap.Error(err))
		}
	}
}

// recordConnectorOutcome updates the delegation edge from the task's parent
// context. A first successful delegation creates the edge implicitly.
func (e *Engine) recordConnectorOutcome(d *RoutingDecision, success bool) {
	parent := d.Task.ParentContext
	if parent == "" || parent == d.ChosenAgentID {
		return
	}
	if success && !e.graph.Has(parent, d.ChosenAgentID) {
		e.graph.Upsert(parent, d.ChosenAgentID, graph.KindParent)
	}
	e.graph.RecordOutcome(parent, d.ChosenAgentID, success, e.cfg.LearningRate)
}

// recordMemory appends the outcome to collective memory and archives it.
func (e *Engine) recordMemory(ctx context.Context, d *RoutingDecision) {
	fp := memory.NewFingerprint(d.Task.Description, e.taskCategory(d.Task))
	if fp.Empty() {
		return
	}

	outcome := memory.OutcomeFailure
	switch {
	case d.Outcome.Cancelled:
		outcome = memory.OutcomeCancelled
	case d.Outcome.Success:
		outcome = memory.OutcomeSuccess
	}

	entry, err := e.memory.Record(ctx, fp, d.ChosenAgentID, outcome, d.Outcome.Confidence, d.Outcome.Learning)
	if err != nil {
		e.logger.Warn("memory record failed", zap.String("task", d.TaskID), zap.Error(err))
		return
	}
	if e.persister != nil {
		if err := e.persister.SaveMemoryEntry(ctx, entry); err != nil {
			e.logger.Warn("memory archive failed", zap.String("entry", entry.ID), zap.Error(err))
		}
	}
}

// persist writes the decision durably, retrying once. Persistence failures
// never surface to the caller; the in-memory record stays authoritative.
func (e *Engine) persist(ctx context.Context, d *RoutingDecision, final bool) {
	if e.persister == nil {
		return
	}
	write := e.persister.SaveDecision
	if final {
		write = e.persister.FinalizeDecision
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = write(ctx, d); err == nil {
			return
		}
	}
	e.logger.Warn("decision persistence failed",
		zap.String("task", d.TaskID),
		zap.Bool("final", final),
		zap.Error(err))
}

func (e *Engine) publish(ctx context.Context, event string, d *RoutingDecision) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event, d); err != nil {
		e.logger.Debug("event publish failed",
			zap.String("event", event),
			zap.String("task", d.TaskID),
			zap.Error(err))
	}
}
