package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/nidhogg/hivemind/internal/agent"
	"github.com/nidhogg/hivemind/internal/graph"
	"github.com/nidhogg/hivemind/internal/memory"
	"github.com/nidhogg/hivemind/internal/registry"
	"go.uber.org/zap"
)

type fixture struct {
	directory *agent.Directory
	registry  *registry.Registry
	graph     *graph.Graph
	memory    *memory.Log
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	directory := agent.NewDirectory(logger)
	reg := registry.NewRegistry(directory, logger)
	g := graph.New(logger)
	mem := memory.NewLog(memory.DefaultConfig(), logger)
	return &fixture{
		directory: directory,
		registry:  reg,
		graph:     g,
		memory:    mem,
		engine:    New(directory, reg, g, mem, DefaultConfig(), logger),
	}
}

// seedReviewers registers two code_review agents with very different trust.
func (f *fixture) seedReviewers(t *testing.T) {
	t.Helper()
	f.registry.RegisterSkill("code_review", "engineering", []string{"review"})
	f.directory.Register("agent-a", agent.KindWorker)
	f.directory.Register("agent-b", agent.KindWorker)
	f.registry.AttachAgent("code_review", "agent-a")
	f.registry.AttachAgent("code_review", "agent-b")

	// Push agent-a up and agent-b down via recorded results.
	for i := 0; i < 20; i++ {
		f.directory.RecordResult("agent-a", true, 0.2)
		f.directory.RecordResult("agent-b", false, 0.2)
	}
}

func TestRoutePrefersHigherTrust(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)

	d, err := f.engine.Route(context.Background(), Task{
		Description:    "review the auth changes",
		RequiredSkills: []string{"code_review"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.ChosenAgentID != "agent-a" {
		t.Errorf("chosen agent = %s, want agent-a", d.ChosenAgentID)
	}
	if d.State != StateDispatched {
		t.Errorf("state = %s, want dispatched", d.State)
	}
	if len(d.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(d.Candidates))
	}
	if d.Candidates[0].Score <= d.Candidates[1].Score {
		t.Errorf("scores %v, %v not descending", d.Candidates[0].Score, d.Candidates[1].Score)
	}
	for _, key := range []string{"skill", "trust", "success", "connector"} {
		if _, ok := d.Candidates[0].Breakdown[key]; !ok {
			t.Errorf("breakdown missing %q factor", key)
		}
	}
	ids := d.CandidateIDs()
	if len(ids) != 2 || ids[0] != "agent-a" || ids[1] != "agent-b" {
		t.Errorf("candidate ids = %v, want [agent-a agent-b] in score order", ids)
	}
}

func TestRouteNoCandidate(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)

	_, err := f.engine.Route(context.Background(), Task{
		Description:    "deploy to production",
		RequiredSkills: []string{"quantum_deploy"},
	})
	if !errors.Is(err, ErrNoCandidate) {
		t.Errorf("route error = %v, want ErrNoCandidate", err)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)

	task := Task{Description: "review the auth changes", RequiredSkills: []string{"code_review"}}

	first, err := f.engine.Route(context.Background(), task)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	// Same state must produce the same choice and candidate order. Closing
	// without success keeps the stores unchanged enough only if nothing is
	// reported, so route again while the first is still open.
	for i := 0; i < 5; i++ {
		d, err := f.engine.Route(context.Background(), task)
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		if d.ChosenAgentID != first.ChosenAgentID {
			t.Fatalf("route %d chose %s, first chose %s", i, d.ChosenAgentID, first.ChosenAgentID)
		}
		for j := range d.Candidates {
			if d.Candidates[j].AgentID != first.Candidates[j].AgentID {
				t.Fatalf("route %d candidate order differs at %d", i, j)
			}
		}
	}
}

func TestReportOutcomeRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	ctx := context.Background()

	d, err := f.engine.Route(ctx, Task{
		Description:    "review the auth changes",
		RequiredSkills: []string{"code_review"},
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if err := f.engine.ReportOutcome(ctx, d.TaskID, true, 0.85, "auth review needs threat model"); err != nil {
		t.Fatalf("report outcome: %v", err)
	}
	if f.engine.OpenCount() != 0 {
		t.Errorf("open count = %d, want 0", f.engine.OpenCount())
	}

	history := f.engine.RoutingHistory("", 10)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	got := history[0]
	if got.State != StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.Outcome == nil || !got.Outcome.Success || got.Outcome.Confidence != 0.85 {
		t.Errorf("outcome = %+v, want success at 0.85", got.Outcome)
	}
	if got.Outcome.Learning != "auth review needs threat model" {
		t.Errorf("learning = %q, want the reported learning", got.Outcome.Learning)
	}

	// The outcome must have landed in collective memory and skill stats.
	if f.memory.Len() != 1 {
		t.Errorf("memory entries = %d, want 1", f.memory.Len())
	}
	s, _ := f.registry.Get("code_review")
	if s.UsageCount != 1 || s.SuccessCount != 1 {
		t.Errorf("skill usage = %d/%d, want 1/1", s.SuccessCount, s.UsageCount)
	}
}

func TestReportOutcomeUnknownTask(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ReportOutcome(context.Background(), "nope", true, 1, ""); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("report error = %v, want ErrUnknownTask", err)
	}
}

func TestReportOutcomeClosesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	ctx := context.Background()

	d, _ := f.engine.Route(ctx, Task{RequiredSkills: []string{"code_review"}, Description: "review"})
	if err := f.engine.ReportOutcome(ctx, d.TaskID, true, 1, ""); err != nil {
		t.Fatalf("first report: %v", err)
	}
	if err := f.engine.ReportOutcome(ctx, d.TaskID, false, 1, ""); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("second report error = %v, want ErrUnknownTask", err)
	}
}

func TestCancelIsDistinctTerminalState(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	ctx := context.Background()

	d, _ := f.engine.Route(ctx, Task{RequiredSkills: []string{"code_review"}, Description: "review"})

	a, _ := f.directory.Get(d.ChosenAgentID)
	trustBefore := a.Snapshot().TrustLevel

	if err := f.engine.CancelTask(ctx, d.TaskID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	history := f.engine.RoutingHistory("", 1)
	if history[0].State != StateCancelled {
		t.Errorf("state = %s, want cancelled", history[0].State)
	}
	if history[0].Outcome == nil || !history[0].Outcome.Cancelled {
		t.Errorf("outcome = %+v, want cancelled", history[0].Outcome)
	}
	// Cancellation moves usage counters but never trust.
	if got := a.Snapshot().TrustLevel; got != trustBefore {
		t.Errorf("trust = %v, want unchanged %v", got, trustBefore)
	}
	s, _ := f.registry.Get("code_review")
	if s.UsageCount != 1 || s.SuccessCount != 0 {
		t.Errorf("skill usage = %d/%d, want 0/1", s.SuccessCount, s.UsageCount)
	}
}

func TestSuccessCreatesConnectorImplicitly(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	f.directory.Register("root", agent.KindRoot)
	ctx := context.Background()

	d, err := f.engine.Route(ctx, Task{
		Description:    "review the auth changes",
		RequiredSkills: []string{"code_review"},
		ParentContext:  "root",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if f.graph.Has("root", d.ChosenAgentID) {
		t.Fatal("connector should not exist before the outcome")
	}

	if err := f.engine.ReportOutcome(ctx, d.TaskID, true, 0.9, ""); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !f.graph.Has("root", d.ChosenAgentID) {
		t.Fatal("successful delegation should create the connector")
	}
	if s := f.graph.StrengthOf("root", d.ChosenAgentID); s <= 0.5 {
		t.Errorf("connector strength = %v, want above neutral after success", s)
	}
}

func TestFailureWithoutConnectorDoesNotCreateOne(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	f.directory.Register("root", agent.KindRoot)
	ctx := context.Background()

	d, _ := f.engine.Route(ctx, Task{
		Description:    "review",
		RequiredSkills: []string{"code_review"},
		ParentContext:  "root",
	})
	f.engine.ReportOutcome(ctx, d.TaskID, false, 0.2, "")
	if f.graph.Has("root", d.ChosenAgentID) {
		t.Error("failed first delegation should not create a connector")
	}
}

func TestConnectorStrengthInfluencesScore(t *testing.T) {
	f := newFixture(t)
	f.registry.RegisterSkill("code_review", "engineering", nil)
	f.directory.Register("root", agent.KindRoot)
	f.directory.Register("agent-a", agent.KindWorker)
	f.directory.Register("agent-b", agent.KindWorker)
	f.registry.AttachAgent("code_review", "agent-a")
	f.registry.AttachAgent("code_review", "agent-b")

	// Equal trust and match; a strong proven edge must decide it.
	f.graph.Upsert("root", "agent-b", graph.KindParent)
	for i := 0; i < 10; i++ {
		f.graph.RecordOutcome("root", "agent-b", true, 0.3)
	}

	d, err := f.engine.Route(context.Background(), Task{
		Description:    "review",
		RequiredSkills: []string{"code_review"},
		ParentContext:  "root",
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.ChosenAgentID != "agent-b" {
		t.Errorf("chosen agent = %s, want agent-b with the proven connector", d.ChosenAgentID)
	}
}

func TestRoutingHistoryFilterByAgent(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, _ := f.engine.Route(ctx, Task{RequiredSkills: []string{"code_review"}, Description: "review"})
		f.engine.ReportOutcome(ctx, d.TaskID, true, 0.9, "")
	}

	all := f.engine.RoutingHistory("", 10)
	if len(all) != 3 {
		t.Fatalf("history length = %d, want 3", len(all))
	}
	none := f.engine.RoutingHistory("agent-nobody", 10)
	if len(none) != 0 {
		t.Errorf("filtered history length = %d, want 0", len(none))
	}
	if !all[0].CreatedAt.After(all[2].CreatedAt) && !all[0].CreatedAt.Equal(all[2].CreatedAt) {
		t.Error("history not ordered most recent first")
	}
}

func TestDecisionsAreSnapshots(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	ctx := context.Background()

	d, err := f.engine.Route(ctx, Task{RequiredSkills: []string{"code_review"}, Description: "review"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if err := f.engine.ReportOutcome(ctx, d.TaskID, true, 0.9, ""); err != nil {
		t.Fatalf("report: %v", err)
	}

	// The decision returned by Route is a copy; finalization must not reach
	// back into it.
	if d.State != StateDispatched {
		t.Errorf("routed copy state = %s, want dispatched", d.State)
	}
	if d.Outcome != nil || d.CompletedAt != nil {
		t.Errorf("routed copy outcome = %+v at %v, want untouched", d.Outcome, d.CompletedAt)
	}

	history := f.engine.RoutingHistory("", 1)
	if history[0].State != StateCompleted {
		t.Fatalf("history state = %s, want completed", history[0].State)
	}

	// History entries are copies too; mutating one must not alter the record.
	history[0].ChosenAgentID = "intruder"
	history[0].State = StateCancelled
	again := f.engine.RoutingHistory("", 1)
	if again[0].ChosenAgentID == "intruder" || again[0].State != StateCompleted {
		t.Errorf("retained record = %+v, want unaffected by caller mutation", again[0])
	}
}

func TestHistoryNeverShowsHalfFinalizedDecisions(t *testing.T) {
	f := newFixture(t)
	f.seedReviewers(t)
	ctx := context.Background()

	const tasks = 20
	ids := make([]string, 0, tasks)
	for i := 0; i < tasks; i++ {
		d, err := f.engine.Route(ctx, Task{RequiredSkills: []string{"code_review"}, Description: "review"})
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
		ids = append(ids, d.TaskID)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, id := range ids {
			f.engine.ReportOutcome(ctx, id, true, 0.9, "")
		}
	}()

	// A finalized entry must carry its outcome atomically with the terminal
	// state, no matter when the read lands.
	for {
		for _, d := range f.engine.RoutingHistory("", tasks) {
			switch d.State {
			case StateCompleted, StateCompletedFailed, StateCancelled:
				if d.Outcome == nil || d.CompletedAt == nil {
					t.Fatalf("terminal decision %s has outcome=%v completedAt=%v", d.TaskID, d.Outcome, d.CompletedAt)
				}
			case StateDispatched:
				if d.Outcome != nil {
					t.Fatalf("open decision %s already carries an outcome", d.TaskID)
				}
			}
		}
		select {
		case <-done:
			if f.engine.OpenCount() != 0 {
				t.Fatalf("open count = %d, want 0", f.engine.OpenCount())
			}
			return
		default:
		}
	}
}
