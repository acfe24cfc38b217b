package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Result is what an external executor reports back for one task.
type Result struct {
	Success    bool
	Confidence float64
	Learning   string
}

// Executor runs a routed task on the chosen agent. Execution is the
// collaborator's concern; the engine only needs the eventual result. The
// call should honor ctx cancellation — it is the one long-running suspension
// point in the whole pipeline.
type Executor interface {
	Execute(ctx context.Context, agentID string, task Task) (Result, error)
}

// Dispatcher couples routing with a bounded execution pool and automatic
// outcome reporting. Callers that manage execution themselves can skip it
// and drive Route/ReportOutcome directly.
type Dispatcher struct {
	engine   *Engine
	executor Executor
	pool     chan struct{} // semaphore-based pool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher with at most poolSize concurrent
// executions.
func NewDispatcher(engine *Engine, executor Executor, poolSize int, logger *zap.Logger) *Dispatcher {
	if poolSize <= 0 {
		poolSize = 10
	}
	return &Dispatcher{
		engine:   engine,
		executor: executor,
		pool:     make(chan struct{}, poolSize),
		logger:   logger,
	}
}

// Submit routes the task and starts execution in the background. The
// returned decision is already dispatched; its outcome arrives via the
// engine once the executor finishes. Cancelling ctx before completion
// records a cancelled terminal outcome instead of dropping the task.
func (d *Dispatcher) Submit(ctx context.Context, task Task) (*RoutingDecision, error) {
	decision, err := d.engine.Route(ctx, task)
	if err != nil {
		return nil, err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.pool <- struct{}{}: // acquire slot
		case <-ctx.Done():
			d.cancel(decision.TaskID)
			return
		}
		defer func() { <-d.pool }() // release slot

		result, execErr := d.executor.Execute(ctx, decision.ChosenAgentID, task)
		switch {
		case errors.Is(execErr, context.Canceled):
			d.cancel(decision.TaskID)
		case execErr != nil:
			// Executor errors are failed executions, not engine errors.
			d.report(decision.TaskID, Result{Success: false})
		default:
			d.report(decision.TaskID, result)
		}
	}()

	return decision, nil
}

// Wait blocks until every submitted task has reported its outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) report(taskID string, r Result) {
	// Outcome writes use a fresh context: the task's own context may already
	// be done, and a cancelled dispatch must still record its terminal state.
	if err := d.engine.ReportOutcome(context.Background(), taskID, r.Success, r.Confidence, r.Learning); err != nil {
		d.logger.Warn("outcome report failed", zap.String("task", taskID), zap.Error(err))
	}
}

func (d *Dispatcher) cancel(taskID string) {
	if err := d.engine.CancelTask(context.Background(), taskID); err != nil {
		d.logger.Warn("cancel failed", zap.String("task", taskID), zap.Error(err))
	}
}
