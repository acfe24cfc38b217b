package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrUnknownAgent is returned when an agent id does not resolve.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrDuplicateAgent is returned when registering an id that already exists.
	ErrDuplicateAgent = errors.New("agent already registered")
)

// Directory holds every registered agent. The outer map is guarded by mu;
// stat updates take the per-agent lock so concurrent outcomes on different
// agents never contend.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	logger *zap.Logger
}

// NewDirectory creates an empty agent directory.
func NewDirectory(logger *zap.Logger) *Directory {
	return &Directory{
		agents: make(map[string]*Agent),
		logger: logger,
	}
}

// Register creates an agent with kind-specific initial trust.
func (d *Directory) Register(id string, kind Kind) (*Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.agents[id]; ok {
		return nil, fmt.Errorf("register agent %s: %w", id, ErrDuplicateAgent)
	}

	now := time.Now()
	a := &Agent{
		ID:         id,
		Kind:       kind,
		TrustLevel: initialTrust(kind),
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
		skills:     make(map[string]struct{}),
	}
	d.agents[id] = a

	d.logger.Info("agent registered",
		zap.String("agent", id),
		zap.String("kind", string(kind)))
	return a, nil
}

// Deactivate soft-deletes an agent. The record stays resolvable so live
// connectors and history keep a valid reference.
func (d *Directory) Deactivate(id string) error {
	a, err := d.Get(id)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.Active = false
	a.UpdatedAt = time.Now()
	a.mu.Unlock()

	d.logger.Info("agent deactivated", zap.String("agent", id))
	return nil
}

// Get returns an agent by id.
func (d *Directory) Get(id string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrUnknownAgent)
	}
	return a, nil
}

// List returns snapshots of all agents ordered by id.
func (d *Directory) List() []Agent {
	d.mu.RLock()
	out := make([]Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a.Snapshot())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordResult folds one task outcome into the agent's stats. The success
// rate is an exponential moving average; trust moves toward 1.0 on success
// and 0.2 on failure at half the rate, so it shifts more conservatively.
func (d *Directory) RecordResult(id string, success bool, rate float64) error {
	a, err := d.Get(id)
	if err != nil {
		return err
	}

	outcome := 0.0
	target := 0.2
	if success {
		outcome = 1.0
		target = 1.0
	}

	a.mu.Lock()
	a.TaskCount++
	a.SuccessRate = clamp01(a.SuccessRate + rate*(outcome-a.SuccessRate))
	a.TrustLevel = clamp01(a.TrustLevel + (rate/2)*(target-a.TrustLevel))
	a.UpdatedAt = time.Now()
	a.mu.Unlock()
	return nil
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
