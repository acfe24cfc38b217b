package agent

import (
	"sync"
	"time"
)

// Kind categorizes how an agent participates in routing.
type Kind string

const (
	KindRoot       Kind = "root"
	KindSpecialist Kind = "specialist"
	KindWorker     Kind = "worker"
)

// Agent is a registered execution unit. Skill membership is owned by the
// registry; the fields here are mutated only through Directory methods so the
// per-agent lock always covers them.
type Agent struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	TrustLevel  float64   `json:"trust_level"`  // 0-1
	SuccessRate float64   `json:"success_rate"` // 0-1, exponential moving average
	TaskCount   int64     `json:"task_count"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	skills map[string]struct{}
	mu     sync.RWMutex
}

// initialTrust returns the starting trust level for a kind. Root agents are
// bootstrapped with full trust since they originate work rather than compete
// for it.
func initialTrust(kind Kind) float64 {
	switch kind {
	case KindRoot:
		return 1.0
	case KindSpecialist:
		return 0.6
	default:
		return 0.5
	}
}

// Snapshot returns a copy of the agent safe to hand out across goroutines.
func (a *Agent) Snapshot() Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Agent{
		ID:          a.ID,
		Kind:        a.Kind,
		TrustLevel:  a.TrustLevel,
		SuccessRate: a.SuccessRate,
		TaskCount:   a.TaskCount,
		Active:      a.Active,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// Skills returns the agent's declared skill names.
func (a *Agent) Skills() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.skills))
	for s := range a.skills {
		out = append(out, s)
	}
	return out
}

// HasSkill reports whether the agent declares the given skill.
func (a *Agent) HasSkill(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.skills[name]
	return ok
}

// AddSkill records a declared skill. Called by the skill registry, which owns
// the bidirectional membership invariant.
func (a *Agent) AddSkill(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.skills[name] = struct{}{}
	a.UpdatedAt = time.Now()
}

// RemoveSkill drops a declared skill. Called by the skill registry.
func (a *Agent) RemoveSkill(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.skills, name)
	a.UpdatedAt = time.Now()
}
