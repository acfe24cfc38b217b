package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/hivemind/internal/agent"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateSkill is returned when registering a name that exists.
	ErrDuplicateSkill = errors.New("skill already registered")
	// ErrUnknownSkill is returned when a skill name does not resolve.
	ErrUnknownSkill = errors.New("unknown skill")
)

// Skill is a named capability agents can declare. AgentIDs always mirrors the
// set of agents whose skill set contains this name; both sides are mutated
// together under the skill lock.
type Skill struct {
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	TriggerKeywords []string  `json:"trigger_keywords"`
	AgentIDs        []string  `json:"agent_ids"`
	UsageCount      int64     `json:"usage_count"`
	SuccessCount    int64     `json:"success_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// skillRecord is the internal mutable form of a Skill with its own lock.
type skillRecord struct {
	mu           sync.RWMutex
	name         string
	category     string
	triggers     map[string]struct{}
	agentIDs     map[string]struct{}
	usageCount   int64
	successCount int64
	createdAt    time.Time
}

func (r *skillRecord) snapshot() Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Skill{
		Name:         r.name,
		Category:     r.category,
		UsageCount:   r.usageCount,
		SuccessCount: r.successCount,
		CreatedAt:    r.createdAt,
	}
	for t := range r.triggers {
		s.TriggerKeywords = append(s.TriggerKeywords, t)
	}
	for id := range r.agentIDs {
		s.AgentIDs = append(s.AgentIDs, id)
	}
	sort.Strings(s.TriggerKeywords)
	sort.Strings(s.AgentIDs)
	return s
}

// Registry maps capability names to the agents declaring them. The skill map
// is guarded by mu; counters and membership changes take the per-skill lock.
type Registry struct {
	mu        sync.RWMutex
	skills    map[string]*skillRecord
	directory *agent.Directory
	logger    *zap.Logger
}

// NewRegistry creates a registry backed by the given agent directory.
func NewRegistry(directory *agent.Directory, logger *zap.Logger) *Registry {
	return &Registry{
		skills:    make(map[string]*skillRecord),
		directory: directory,
		logger:    logger,
	}
}

// RegisterSkill adds a capability to the pool.
func (r *Registry) RegisterSkill(name, category string, triggers []string) (Skill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skills[name]; ok {
		return Skill{}, fmt.Errorf("register skill %s: %w", name, ErrDuplicateSkill)
	}

	rec := &skillRecord{
		name:      name,
		category:  category,
		triggers:  make(map[string]struct{}, len(triggers)),
		agentIDs:  make(map[string]struct{}),
		createdAt: time.Now(),
	}
	for _, t := range triggers {
		rec.triggers[normalizeToken(t)] = struct{}{}
	}
	r.skills[name] = rec

	r.logger.Info("skill registered",
		zap.String("skill", name),
		zap.String("category", category),
		zap.Int("triggers", len(triggers)))
	return rec.snapshot(), nil
}

// Get returns a snapshot of a skill.
func (r *Registry) Get(name string) (Skill, error) {
	rec, err := r.record(name)
	if err != nil {
		return Skill{}, err
	}
	return rec.snapshot(), nil
}

// List returns snapshots of all skills ordered by name.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	out := make([]Skill, 0, len(r.skills))
	for _, rec := range r.skills {
		out = append(out, rec.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AttachAgent declares that an agent provides a skill. Both sides of the
// membership mutate under the skill lock, so interleaved attach/detach calls
// on the same pair cannot leave the two sides disagreeing.
func (r *Registry) AttachAgent(skillName, agentID string) error {
	rec, err := r.record(skillName)
	if err != nil {
		return err
	}
	a, err := r.directory.Get(agentID)
	if err != nil {
		return fmt.Errorf("attach %s to %s: %w", agentID, skillName, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.agentIDs[agentID] = struct{}{}
	a.AddSkill(skillName)
	return nil
}

// DetachAgent removes an agent from a skill, mutating both sides under the
// skill lock like AttachAgent.
func (r *Registry) DetachAgent(skillName, agentID string) error {
	rec, err := r.record(skillName)
	if err != nil {
		return err
	}
	a, err := r.directory.Get(agentID)
	if err != nil {
		return fmt.Errorf("detach %s from %s: %w", agentID, skillName, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	delete(rec.agentIDs, agentID)
	a.RemoveSkill(skillName)
	return nil
}

// RecordUsage folds one real usage into the skill's counters. Each call is
// one usage; there is nothing to dedup.
func (r *Registry) RecordUsage(skillName string, success bool) error {
	rec, err := r.record(skillName)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	rec.usageCount++
	if success {
		rec.successCount++
	}
	rec.mu.Unlock()
	return nil
}

// Category returns the category of a skill, or "" when unknown.
func (r *Registry) Category(skillName string) string {
	rec, err := r.record(skillName)
	if err != nil {
		return ""
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.category
}

func (r *Registry) record(name string) (*skillRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("skill %s: %w", name, ErrUnknownSkill)
	}
	return rec, nil
}
