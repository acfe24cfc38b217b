package engine

import (
	"sort"

	"github.com/nidhogg/hivemind/internal/registry"
)

// Weights are the scoring factor weights. The four base weights should sum
// to 1.0; Memory is extra headroom on top when the prior is enabled.
type Weights struct {
	Skill     float64 `json:"skill"`
	Trust     float64 `json:"trust"`
	Success   float64 `json:"success"`
	Connector float64 `json:"connector"`

	// Memory blends the collective-memory success prior into the score.
	// Disabled by default to keep scoring deterministic and explainable.
	MemoryEnabled   bool    `json:"memory_enabled"`
	Memory          float64 `json:"memory"`           // 0-0.1
	MemoryThreshold float64 `json:"memory_threshold"` // min category success rate
}

// DefaultWeights returns the stock scoring configuration.
func DefaultWeights() Weights {
	return Weights{
		Skill:           0.4,
		Trust:           0.25,
		Success:         0.25,
		Connector:       0.10,
		Memory:          0.05,
		MemoryThreshold: 0.7,
	}
}

// scoreCandidates computes composite scores for every candidate and returns
// them ordered by score, then trust, then agent id. The ordering has no
// random component so identical state always yields identical ranking.
func (e *Engine) scoreCandidates(task Task, candidates []registry.Candidate) []CandidateScore {
	w := e.cfg.Weights
	category := e.taskCategory(task)

	scored := make([]CandidateScore, 0, len(candidates))
	for _, c := range candidates {
		a, err := e.directory.Get(c.AgentID)
		if err != nil {
			continue
		}
		snap := a.Snapshot()

		breakdown := map[string]float64{
			"skill":     w.Skill * c.MatchScore,
			"trust":     w.Trust * snap.TrustLevel,
			"success":   w.Success * snap.SuccessRate,
			"connector": 0,
		}
		if task.ParentContext != "" {
			breakdown["connector"] = w.Connector * e.graph.StrengthOf(task.ParentContext, c.AgentID)
		}

		if w.MemoryEnabled && category != "" {
			if rate, ok := e.memory.AgentSuccessRate(c.AgentID, category, e.cfg.MinPatternOccurrences); ok && rate > w.MemoryThreshold {
				breakdown["memory"] = w.Memory * rate
			}
		}

		var total float64
		for _, v := range breakdown {
			total += v
		}
		scored = append(scored, CandidateScore{
			AgentID:    c.AgentID,
			Score:      total,
			TrustLevel: snap.TrustLevel,
			Breakdown:  breakdown,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].TrustLevel != scored[j].TrustLevel {
			return scored[i].TrustLevel > scored[j].TrustLevel
		}
		return scored[i].AgentID < scored[j].AgentID
	})
	return scored
}

// taskCategory resolves the coarse category used for memory fingerprints:
// the task's own category, else the category of its first required skill.
func (e *Engine) taskCategory(task Task) string {
	if task.Category != "" {
		return task.Category
	}
	for _, name := range task.RequiredSkills {
		if cat := e.registry.Category(name); cat != "" {
			return cat
		}
	}
	return ""
}
