package registry

import (
	"sort"
	"strings"
)

// Candidate is one agent considered for a task, with how well it matched.
type Candidate struct {
	AgentID    string  `json:"agent_id"`
	MatchScore float64 `json:"match_score"`
	TrustLevel float64 `json:"trust_level"`
}

// Match returns candidate agents for a task ordered by match score.
//
// When requiredSkills is non-empty the score is the fraction of required
// skills the agent declares; agents with zero overlap are excluded. When it
// is empty, the task description tokens are compared against each skill's
// trigger keywords by Jaccard similarity and aggregated per agent by max over
// its skills. Ties order by descending trust, then ascending agent id, so the
// result is deterministic for identical state.
func (r *Registry) Match(description string, requiredSkills []string) []Candidate {
	var scores map[string]float64
	if len(requiredSkills) > 0 {
		scores = r.matchRequired(requiredSkills)
	} else {
		scores = r.matchKeywords(description)
	}

	candidates := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		a, err := r.directory.Get(id)
		if err != nil {
			continue
		}
		snap := a.Snapshot()
		if !snap.Active {
			continue
		}
		candidates = append(candidates, Candidate{
			AgentID:    id,
			MatchScore: score,
			TrustLevel: snap.TrustLevel,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].MatchScore != candidates[j].MatchScore {
			return candidates[i].MatchScore > candidates[j].MatchScore
		}
		if candidates[i].TrustLevel != candidates[j].TrustLevel {
			return candidates[i].TrustLevel > candidates[j].TrustLevel
		}
		return candidates[i].AgentID < candidates[j].AgentID
	})
	return candidates
}

// matchRequired scores agents by required-skill coverage.
func (r *Registry) matchRequired(required []string) map[string]float64 {
	overlap := make(map[string]int)
	for _, name := range required {
		rec, err := r.record(name)
		if err != nil {
			continue
		}
		rec.mu.RLock()
		for id := range rec.agentIDs {
			overlap[id]++
		}
		rec.mu.RUnlock()
	}

	scores := make(map[string]float64, len(overlap))
	for id, n := range overlap {
		scores[id] = float64(n) / float64(len(required))
	}
	return scores
}

// matchKeywords scores agents by trigger-keyword overlap with the task
// description, taking each agent's best skill.
func (r *Registry) matchKeywords(description string) map[string]float64 {
	tokens := Tokenize(description)
	if len(tokens) == 0 {
		return nil
	}
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	r.mu.RLock()
	records := make([]*skillRecord, 0, len(r.skills))
	for _, rec := range r.skills {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	scores := make(map[string]float64)
	for _, rec := range records {
		rec.mu.RLock()
		score := jaccard(tokenSet, rec.triggers)
		if score > 0 {
			for id := range rec.agentIDs {
				if score > scores[id] {
					scores[id] = score
				}
			}
		}
		rec.mu.RUnlock()
	}
	return scores
}

// MatchedSkills returns the skills an agent declares whose trigger keywords
// overlap the task description, so usage can be attributed when the task
// named no required skills.
func (r *Registry) MatchedSkills(description, agentID string) []string {
	tokens := Tokenize(description)
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	r.mu.RLock()
	records := make([]*skillRecord, 0, len(r.skills))
	for _, rec := range r.skills {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	var matched []string
	for _, rec := range records {
		rec.mu.RLock()
		_, declared := rec.agentIDs[agentID]
		hit := declared && jaccard(tokenSet, rec.triggers) > 0
		name := rec.name
		rec.mu.RUnlock()
		if hit {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched
}

// jaccard computes |a ∩ b| / |a ∪ b| over two token sets.
func jaccard(a map[string]struct{}, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var overlap int
	for t := range a {
		if _, ok := b[t]; ok {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	union := len(a) + len(b) - overlap
	return float64(overlap) / float64(union)
}

// Tokenize splits text into lowercase word tokens, dropping single chars.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127) // keep unicode chars
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}

// normalizeToken lowercases a trigger keyword for comparison.
func normalizeToken(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
