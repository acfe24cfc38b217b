package memory

// Pattern aggregates historical outcomes for one fingerprint category.
type Pattern struct {
	Category    string  `json:"category"`
	Occurrences int     `json:"occurrences"`
	SuccessRate float64 `json:"success_rate"`
}

// SuccessPatterns aggregates entries by fingerprint category and returns the
// success rate for every category seen at least minOccurrences times.
// Cancelled entries count as occurrences but not successes. The routing
// engine uses this as a prior when no exact skill match exists.
func (l *Log) SuccessPatterns(minOccurrences int) map[string]Pattern {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}

	type bucket struct {
		total   int
		success int
	}

	l.mu.RLock()
	buckets := make(map[string]*bucket)
	for _, e := range l.entries {
		cat := e.Fingerprint.Category
		if cat == "" {
			continue
		}
		b, ok := buckets[cat]
		if !ok {
			b = &bucket{}
			buckets[cat] = b
		}
		b.total++
		if e.Outcome == OutcomeSuccess {
			b.success++
		}
	}
	l.mu.RUnlock()

	patterns := make(map[string]Pattern)
	for cat, b := range buckets {
		if b.total < minOccurrences {
			continue
		}
		patterns[cat] = Pattern{
			Category:    cat,
			Occurrences: b.total,
			SuccessRate: float64(b.success) / float64(b.total),
		}
	}
	return patterns
}

// AgentSuccessRate returns one agent's historical success rate within a
// category, and whether enough history exists to trust it.
func (l *Log) AgentSuccessRate(agentID, category string, minOccurrences int) (float64, bool) {
	if minOccurrences <= 0 {
		minOccurrences = 3
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var total, success int
	for _, e := range l.entries {
		if e.AgentID != agentID || e.Fingerprint.Category != category {
			continue
		}
		total++
		if e.Outcome == OutcomeSuccess {
			success++
		}
	}
	if total < minOccurrences {
		return 0, false
	}
	return float64(success) / float64(total), true
}
