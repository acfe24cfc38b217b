package memory

import (
	"sort"
	"strings"
)

// Fingerprint is the normalized token/category signature of a task
// description, used for similarity comparison instead of the raw text.
type Fingerprint struct {
	Tokens   []string `json:"tokens"` // sorted, deduplicated, lowercase
	Category string   `json:"category"`
}

// NewFingerprint normalizes a task description into a fingerprint.
func NewFingerprint(description, category string) Fingerprint {
	tokens := tokenize(description)
	seen := make(map[string]struct{}, len(tokens))
	uniq := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			uniq = append(uniq, t)
		}
	}
	sort.Strings(uniq)
	return Fingerprint{Tokens: uniq, Category: category}
}

// FingerprintFromTokens builds a fingerprint from pre-tokenized terms.
func FingerprintFromTokens(tokens []string, category string) Fingerprint {
	return NewFingerprint(strings.Join(tokens, " "), category)
}

// Empty reports whether the fingerprint carries no signal at all.
func (f Fingerprint) Empty() bool {
	return len(f.Tokens) == 0 && f.Category == ""
}

// Text renders the fingerprint tokens as a single string, used as the
// embedding input for the vector index.
func (f Fingerprint) Text() string {
	return strings.Join(f.Tokens, " ")
}

// Similarity computes Jaccard overlap between two fingerprints' token sets.
// A shared category adds a small fixed bonus so same-domain tasks with
// disjoint wording still register. The result stays within [0,1].
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	set := make(map[string]struct{}, len(f.Tokens))
	for _, t := range f.Tokens {
		set[t] = struct{}{}
	}

	var overlap int
	for _, t := range other.Tokens {
		if _, ok := set[t]; ok {
			overlap++
		}
	}

	var sim float64
	union := len(f.Tokens) + len(other.Tokens) - overlap
	if union > 0 {
		sim = float64(overlap) / float64(union)
	}

	if f.Category != "" && f.Category == other.Category {
		sim += 0.1
		if sim > 1.0 {
			sim = 1.0
		}
	}
	return sim
}

// tokenize splits text into lowercase word tokens, dropping single chars.
func tokenize(text string) []string {
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
