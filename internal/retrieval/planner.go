package retrieval

import (
	"context"
	"sort"
	"strings"
)

// IntentKind classifies whether an intent can be satisfied from metadata
// alone or needs retrieval.
type IntentKind string

const (
	IntentLookup IntentKind = "lookup"
	IntentQuery  IntentKind = "query"
)

// Candidate is one packet the planner can select, named and scored by
// metadata-only features.
type Candidate struct {
	Ref          string
	Name         string
	Kind         string
	Entrypoints  []string
	Capabilities []string
}

// PlanResult is plan_from_intent's deterministic output.
type PlanResult struct {
	Intent    IntentKind
	Selected  string
	Fallbacks []string
}

type scoredCandidate struct {
	ref   string
	score float64
}

// PlanFromIntent scores candidates by name-hint and metadata-feature
// matching against intent, breaking ties among indistinguishable top
// scores by running one probe query per tied candidate (only when needed).
// Given identical inputs, output is byte-identical across invocations.
func (e *Engine) PlanFromIntent(ctx context.Context, intent string, candidates []Candidate, probeQuery string, probeK int) (PlanResult, error) {
	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = scoredCandidate{ref: c.Ref, score: metadataScore(intent, c)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].ref < scored[j].ref
	})
	if len(scored) == 0 {
		return PlanResult{Intent: IntentLookup}, nil
	}

	top := scored[0].score
	var tied []scoredCandidate
	for _, s := range scored {
		if s.score == top {
			tied = append(tied, s)
		}
	}

	fallbacks := make([]string, 0, len(scored)-1)
	for _, s := range scored[1:] {
		fallbacks = append(fallbacks, s.ref)
	}

	if len(tied) <= 1 || probeQuery == "" {
		kind := IntentLookup
		if top < lookupSufficiencyThreshold {
			kind = IntentQuery
		}
		return PlanResult{Intent: kind, Selected: scored[0].ref, Fallbacks: fallbacks}, nil
	}

	bestRef := tied[0].ref
	bestScore := float32(-2)
	for _, s := range tied {
		result, err := e.Query(ctx, s.ref, probeQuery, probeK)
		if err != nil {
			continue
		}
		if len(result.Results) > 0 && result.Results[0].Score > bestScore {
			bestScore = result.Results[0].Score
			bestRef = s.ref
		}
	}

	rebuiltFallbacks := make([]string, 0, len(scored)-1)
	for _, s := range scored {
		if s.ref != bestRef {
			rebuiltFallbacks = append(rebuiltFallbacks, s.ref)
		}
	}
	return PlanResult{Intent: IntentQuery, Selected: bestRef, Fallbacks: rebuiltFallbacks}, nil
}

// lookupSufficiencyThreshold is the metadata-score floor above which an
// intent is classified lookup (metadata-sufficient) rather than query
// (retrieval-needed).
const lookupSufficiencyThreshold = 0.5

func metadataScore(intent string, c Candidate) float64 {
	padded := " " + strings.Join(strings.Fields(strings.ToLower(intent)), " ") + " "
	matches := func(term string) bool {
		t := strings.TrimSpace(strings.ToLower(term))
		return t != "" && strings.Contains(padded, " "+t+" ")
	}
	score := 0.0
	if matches(c.Name) {
		score += 0.5
	}
	if matches(c.Kind) {
		score += 0.2
	}
	for _, ep := range c.Entrypoints {
		if matches(ep) {
			score += 0.2
			break
		}
	}
	for _, cap := range c.Capabilities {
		if matches(cap) {
			score += 0.1
			break
		}
	}
	return score
}
