package domain

import "sort"

// Select resolves exactly one flow from an already-filtered candidate set.
// Candidates are ordered by ranking score descending with ties broken by the
// most recently updated flow. Flows with a ranking score of zero or below are
// never returned, even when they are the only candidate.
func Select(candidates []Flow) (*Flow, error) {
	eligible := make([]Flow, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Active() {
			eligible = append(eligible, candidate)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoFlowAvailable
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].RankingScore != eligible[j].RankingScore {
			return eligible[i].RankingScore > eligible[j].RankingScore
		}
		return eligible[i].UpdatedAt.After(eligible[j].UpdatedAt)
	})

	selected := eligible[0]
	return &selected, nil
}
