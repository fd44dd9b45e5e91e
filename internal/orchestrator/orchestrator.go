package orchestrator

import (
	"sort"

	"github.com/cexll/autoloop/internal/model"
)

// PickNextFeature returns the pending feature with the smallest (priority, id)
// pair, skipping excluded ids. Returns nil when nothing is pending. Pure: the
// input slice is never mutated.
func PickNextFeature(features []model.Feature, excluded map[string]bool) *model.Feature {
	candidates := PickNextFeatures(features, 1, excluded)
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// PickNextFeatures returns up to count pending features ordered by
// (priority, id) ascending, skipping excluded ids.
func PickNextFeatures(features []model.Feature, count int, excluded map[string]bool) []model.Feature {
	pending := make([]model.Feature, 0, len(features))
	for _, f := range features {
		if f.Passes || excluded[f.ID] {
			continue
		}
		pending = append(pending, f)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority < pending[j].Priority
		}
		return pending[i].ID < pending[j].ID
	})
	if count < len(pending) {
		pending = pending[:count]
	}
	return pending
}

// BuildPlan renders the human-readable plan lines for one feature iteration.
func BuildPlan(feature *model.Feature, zeroAsk bool) []string {
	plan := []string{
		"PLAN: choose feature " + feature.ID + " (" + feature.Description + ")",
		"IMPLEMENT: delegate implementation work to the coding backend",
		"RUN: delegate verification command to the verification backend",
		"OBSERVE: inspect command exit codes and output",
		"FIX: capture blockers when failures occur",
		"NEXT: queue next pending feature by priority",
	}
	if zeroAsk {
		plan = append(plan, "POLICY: zero-ask enabled, use fallback chain instead of interactive questions")
	}
	return plan
}
