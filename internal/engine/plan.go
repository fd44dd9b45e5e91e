package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/planner"
)

// PlanTaskOptions controls one task decomposition request.
type PlanTaskOptions struct {
	Description  string
	Category     string
	MaxFeatures  int
	ParallelSafe bool
	DryRun       bool
}

// PlanTaskReport carries the decomposition outcome back to callers.
type PlanTaskReport struct {
	TaskID       string                `json:"task_id"`
	Features     []model.Feature       `json:"features"`
	UsedFallback bool                  `json:"used_fallback"`
	PlannerRun   []model.CommandResult `json:"planner_run"`
}

// PlanTask decomposes one task description into backlog features and appends
// them to the feature list. Duplicate ids go through the same auto-resolution
// path as manually added features.
func (e *Engine) PlanTask(ctx context.Context, opts PlanTaskOptions) (*PlanTaskReport, error) {
	description := strings.TrimSpace(opts.Description)
	if description == "" {
		return nil, fmt.Errorf("task description is empty")
	}
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return nil, err
	}
	status, err := e.store.LoadStatus()
	if err != nil {
		return nil, err
	}

	category := strings.TrimSpace(opts.Category)
	if category == "" {
		category = "feature"
	}
	maxFeatures := opts.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = policy.PlannerMaxFeaturesPerTask
	}

	taskID := "task-" + uuid.NewString()[:8]
	planned, result, usedFallback := planner.New(policy).PlanTask(ctx, planner.Request{
		TaskID:              taskID,
		Description:         description,
		WorkDir:             e.root,
		MaxFeatures:         maxFeatures,
		DefaultCategory:     category,
		ParallelSafeDefault: opts.ParallelSafe,
		Objective:           status.CurrentObjective,
		DryRun:              opts.DryRun,
	})

	report := &PlanTaskReport{
		TaskID:       taskID,
		Features:     make([]model.Feature, 0, len(planned)),
		UsedFallback: usedFallback,
		PlannerRun:   []model.CommandResult{result},
	}
	for _, feature := range planned {
		added, err := e.AddFeature(feature)
		if err != nil {
			return nil, fmt.Errorf("append planned feature %s: %w", feature.ID, err)
		}
		report.Features = append(report.Features, added)
	}

	if err := e.store.AppendProgress(fmt.Sprintf("Planned task %s into %d features (fallback=%t)", taskID, len(report.Features), usedFallback)); err != nil {
		return nil, err
	}
	log.Printf("[Engine] Task %s planned into %d features (fallback=%t)", taskID, len(report.Features), usedFallback)
	return report, nil
}
