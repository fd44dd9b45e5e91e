package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/orchestrator"
)

// ParallelOptions controls one multi-team round.
type ParallelOptions struct {
	TeamCount   int
	MaxFeatures int
	Commit      bool
	DryRun      bool
	ForceUnsafe bool
	Exclude     map[string]bool
}

// RunParallelIteration executes up to MaxFeatures pending features
// concurrently across TeamCount team slots. Features that are not marked
// parallel-safe are skipped, not attempted, unless ForceUnsafe bypasses the
// policy's safety requirement. Results are re-sorted by (team_id, feature_id)
// before any status mutation so the final observable state is independent of
// completion order.
func (e *Engine) RunParallelIteration(ctx context.Context, opts ParallelOptions) (*model.ParallelIterationReport, error) {
	status, err := e.store.LoadStatus()
	if err != nil {
		return nil, err
	}
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return nil, err
	}
	features, err := e.store.LoadFeatures()
	if err != nil {
		return nil, err
	}
	notes, bootstrapResults, err := e.bootstrapSession(ctx, opts.DryRun)
	if err != nil {
		return nil, err
	}
	gate, err := e.RunQualityGate(ctx, opts.DryRun, nil)
	if err != nil {
		return nil, err
	}
	preflight := append(append([]model.CommandResult{}, bootstrapResults...), gate.CommandResults...)

	status.Iteration++
	iteration := status.Iteration

	fail := func(blocker, result, nextStep, testSummary string, gateOK bool, skipped []string) (*model.ParallelIterationReport, error) {
		status.InProgress = nil
		if blocker != "" {
			status.Blockers = append(status.Blockers, blocker)
		}
		status.NextSteps = []string{nextStep}
		status.LastCommandSummary = summaries(preflight, "Preflight completed without commands.")
		status.LastTestSummary = testSummary
		if err := e.store.SaveStatus(status); err != nil {
			return nil, err
		}
		if err := e.store.AppendProgress(fmt.Sprintf("Iteration %d parallel blocked: %s", iteration, result)); err != nil {
			return nil, err
		}
		return &model.ParallelIterationReport{
			IterationNumber:  iteration,
			SkippedUnsafeIDs: skipped,
			Success:          false,
			Result:           result,
			NextStep:         nextStep,
			QualityGateOK:    gateOK,
			BootstrapNotes:   notes,
			TeamResults:      []model.TeamExecutionResult{},
			CommandResults:   preflight,
		}, nil
	}

	if !policy.EnableParallelTeams {
		return fail(
			fmt.Sprintf("Iteration %d parallel: policy disabled parallel teams", iteration),
			"Parallel mode disabled by policy.",
			"Enable parallel mode in policy or run a single iteration.",
			"Parallel iteration blocked by policy.",
			gate.OK, nil,
		)
	}

	if !gate.OK {
		for _, failure := range gate.Failures {
			status.Blockers = append(status.Blockers, fmt.Sprintf("Iteration %d preflight: %s", iteration, failure))
		}
		return fail(
			"",
			"Parallel iteration stopped by quality gate.",
			"Fix preflight blockers and rerun the parallel iteration.",
			"Quality gate failed before parallel execution.",
			false, nil,
		)
	}

	teamCount := policy.ResolveTeamCount(opts.TeamCount)
	maxFeatures := policy.ResolveMaxFeatures(opts.MaxFeatures)

	candidates := orchestrator.PickNextFeatures(features, maxFeatures, opts.Exclude)
	if len(candidates) == 0 {
		status.InProgress = nil
		status.NextSteps = []string{"No pending features. Add new features to continue."}
		status.LastCommandSummary = summaries(preflight, "No parallel work executed: all features already pass.")
		status.LastTestSummary = "Quality gate passed. No pending verification."
		if err := e.store.SaveStatus(status); err != nil {
			return nil, err
		}
		if err := e.store.AppendProgress(fmt.Sprintf("Iteration %d parallel skipped: no pending features", iteration)); err != nil {
			return nil, err
		}
		return &model.ParallelIterationReport{
			IterationNumber: iteration,
			TeamCount:       teamCount,
			Success:         true,
			Result:          "All features already pass.",
			NextStep:        "Add new features if more work is needed.",
			QualityGateOK:   true,
			BootstrapNotes:  notes,
			TeamResults:     []model.TeamExecutionResult{},
			CommandResults:  preflight,
		}, nil
	}

	var selected []model.Feature
	var skippedUnsafe []string
	for _, candidate := range candidates {
		if policy.RequireParallelSafeFlag && !opts.ForceUnsafe && !candidate.ParallelSafe {
			skippedUnsafe = append(skippedUnsafe, candidate.ID)
			continue
		}
		selected = append(selected, candidate)
	}

	if len(selected) == 0 {
		candidateIDs := make([]string, 0, len(candidates))
		for _, c := range candidates {
			candidateIDs = append(candidateIDs, c.ID)
		}
		report, err := fail(
			fmt.Sprintf("Iteration %d parallel: no selected features are parallel_safe (candidates=%s)", iteration, strings.Join(candidateIDs, ",")),
			"No parallel-safe features available for parallel execution.",
			"Mark target features with parallel_safe=true or use force-unsafe / single iteration mode.",
			"Parallel iteration blocked by safety policy.",
			true, skippedUnsafe,
		)
		if report != nil {
			report.TeamCount = teamCount
		}
		return report, err
	}

	status.InProgress = []string{fmt.Sprintf("Iteration %d: parallel teams running %d features with %d teams", iteration, len(selected), teamCount)}

	// Bounded pool; the round joins before any shared state is touched.
	teamResults := make([]model.TeamExecutionResult, len(selected))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(teamCount)
	for index := range selected {
		index := index
		feature := selected[index]
		teamID := fmt.Sprintf("team-%d", index%teamCount+1)
		group.Go(func() error {
			teamResults[index] = e.executeFeature(groupCtx, policy, status.CurrentObjective, iteration, &feature, teamID, opts.DryRun)
			return nil
		})
	}
	// Workers only report failures through their TeamExecutionResult.
	_ = group.Wait()

	sort.SliceStable(teamResults, func(i, j int) bool {
		oi, oj := teamOrdinal(teamResults[i].TeamID), teamOrdinal(teamResults[j].TeamID)
		if oi != oj {
			return oi < oj
		}
		if teamResults[i].TeamID != teamResults[j].TeamID {
			return teamResults[i].TeamID < teamResults[j].TeamID
		}
		return teamResults[i].FeatureID < teamResults[j].FeatureID
	})

	for _, item := range teamResults {
		if item.Success {
			markPassed(features, item.FeatureID)
			status.Done = append(status.Done, fmt.Sprintf("Iteration %d: %s completed %s", iteration, item.TeamID, item.FeatureID))
		} else {
			status.Blockers = append(status.Blockers, fmt.Sprintf("Iteration %d %s %s: %s", iteration, item.TeamID, item.FeatureID, item.Message))
		}
	}
	if len(skippedUnsafe) > 0 {
		status.Blockers = append(status.Blockers, fmt.Sprintf("Iteration %d parallel skipped non-parallel-safe features: %s", iteration, strings.Join(skippedUnsafe, ", ")))
	}

	all := append([]model.CommandResult{}, preflight...)
	selectedIDs := make([]string, 0, len(teamResults))
	for _, item := range teamResults {
		all = append(all, item.CommandResults...)
		selectedIDs = append(selectedIDs, item.FeatureID)
	}

	success := len(skippedUnsafe) == 0
	for _, item := range teamResults {
		if !item.Success {
			success = false
			break
		}
	}

	status.InProgress = nil
	status.LastCommandSummary = summaries(all, "No commands were configured for selected parallel features.")
	if success {
		status.LastTestSummary = "Quality gate and parallel team verification passed."
	} else {
		status.LastTestSummary = "Quality gate passed; one or more parallel team executions failed or were skipped."
	}

	if next := orchestrator.PickNextFeature(features, opts.Exclude); next != nil {
		status.NextSteps = []string{fmt.Sprintf("Next pending feature: %s - %s", next.ID, next.Description)}
	} else {
		status.NextSteps = []string{"All listed features now pass."}
	}

	if err := e.store.SaveFeatures(features); err != nil {
		return nil, err
	}
	if err := e.store.SaveStatus(status); err != nil {
		return nil, err
	}
	outcome := "failed"
	if success {
		outcome = "passed"
	}
	if err := e.store.AppendProgress(fmt.Sprintf("Iteration %d parallel %s features=%s", iteration, outcome, strings.Join(selectedIDs, ","))); err != nil {
		return nil, err
	}

	if opts.Commit && !opts.DryRun {
		e.attemptGitCommit(ctx, selectedIDs, success, iteration)
	}

	return &model.ParallelIterationReport{
		IterationNumber:    iteration,
		TeamCount:          teamCount,
		SelectedFeatureIDs: selectedIDs,
		SkippedUnsafeIDs:   skippedUnsafe,
		Success:            success,
		Result:             parallelResultText(success),
		NextStep:           status.NextSteps[0],
		QualityGateOK:      true,
		BootstrapNotes:     notes,
		TeamResults:        teamResults,
		CommandResults:     all,
	}, nil
}

// teamOrdinal orders team ids numerically so team-10 sorts after team-2.
func teamOrdinal(teamID string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(teamID, "team-"))
	if err != nil {
		return 0
	}
	return n
}

func parallelResultText(success bool) string {
	if success {
		return "Parallel iteration completed successfully."
	}
	return "Parallel iteration completed with failures or safety skips."
}
