package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/orchestrator"
)

// IterationOptions controls one single-team iteration.
type IterationOptions struct {
	Commit  bool
	DryRun  bool
	Exclude map[string]bool
}

// RunIteration executes one bootstrap -> gate -> pick -> execute -> record
// cycle for at most one feature.
func (e *Engine) RunIteration(ctx context.Context, opts IterationOptions) (*model.IterationReport, error) {
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

	if !gate.OK {
		status.InProgress = nil
		for _, failure := range gate.Failures {
			status.Blockers = append(status.Blockers, fmt.Sprintf("Iteration %d preflight: %s", iteration, failure))
		}
		status.NextSteps = []string{"Fix preflight blockers and rerun the iteration."}
		status.LastCommandSummary = summaries(preflight, "Preflight failed before running commands.")
		status.LastTestSummary = "Quality gate failed before feature execution."
		if err := e.store.SaveStatus(status); err != nil {
			return nil, err
		}
		if err := e.store.AppendProgress(fmt.Sprintf("Iteration %d blocked by quality gate: %s", iteration, strings.Join(gate.Failures, "; "))); err != nil {
			return nil, err
		}
		return &model.IterationReport{
			IterationNumber: iteration,
			Goal:            "Preflight quality gate",
			Plan: []string{
				"BOOTSTRAP: refresh status, progress tail, and git summary",
				"QUALITY_GATE: required artifacts, stale-state check, smoke test",
				"STOP: gate failed, apply fallback chain",
			},
			Success:        false,
			Result:         "Iteration stopped by quality gate.",
			NextStep:       status.NextSteps[0],
			QualityGateOK:  false,
			BootstrapNotes: notes,
			CommandResults: preflight,
		}, nil
	}

	feature := orchestrator.PickNextFeature(features, opts.Exclude)
	if feature == nil {
		status.InProgress = nil
		status.NextSteps = []string{"No pending features. Add new features to continue."}
		status.LastCommandSummary = summaries(preflight, "No iteration executed: all features already pass.")
		status.LastTestSummary = "Quality gate passed. No pending verification."
		if err := e.store.SaveStatus(status); err != nil {
			return nil, err
		}
		if err := e.store.AppendProgress(fmt.Sprintf("Iteration %d skipped: no pending features", iteration)); err != nil {
			return nil, err
		}
		return &model.IterationReport{
			IterationNumber: iteration,
			Goal:            "No pending features",
			Plan: []string{
				"BOOTSTRAP: refresh status, progress tail, and git summary",
				"QUALITY_GATE: required artifacts and smoke test",
				"No pending feature to execute",
			},
			Success:        true,
			Result:         "All features already pass.",
			NextStep:       "Add new features if more work is needed.",
			QualityGateOK:  true,
			BootstrapNotes: notes,
			CommandResults: preflight,
		}, nil
	}

	plan := append([]string{
		"BOOTSTRAP: refresh status, progress tail, and git summary",
		"QUALITY_GATE: required artifacts and smoke test",
	}, orchestrator.BuildPlan(feature, policy.ZeroAsk)...)
	status.InProgress = []string{fmt.Sprintf("Iteration %d: %s %s", iteration, feature.ID, feature.Description)}

	execution := e.executeFeature(ctx, policy, status.CurrentObjective, iteration, feature, singleTeam, opts.DryRun)
	verificationRan := hasVerifyPhase(execution.CommandResults)
	all := append(append([]model.CommandResult{}, preflight...), execution.CommandResults...)

	var result, testSummary string
	if execution.Success {
		markPassed(features, feature.ID)
		status.Done = append(status.Done, fmt.Sprintf("Iteration %d: completed %s", iteration, feature.ID))
		result = fmt.Sprintf("Feature %s completed successfully.", feature.ID)
		if verificationRan {
			testSummary = "Quality gate and verification passed."
		} else {
			testSummary = "Quality gate passed; no verification command configured."
		}
	} else {
		status.Blockers = append(status.Blockers, fmt.Sprintf("Iteration %d %s: %s", iteration, feature.ID, execution.Message))
		result = fmt.Sprintf("Feature %s failed. Blocker recorded.", feature.ID)
		if verificationRan {
			testSummary = "Quality gate passed; verification failed."
		} else {
			testSummary = "Quality gate passed; implementation failed before verification."
		}
	}

	status.InProgress = nil
	status.LastCommandSummary = summaries(all, "No commands were configured for this feature.")
	status.LastTestSummary = testSummary

	if next := orchestrator.PickNextFeature(features, opts.Exclude); next != nil {
		status.NextSteps = []string{fmt.Sprintf("Run next feature: %s - %s", next.ID, next.Description)}
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
	if execution.Success {
		outcome = "passed"
	}
	if err := e.store.AppendProgress(fmt.Sprintf("Iteration %d %s on %s", iteration, outcome, feature.ID)); err != nil {
		return nil, err
	}

	if opts.Commit && !opts.DryRun {
		e.attemptGitCommit(ctx, []string{feature.ID}, execution.Success, iteration)
	}

	return &model.IterationReport{
		IterationNumber: iteration,
		Goal:            "Deliver feature " + feature.ID,
		Plan:            plan,
		FeatureID:       feature.ID,
		Success:         execution.Success,
		Result:          result,
		NextStep:        status.NextSteps[0],
		QualityGateOK:   true,
		BootstrapNotes:  notes,
		CommandResults:  all,
	}, nil
}

func summaries(results []model.CommandResult, fallback string) []string {
	if len(results) == 0 {
		return []string{fallback}
	}
	lines := make([]string, 0, len(results))
	for i := range results {
		lines = append(lines, results[i].Summary())
	}
	return lines
}

func hasVerifyPhase(results []model.CommandResult) bool {
	for _, r := range results {
		if strings.HasPrefix(r.Phase, "verify") {
			return true
		}
	}
	return false
}

func markPassed(features []model.Feature, id string) {
	for i := range features {
		if features[i].ID == id {
			features[i].Passes = true
			return
		}
	}
}
