package engine

import (
	"context"
	"log"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/guard"
	"github.com/cexll/autoloop/internal/model"
)

const singleTeam = "single"

// executeFeature drives exactly one feature through the implementation
// backend and, on success, the verification backend, applying retry-once and
// the post-hoc guards. Backend failures never surface as errors; they become
// failing CommandResults inside the returned TeamExecutionResult.
func (e *Engine) executeFeature(ctx context.Context, policy model.AgentPolicy, objective string, iteration int, feature *model.Feature, teamID string, dryRun bool) model.TeamExecutionResult {
	if teamID == "" {
		teamID = singleTeam
	}
	prefix := ""
	if teamID != singleTeam {
		prefix = teamID + ":"
	}

	if !feature.Runnable() {
		return model.TeamExecutionResult{
			TeamID:         teamID,
			FeatureID:      feature.ID,
			Success:        false,
			Message:        prefix + "feature has no implementation_commands and no verification_command",
			CommandResults: []model.CommandResult{},
		}
	}

	e.registry.Begin(teamID, feature.ID, model.PhaseImplement)
	defer e.registry.End(teamID)

	impl := selectBackend(policy, feature, e.runner)
	agentBacked := impl.Name() == model.BackendAgent

	var before *guard.WorkspaceSnapshot
	if agentBacked && !dryRun {
		before = snapshotWorkspace(e.root)
	}

	implResults := impl.Implement(ctx, backend.Request{
		Feature:   *feature,
		WorkDir:   e.root,
		DryRun:    dryRun,
		Objective: objective,
		TeamID:    teamID,
		Iteration: iteration,
	})
	if verdict, vacuous := guard.CheckNoOp(implResults); vacuous {
		log.Printf("[Engine] No-op guard tripped for feature %s", feature.ID)
		implResults = append(implResults, verdict)
	}
	implOK := allPassed(implResults)

	var verifyResults []model.CommandResult
	if implOK {
		e.registry.Update(teamID, model.PhaseVerify)
		verifier := backend.NewVerifier(e.runner, policy.RetryFailedCommandsOnce)
		verifyResults = verifier.Verify(ctx, feature, e.root, dryRun)
	}

	if agentBacked && !dryRun && implOK {
		after := snapshotWorkspace(e.root)
		if verdict, unchanged := guard.CheckWorkspaceChange(before, after, len(verifyResults) > 0); unchanged {
			log.Printf("[Engine] Workspace guard tripped for feature %s", feature.ID)
			implResults = append(implResults, verdict)
		}
	}

	all := append(append([]model.CommandResult{}, implResults...), verifyResults...)
	success := allPassed(all)

	message := prefix + "feature " + feature.ID + " completed"
	if !success {
		failureText := "feature execution failed with unknown reason."
		if failure := firstFailure(all); failure != nil {
			failureText = failure.Summary()
		}
		if blocker := policy.DetectHardBlocker(failureText); blocker != "" {
			failureText += " | hard_blocker=" + blocker
		}
		message = prefix + failureText
	}

	return model.TeamExecutionResult{
		TeamID:         teamID,
		FeatureID:      feature.ID,
		Success:        success,
		Message:        message,
		CommandResults: all,
	}
}

// allPassed evaluates overall success. A failed attempt is superseded when
// the immediately following result retries the same command and succeeds;
// the retry result stands in place of the first.
func allPassed(results []model.CommandResult) bool {
	for i := range results {
		if results[i].ExitCode == 0 {
			continue
		}
		if i+1 < len(results) && supersededByRetry(results[i], results[i+1]) {
			continue
		}
		return false
	}
	return true
}

func firstFailure(results []model.CommandResult) *model.CommandResult {
	for i := range results {
		if results[i].ExitCode == 0 {
			continue
		}
		if i+1 < len(results) && supersededByRetry(results[i], results[i+1]) {
			continue
		}
		return &results[i]
	}
	return nil
}

func supersededByRetry(failed, next model.CommandResult) bool {
	if next.ExitCode != 0 || next.Command != failed.Command {
		return false
	}
	switch next.Phase {
	case model.PhaseImplementRetry, model.PhaseAgentRetry, model.PhaseVerifyRetry:
		return true
	}
	return false
}
