package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/cexll/autoloop/internal/model"
)

// Project loop execution modes.
const (
	ModeSingle   = "single"
	ModeParallel = "parallel"
)

// ProjectLoopOptions controls a whole project run.
type ProjectLoopOptions struct {
	Mode        string
	MaxEpochs   int
	TeamCount   int
	MaxFeatures int
	ForceUnsafe bool
	Commit      bool
	DryRun      bool
}

// RunProjectLoop repeats iterations as epochs until the stop evaluator says
// to stop. One epoch attempts every feature pending at its start at most
// once; a sub-iteration failure never prevents the rest of the epoch's
// features from being attempted, while a quality-gate failure aborts the
// current epoch only.
func (e *Engine) RunProjectLoop(ctx context.Context, opts ProjectLoopOptions) (*model.ProjectRunReport, error) {
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return nil, err
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeSingle
	}
	maxEpochs := opts.MaxEpochs
	if maxEpochs <= 0 {
		maxEpochs = policy.MaxIterationsPerRun
	}
	if maxEpochs < 1 {
		maxEpochs = 1
	}

	report := &model.ProjectRunReport{
		EpochReports:  []model.EpochReport{},
		HandoffEvents: []model.HandoffEvent{},
	}
	noProgress := 0
	lastPassed, _, err := e.passCounts()
	if err != nil {
		return nil, err
	}
	validationRan := false
	validationOK := false

	for epoch := 1; epoch <= maxEpochs; epoch++ {
		// Policy is refreshed per epoch; settings updates take effect on the
		// next epoch boundary.
		policy, err = e.store.LoadPolicy()
		if err != nil {
			return nil, err
		}

		epochReport, err := e.runEpoch(ctx, epoch, mode, opts)
		if err != nil {
			return nil, err
		}
		report.EpochReports = append(report.EpochReports, *epochReport)
		report.Epochs = epoch

		passed, total, err := e.passCounts()
		if err != nil {
			return nil, err
		}
		epochReport.PassedCount = passed
		epochReport.TotalCount = total
		report.EpochReports[len(report.EpochReports)-1] = *epochReport
		report.FinalPassed = passed
		report.TotalFeatures = total

		// A gate-aborted epoch cannot raise the pass count, so it counts
		// toward stagnation like any other non-advancing epoch.
		if passed > lastPassed {
			noProgress = 0
		} else {
			noProgress++
		}
		lastPassed = passed

		if reason, triggered := ShouldHandoff(policy, epoch, noProgress, e.store.ContextSize()); triggered {
			event, handoffErr := e.performHandoff(epoch, reason)
			if handoffErr != nil {
				return nil, handoffErr
			}
			report.HandoffEvents = append(report.HandoffEvents, event)
			// A handoff forgives one no-progress unit so the next epoch gets a
			// clean-slate attempt window. Once the stagnation threshold is
			// reached the stop must not be masked, so no forgiveness applies.
			if noProgress > 0 && (policy.MaxNoProgressIterations <= 0 || noProgress < policy.MaxNoProgressIterations) {
				noProgress--
			}
		}

		state := RunState{
			EpochsExecuted:   epoch,
			MaxEpochs:        maxEpochs,
			Passed:           passed,
			Total:            total,
			NoProgressEpochs: noProgress,
			LastEpochSuccess: epochReport.Success,
			LastGateOK:       epochReport.QualityGateOK,
			ValidationRan:    validationRan,
			ValidationOK:     validationOK,
		}
		decision := EvaluateStop(policy, state)

		if decision.Reason == model.StopAwaitingValidation {
			validationRan = true
			validationOK, report.ValidationNote = e.runValidation(ctx, policy, opts.DryRun)
			state.ValidationRan = true
			state.ValidationOK = validationOK
			decision = EvaluateStop(policy, state)
		}

		log.Printf("[Engine] Epoch %d/%d done: passed=%d/%d, decision=%s", epoch, maxEpochs, passed, total, decision.Reason)

		if decision.ShouldStop {
			report.Success = decision.Success
			report.StopReason = decision.Reason
			if err := e.store.AppendProgress(fmt.Sprintf("Project loop stopped after epoch %d: %s", epoch, decision.Reason)); err != nil {
				return nil, err
			}
			return report, nil
		}
	}

	// Defensive: the max-epochs rule stops the loop inside the final pass.
	report.StopReason = model.StopMaxIterations
	return report, nil
}

// runEpoch attempts every feature pending at the epoch start at most once.
func (e *Engine) runEpoch(ctx context.Context, epoch int, mode string, opts ProjectLoopOptions) (*model.EpochReport, error) {
	features, err := e.store.LoadFeatures()
	if err != nil {
		return nil, err
	}
	pendingAtStart := make(map[string]bool)
	for _, f := range features {
		if !f.Passes {
			pendingAtStart[f.ID] = true
		}
	}

	epochReport := &model.EpochReport{
		Epoch:         epoch,
		Mode:          mode,
		AttemptedIDs:  []string{},
		SkippedIDs:    []string{},
		Success:       true,
		QualityGateOK: true,
	}
	attempted := make(map[string]bool)

	// The exclusion set grows as sub-iterations consume candidates; the bound
	// on rounds makes a stuck selection impossible to loop forever on.
	for round := 0; round < len(pendingAtStart)+1; round++ {
		if mode == ModeParallel {
			subReport, err := e.RunParallelIteration(ctx, ParallelOptions{
				TeamCount:   opts.TeamCount,
				MaxFeatures: opts.MaxFeatures,
				Commit:      opts.Commit,
				DryRun:      opts.DryRun,
				ForceUnsafe: opts.ForceUnsafe,
				Exclude:     attempted,
			})
			if err != nil {
				return nil, err
			}
			if !subReport.QualityGateOK {
				epochReport.Success = false
				epochReport.QualityGateOK = false
				return epochReport, nil
			}
			if len(subReport.SelectedFeatureIDs) == 0 && len(subReport.SkippedUnsafeIDs) == 0 {
				// An empty round that hard-failed (for example parallel mode
				// disabled by policy) must not read as a clean epoch.
				if !subReport.Success {
					epochReport.Success = false
				}
				break
			}
			for _, id := range subReport.SelectedFeatureIDs {
				attempted[id] = true
				epochReport.AttemptedIDs = append(epochReport.AttemptedIDs, id)
			}
			for _, id := range subReport.SkippedUnsafeIDs {
				attempted[id] = true
				epochReport.SkippedIDs = append(epochReport.SkippedIDs, id)
			}
			if !subReport.Success {
				epochReport.Success = false
			}
			continue
		}

		subReport, err := e.RunIteration(ctx, IterationOptions{
			Commit:  opts.Commit,
			DryRun:  opts.DryRun,
			Exclude: attempted,
		})
		if err != nil {
			return nil, err
		}
		if !subReport.QualityGateOK {
			epochReport.Success = false
			epochReport.QualityGateOK = false
			return epochReport, nil
		}
		if subReport.FeatureID == "" {
			break
		}
		attempted[subReport.FeatureID] = true
		epochReport.AttemptedIDs = append(epochReport.AttemptedIDs, subReport.FeatureID)
		if !subReport.Success {
			epochReport.Success = false
		}
	}

	return epochReport, nil
}

func (e *Engine) passCounts() (passed, total int, err error) {
	features, err := e.store.LoadFeatures()
	if err != nil {
		return 0, 0, err
	}
	for _, f := range features {
		if f.Passes {
			passed++
		}
	}
	return passed, len(features), nil
}

// RunValidation runs the external validation collaborator against the
// configured target on demand, outside the project loop.
func (e *Engine) RunValidation(ctx context.Context, dryRun bool) (bool, string, error) {
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return false, "", err
	}
	ok, note := e.runValidation(ctx, policy, dryRun)
	return ok, note, nil
}

// runValidation invokes the external validation collaborator at the stop
// boundary. A missing collaborator or target passes with a note rather than
// blocking the stop, in keeping with the zero-ask fallback chain.
func (e *Engine) runValidation(ctx context.Context, policy model.AgentPolicy, dryRun bool) (bool, string) {
	if e.validator == nil {
		return true, "validation collaborator not configured; skipped"
	}
	if policy.ValidationURL == "" {
		return true, "no validation target configured; skipped"
	}
	ok, message := e.validator.Validate(ctx, policy.ValidationURL, policy.ValidationExpectText, dryRun)
	log.Printf("[Engine] External validation: ok=%t (%s)", ok, message)
	return ok, message
}
