package engine

import "github.com/cexll/autoloop/internal/model"

// RunState is the per-run bookkeeping the stop evaluator consumes. It is
// assembled by the project loop after each epoch.
type RunState struct {
	EpochsExecuted   int
	MaxEpochs        int
	Passed           int
	Total            int
	NoProgressEpochs int
	LastEpochSuccess bool
	LastGateOK       bool
	ValidationRan    bool
	ValidationOK     bool
}

// EvaluateStop maps policy plus run state to a stop decision. Pure function;
// first matching rule wins.
func EvaluateStop(policy model.AgentPolicy, state RunState) model.StopDecision {
	if policy.StopOnGateFailure && !state.LastGateOK {
		return model.StopDecision{ShouldStop: true, Reason: model.StopQualityGateFailed}
	}

	if policy.StopWhenAllFeaturesPass && state.Total > 0 && state.Passed >= state.Total {
		if policy.RequireValidationOnStop && !state.ValidationRan {
			return model.StopDecision{Reason: model.StopAwaitingValidation}
		}
		if state.ValidationRan && !state.ValidationOK {
			return model.StopDecision{ShouldStop: true, Reason: model.StopValidationFailed}
		}
		return model.StopDecision{ShouldStop: true, Reason: model.StopAllFeaturesPassed, Success: true}
	}

	if state.Total == 0 && state.EpochsExecuted > 0 && state.LastEpochSuccess {
		return model.StopDecision{ShouldStop: true, Reason: model.StopNoFeatures, Success: true}
	}

	if policy.MaxNoProgressIterations > 0 && state.NoProgressEpochs >= policy.MaxNoProgressIterations {
		return model.StopDecision{ShouldStop: true, Reason: model.StopStagnation}
	}

	if state.EpochsExecuted >= state.MaxEpochs {
		success := state.LastEpochSuccess && state.Total > 0 && state.Passed >= state.Total
		return model.StopDecision{ShouldStop: true, Reason: model.StopMaxIterations, Success: success}
	}

	return model.StopDecision{Reason: model.StopContinue}
}
