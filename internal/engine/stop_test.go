package engine

import (
	"testing"

	"github.com/cexll/autoloop/internal/model"
)

func stopPolicy() model.AgentPolicy {
	policy := model.DefaultPolicy()
	policy.StopWhenAllFeaturesPass = true
	policy.StopOnGateFailure = true
	policy.RequireValidationOnStop = false
	policy.MaxNoProgressIterations = 3
	return policy
}

func TestEvaluateStop(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*model.AgentPolicy)
		state      RunState
		shouldStop bool
		reason     model.StopReason
		success    bool
	}{
		{
			name:       "gate failure wins over everything",
			state:      RunState{EpochsExecuted: 1, MaxEpochs: 10, Passed: 5, Total: 5, LastGateOK: false, LastEpochSuccess: false},
			shouldStop: true,
			reason:     model.StopQualityGateFailed,
		},
		{
			name:       "gate failure ignored when policy tolerates it",
			mutate:     func(p *model.AgentPolicy) { p.StopOnGateFailure = false },
			state:      RunState{EpochsExecuted: 1, MaxEpochs: 10, Passed: 5, Total: 5, LastGateOK: false},
			shouldStop: true,
			reason:     model.StopAllFeaturesPassed,
			success:    true,
		},
		{
			name:       "all features passed",
			state:      RunState{EpochsExecuted: 2, MaxEpochs: 10, Passed: 3, Total: 3, LastGateOK: true, LastEpochSuccess: true},
			shouldStop: true,
			reason:     model.StopAllFeaturesPassed,
			success:    true,
		},
		{
			name:       "all passed but validation pending",
			mutate:     func(p *model.AgentPolicy) { p.RequireValidationOnStop = true },
			state:      RunState{EpochsExecuted: 2, MaxEpochs: 10, Passed: 3, Total: 3, LastGateOK: true},
			shouldStop: false,
			reason:     model.StopAwaitingValidation,
		},
		{
			name:       "validation failed",
			mutate:     func(p *model.AgentPolicy) { p.RequireValidationOnStop = true },
			state:      RunState{EpochsExecuted: 2, MaxEpochs: 10, Passed: 3, Total: 3, LastGateOK: true, ValidationRan: true, ValidationOK: false},
			shouldStop: true,
			reason:     model.StopValidationFailed,
		},
		{
			name:       "validation passed",
			mutate:     func(p *model.AgentPolicy) { p.RequireValidationOnStop = true },
			state:      RunState{EpochsExecuted: 2, MaxEpochs: 10, Passed: 3, Total: 3, LastGateOK: true, ValidationRan: true, ValidationOK: true},
			shouldStop: true,
			reason:     model.StopAllFeaturesPassed,
			success:    true,
		},
		{
			name:       "empty backlog after a clean epoch",
			state:      RunState{EpochsExecuted: 1, MaxEpochs: 10, Total: 0, LastGateOK: true, LastEpochSuccess: true},
			shouldStop: true,
			reason:     model.StopNoFeatures,
			success:    true,
		},
		{
			name:       "stagnation",
			state:      RunState{EpochsExecuted: 5, MaxEpochs: 10, Passed: 1, Total: 3, NoProgressEpochs: 3, LastGateOK: true},
			shouldStop: true,
			reason:     model.StopStagnation,
		},
		{
			name:       "max epochs reached",
			state:      RunState{EpochsExecuted: 10, MaxEpochs: 10, Passed: 1, Total: 3, LastGateOK: true},
			shouldStop: true,
			reason:     model.StopMaxIterations,
		},
		{
			name:       "continue",
			state:      RunState{EpochsExecuted: 2, MaxEpochs: 10, Passed: 1, Total: 3, NoProgressEpochs: 1, LastGateOK: true, LastEpochSuccess: true},
			shouldStop: false,
			reason:     model.StopContinue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := stopPolicy()
			if tt.mutate != nil {
				tt.mutate(&policy)
			}
			decision := EvaluateStop(policy, tt.state)
			if decision.ShouldStop != tt.shouldStop {
				t.Errorf("ShouldStop = %t, want %t", decision.ShouldStop, tt.shouldStop)
			}
			if decision.Reason != tt.reason {
				t.Errorf("Reason = %s, want %s", decision.Reason, tt.reason)
			}
			if decision.Success != tt.success {
				t.Errorf("Success = %t, want %t", decision.Success, tt.success)
			}
		})
	}
}

func TestEvaluateStopStagnationPrecedesMaxEpochs(t *testing.T) {
	policy := stopPolicy()
	state := RunState{
		EpochsExecuted:   10,
		MaxEpochs:        10,
		Passed:           1,
		Total:            3,
		NoProgressEpochs: 5,
		LastGateOK:       true,
	}
	decision := EvaluateStop(policy, state)
	if decision.Reason != model.StopStagnation {
		t.Fatalf("Reason = %s, want stagnation to precede max-iterations", decision.Reason)
	}
}
