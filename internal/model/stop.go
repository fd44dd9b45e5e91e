package model

// StopReason enumerates why the project loop stopped or kept going.
type StopReason string

const (
	StopQualityGateFailed  StopReason = "quality_gate_failed"
	StopAllFeaturesPassed  StopReason = "all_features_passed"
	StopValidationFailed   StopReason = "browser_validation_failed"
	StopNoFeatures         StopReason = "no_features_configured"
	StopStagnation         StopReason = "stagnation_no_progress"
	StopMaxIterations      StopReason = "max_iterations_reached"
	StopAwaitingValidation StopReason = "awaiting_validation"
	StopContinue           StopReason = "continue"
)

// StopDecision is the outcome of evaluating all stopping criteria after an
// epoch. ShouldStop is false for both Continue and AwaitingValidation; the
// latter tells the caller to run the external validation collaborator and
// re-evaluate.
type StopDecision struct {
	ShouldStop bool       `json:"should_stop"`
	Reason     StopReason `json:"reason"`
	Success    bool       `json:"success"`
}
