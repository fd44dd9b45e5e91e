package model

// HygieneReport is the quality-gate outcome. OK is true iff Failures is empty.
type HygieneReport struct {
	OK             bool            `json:"ok"`
	Checks         []string        `json:"checks"`
	Failures       []string        `json:"failures"`
	CommandResults []CommandResult `json:"command_results"`
}

// IterationReport is the structured output of one single-team iteration.
type IterationReport struct {
	IterationNumber int             `json:"iteration_number"`
	Goal            string          `json:"goal"`
	Plan            []string        `json:"plan"`
	FeatureID       string          `json:"feature_id,omitempty"`
	Success         bool            `json:"success"`
	Result          string          `json:"result"`
	NextStep        string          `json:"next_step"`
	QualityGateOK   bool            `json:"quality_gate_ok"`
	BootstrapNotes  []string        `json:"bootstrap_notes"`
	CommandResults  []CommandResult `json:"command_results"`
}

// ParallelIterationReport is the structured output of one multi-team round.
type ParallelIterationReport struct {
	IterationNumber    int                   `json:"iteration_number"`
	TeamCount          int                   `json:"team_count"`
	SelectedFeatureIDs []string              `json:"selected_feature_ids"`
	SkippedUnsafeIDs   []string              `json:"skipped_unsafe_ids"`
	Success            bool                  `json:"success"`
	Result             string                `json:"result"`
	NextStep           string                `json:"next_step"`
	QualityGateOK      bool                  `json:"quality_gate_ok"`
	BootstrapNotes     []string              `json:"bootstrap_notes"`
	TeamResults        []TeamExecutionResult `json:"team_results"`
	CommandResults     []CommandResult       `json:"command_results"`
}

// EpochReport summarizes one epoch of the project loop: every feature pending
// at the epoch start was attempted at most once across its sub-iterations.
type EpochReport struct {
	Epoch         int      `json:"epoch"`
	Mode          string   `json:"mode"`
	AttemptedIDs  []string `json:"attempted_feature_ids"`
	SkippedIDs    []string `json:"skipped_feature_ids"`
	Success       bool     `json:"success"`
	QualityGateOK bool     `json:"quality_gate_ok"`
	PassedCount   int      `json:"passed_count"`
	TotalCount    int      `json:"total_count"`
}

// HandoffEvent records one context-pressure snapshot trigger.
type HandoffEvent struct {
	ID           string `json:"id"`
	Epoch        int    `json:"epoch"`
	Reason       string `json:"reason"`
	SnapshotPath string `json:"snapshot_path"`
}

// ProjectRunReport is the outcome of a whole project loop.
type ProjectRunReport struct {
	Epochs         int            `json:"epochs"`
	Success        bool           `json:"success"`
	StopReason     StopReason     `json:"stop_reason"`
	FinalPassed    int            `json:"final_passed_features"`
	TotalFeatures  int            `json:"total_features"`
	EpochReports   []EpochReport  `json:"epoch_reports"`
	HandoffEvents  []HandoffEvent `json:"handoff_events"`
	ValidationNote string         `json:"validation_note,omitempty"`
}
