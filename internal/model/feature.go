package model

// Feature is one discrete, independently schedulable unit of backlog work.
// Passes is monotonic: the engine sets it to true exactly once and never
// resets it.
type Feature struct {
	ID                     string   `json:"id"`
	Category               string   `json:"category"`
	Description            string   `json:"description"`
	Priority               int      `json:"priority"`
	Passes                 bool     `json:"passes"`
	ParallelSafe           bool     `json:"parallel_safe"`
	ImplementationCommands []string `json:"implementation_commands"`
	VerificationCommand    string   `json:"verification_command,omitempty"`
}

// Runnable reports whether the feature carries any executable work. A feature
// with neither implementation commands nor a verification command can never be
// marked passing.
func (f *Feature) Runnable() bool {
	return len(f.ImplementationCommands) > 0 || f.VerificationCommand != ""
}
