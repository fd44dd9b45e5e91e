// Package guard holds the post-hoc heuristics that reclassify an apparently
// successful backend result as a failure. Guard verdicts are synthetic
// CommandResults with reserved command names and a fixed exit code so they
// stay diagnosable after the fact.
package guard

import (
	"strings"

	"github.com/cexll/autoloop/internal/model"
)

// Reserved synthetic command names and exit code for guard verdicts.
const (
	NoOpCommand      = "guard:no-op"
	WorkspaceCommand = "guard:workspace"
	ExitCode         = 86
)

var acknowledgementMarkers = []string{
	"ready to act as",
	"provide the next task",
	"provide the first task",
	"share the target outcome",
	"awaiting your instructions",
	"awaiting backlog input",
	"i will return",
	"send the next feature",
	"no task provided",
	"waiting for task",
}

var workEvidenceMarkers = []string{
	"file", "files changed", "created", "updated", "wrote", "modified",
	"test", "check", "verif", "diff", "implement",
}

// CheckNoOp inspects a successful implementation run whose combined output
// looks like a readiness acknowledgement with no concrete evidence of work.
// Returns a synthetic failing result and true when the run is vacuous.
func CheckNoOp(results []model.CommandResult) (model.CommandResult, bool) {
	if len(results) == 0 {
		return model.CommandResult{}, false
	}
	var combined strings.Builder
	for _, r := range results {
		if r.ExitCode != 0 {
			return model.CommandResult{}, false
		}
		combined.WriteString(r.Stdout)
		combined.WriteString("\n")
		combined.WriteString(r.Stderr)
		combined.WriteString("\n")
	}
	text := strings.ToLower(combined.String())
	if strings.TrimSpace(text) == "" {
		return model.CommandResult{}, false
	}

	acknowledged := false
	for _, marker := range acknowledgementMarkers {
		if strings.Contains(text, marker) {
			acknowledged = true
			break
		}
	}
	if !acknowledged {
		return model.CommandResult{}, false
	}
	for _, marker := range workEvidenceMarkers {
		if strings.Contains(text, marker) {
			return model.CommandResult{}, false
		}
	}

	return model.CommandResult{
		Command:  NoOpCommand,
		ExitCode: ExitCode,
		Stderr:   "backend returned acknowledgement text with no evidence of concrete work",
		Phase:    model.PhaseGuard,
	}, true
}
