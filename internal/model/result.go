package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Execution phases stamped onto CommandResults.
const (
	PhaseBootstrap      = "bootstrap"
	PhaseQualityGate    = "quality-gate"
	PhaseImplement      = "implement"
	PhaseImplementRetry = "implement-retry"
	PhaseImplementAgent = "implement-agent"
	PhaseAgentRetry     = "implement-agent-retry"
	PhaseVerify         = "verify"
	PhaseVerifyRetry    = "verify-retry"
	PhaseVerifyAdapted  = "verify-adapted"
	PhaseGuard          = "guard"
	PhasePlan           = "plan"
)

const summaryLimit = 160

// CommandResult is the immutable outcome of one delegated command invocation.
type CommandResult struct {
	Command         string  `json:"command"`
	ExitCode        int     `json:"exit_code"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	DurationSeconds float64 `json:"duration_seconds"`
	Phase           string  `json:"phase"`
}

// Summary renders a compact single-line description suitable for status files
// and progress logs.
func (r *CommandResult) Summary() string {
	status := "ok"
	if r.ExitCode != 0 {
		status = fmt.Sprintf("failed(%d)", r.ExitCode)
	}
	compact := strings.TrimSpace(r.Stdout)
	if compact == "" {
		compact = strings.TrimSpace(r.Stderr)
	}
	if compact == "" {
		compact = "<no output>"
	}
	compact = strings.ReplaceAll(compact, "\n", " ")
	if len(compact) > summaryLimit {
		cut := summaryLimit - 3
		// Back off to a rune boundary so truncation never leaves invalid UTF-8.
		for cut > 0 && !utf8.RuneStart(compact[cut]) {
			cut--
		}
		compact = compact[:cut] + "..."
	}
	return fmt.Sprintf("[%s] %s -> %s: %s", r.Phase, r.Command, status, compact)
}

// TeamExecutionResult is one feature's outcome within one team slot.
type TeamExecutionResult struct {
	TeamID         string          `json:"team_id"`
	FeatureID      string          `json:"feature_id"`
	Success        bool            `json:"success"`
	Message        string          `json:"message"`
	CommandResults []CommandResult `json:"command_results"`
}
