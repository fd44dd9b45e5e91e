package model

import (
	"fmt"
	"strings"
)

// AgentStatus is the persistent run-state artifact, mirrored into
// AGENT_STATUS.md for human inspection.
type AgentStatus struct {
	CurrentObjective   string   `json:"current_objective"`
	Done               []string `json:"done"`
	InProgress         []string `json:"in_progress"`
	Blockers           []string `json:"blockers"`
	NextSteps          []string `json:"next_steps"`
	LastCommandSummary []string `json:"last_command_summary"`
	LastTestSummary    string   `json:"last_test_summary"`
	Iteration          int      `json:"iteration"`
}

// NewStatus returns an empty status with the default test summary.
func NewStatus() *AgentStatus {
	return &AgentStatus{LastTestSummary: "No tests executed yet."}
}

// ToMarkdown renders the AGENT_STATUS.md mirror.
func (s *AgentStatus) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("# AGENT_STATUS\n\n")
	b.WriteString("## Current Objective\n")
	if s.CurrentObjective != "" {
		b.WriteString(s.CurrentObjective + "\n")
	} else {
		b.WriteString("Not set.\n")
	}
	writeSection(&b, "Done", s.Done)
	writeSection(&b, "In Progress", s.InProgress)
	writeSection(&b, "Blockers", s.Blockers)
	writeSection(&b, "Next Steps", s.NextSteps)
	writeSection(&b, "Last Command Summary", s.LastCommandSummary)
	b.WriteString("\n## Last Test Summary\n")
	if s.LastTestSummary != "" {
		b.WriteString(s.LastTestSummary + "\n")
	} else {
		b.WriteString("No tests executed yet.\n")
	}
	b.WriteString(fmt.Sprintf("\n## Iteration\n%d\n", s.Iteration))
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	b.WriteString("\n## " + title + "\n")
	if len(items) == 0 {
		b.WriteString("- None\n")
		return
	}
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}
