package model

import (
	"fmt"
	"strings"
)

// Implementation backend selectors.
const (
	BackendAuto  = "auto"
	BackendShell = "shell"
	BackendAgent = "agent"
)

// AgentPolicy is the process-wide configuration snapshot. It is loaded at
// engine construction, refreshed at the start of every iteration, mutated only
// through UpdateSettings, and persisted after mutation. Operations receive it
// by value and never share a mutable copy.
type AgentPolicy struct {
	ZeroAsk                      bool `json:"zero_ask"`
	RetryFailedCommandsOnce      bool `json:"retry_failed_commands_once"`
	AutoResolveDuplicateFeatures bool `json:"auto_resolve_duplicate_feature_ids"`

	EnableParallelTeams       bool `json:"enable_parallel_teams"`
	DefaultParallelTeams      int  `json:"default_parallel_teams"`
	MaxParallelFeaturesPerRun int  `json:"max_parallel_features_per_iteration"`
	RequireParallelSafeFlag   bool `json:"require_parallel_safe_flag"`

	HardBlockerPatterns  []string `json:"hard_blocker_patterns"`
	RequiredContextFiles []string `json:"required_context_files"`

	RunSmokeBeforeIteration bool   `json:"run_smoke_before_iteration"`
	SmokeTestCommand        string `json:"smoke_test_command,omitempty"`

	MaxIterationsPerRun     int  `json:"max_iterations_per_run"`
	MaxNoProgressIterations int  `json:"max_no_progress_iterations"`
	StopWhenAllFeaturesPass bool `json:"stop_when_all_features_pass"`
	StopOnGateFailure       bool `json:"stop_on_quality_gate_failure"`
	RequireValidationOnStop bool `json:"require_validation_before_stop"`

	HandoffIterationInterval  int `json:"handoff_iteration_interval"`
	HandoffNoProgressInterval int `json:"handoff_no_progress_interval"`
	HandoffContextCharLimit   int `json:"handoff_context_char_limit"`

	ImplementationBackend string `json:"implementation_backend"`
	AgentCLIPath          string `json:"agent_cli_path"`
	AgentModel            string `json:"agent_model"`
	AgentReasoningEffort  string `json:"agent_reasoning_effort"`
	AgentSandboxMode      string `json:"agent_sandbox_mode"`
	AgentFullAuto         bool   `json:"agent_full_auto"`
	AgentSkipGitRepoCheck bool   `json:"agent_skip_git_repo_check"`
	AgentTimeoutSeconds   int    `json:"agent_timeout_seconds"`

	PlannerMaxFeaturesPerTask int    `json:"planner_max_features_per_task"`
	PlannerSandboxMode        string `json:"planner_sandbox_mode"`
	PlannerDisableShellTool   bool   `json:"planner_disable_shell_tool"`

	ValidationURL        string `json:"validation_url,omitempty"`
	ValidationExpectText string `json:"validation_expect_text,omitempty"`
}

// DefaultPolicy returns the policy used when no policy artifact exists yet.
func DefaultPolicy() AgentPolicy {
	return AgentPolicy{
		ZeroAsk:                      true,
		RetryFailedCommandsOnce:      true,
		AutoResolveDuplicateFeatures: true,
		EnableParallelTeams:          true,
		DefaultParallelTeams:         2,
		MaxParallelFeaturesPerRun:    3,
		RequireParallelSafeFlag:      true,
		HardBlockerPatterns: []string{
			"permission denied",
			"credential",
			"authentication failed",
			"network is unreachable",
			"could not resolve host",
			"quota exceeded",
		},
		RequiredContextFiles:      []string{"AGENT_STATUS.md", "feature_list.json"},
		RunSmokeBeforeIteration:   false,
		MaxIterationsPerRun:       10,
		MaxNoProgressIterations:   3,
		StopWhenAllFeaturesPass:   true,
		StopOnGateFailure:         false,
		RequireValidationOnStop:   false,
		HandoffIterationInterval:  5,
		HandoffNoProgressInterval: 3,
		HandoffContextCharLimit:   200000,
		ImplementationBackend:     BackendAuto,
		AgentCLIPath:              "codex",
		AgentModel:                "gpt-5-codex",
		AgentReasoningEffort:      "high",
		AgentSandboxMode:          "workspace-write",
		AgentFullAuto:             true,
		AgentTimeoutSeconds:       1800,
		PlannerMaxFeaturesPerTask: 4,
		PlannerSandboxMode:        "read-only",
		PlannerDisableShellTool:   true,
	}
}

// ResolveTeamCount applies the policy default when the caller passes 0.
func (p *AgentPolicy) ResolveTeamCount(requested int) int {
	count := requested
	if count <= 0 {
		count = p.DefaultParallelTeams
	}
	if count < 1 {
		count = 1
	}
	return count
}

// ResolveMaxFeatures applies the policy default when the caller passes 0.
func (p *AgentPolicy) ResolveMaxFeatures(requested int) int {
	max := requested
	if max <= 0 {
		max = p.MaxParallelFeaturesPerRun
	}
	if max < 1 {
		max = 1
	}
	return max
}

// DetectHardBlocker returns the first matching hard-blocker pattern, or ""
// when the failure text matches none. The tag is informational only.
func (p *AgentPolicy) DetectHardBlocker(failureText string) string {
	lower := strings.ToLower(failureText)
	for _, pattern := range p.HardBlockerPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return pattern
		}
	}
	return ""
}

// ToMarkdown renders the AGENT_POLICY.md mirror.
func (p *AgentPolicy) ToMarkdown() string {
	var b strings.Builder
	b.WriteString("# AGENT_POLICY\n\n")
	fmt.Fprintf(&b, "- zero_ask: %t\n", p.ZeroAsk)
	fmt.Fprintf(&b, "- retry_failed_commands_once: %t\n", p.RetryFailedCommandsOnce)
	fmt.Fprintf(&b, "- enable_parallel_teams: %t (teams=%d, max_features=%d)\n",
		p.EnableParallelTeams, p.DefaultParallelTeams, p.MaxParallelFeaturesPerRun)
	fmt.Fprintf(&b, "- require_parallel_safe_flag: %t\n", p.RequireParallelSafeFlag)
	fmt.Fprintf(&b, "- run_smoke_before_iteration: %t (command=%q)\n", p.RunSmokeBeforeIteration, p.SmokeTestCommand)
	fmt.Fprintf(&b, "- max_iterations_per_run: %d\n", p.MaxIterationsPerRun)
	fmt.Fprintf(&b, "- max_no_progress_iterations: %d\n", p.MaxNoProgressIterations)
	fmt.Fprintf(&b, "- stop_when_all_features_pass: %t\n", p.StopWhenAllFeaturesPass)
	fmt.Fprintf(&b, "- stop_on_quality_gate_failure: %t\n", p.StopOnGateFailure)
	fmt.Fprintf(&b, "- require_validation_before_stop: %t\n", p.RequireValidationOnStop)
	fmt.Fprintf(&b, "- handoff: every %d epochs, %d no-progress epochs, %d context chars\n",
		p.HandoffIterationInterval, p.HandoffNoProgressInterval, p.HandoffContextCharLimit)
	fmt.Fprintf(&b, "- implementation_backend: %s (cli=%s, model=%s, timeout=%ds)\n",
		p.ImplementationBackend, p.AgentCLIPath, p.AgentModel, p.AgentTimeoutSeconds)
	return b.String()
}
