package backend

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cexll/autoloop/internal/model"
)

// AgentBackend delegates one whole feature as a single natural-language task
// to an external coding-agent CLI.
type AgentBackend struct {
	cliPath         string
	model           string
	reasoningEffort string
	sandboxMode     string
	fullAuto        bool
	skipGitCheck    bool
	timeout         time.Duration
	retryOnce       bool
}

// NewAgentBackend builds an agent backend from the policy snapshot.
func NewAgentBackend(policy model.AgentPolicy) *AgentBackend {
	return &AgentBackend{
		cliPath:         policy.AgentCLIPath,
		model:           policy.AgentModel,
		reasoningEffort: policy.AgentReasoningEffort,
		sandboxMode:     policy.AgentSandboxMode,
		fullAuto:        policy.AgentFullAuto,
		skipGitCheck:    policy.AgentSkipGitRepoCheck,
		timeout:         AgentTimeout(policy),
		retryOnce:       policy.RetryFailedCommandsOnce,
	}
}

// Name returns the backend name.
func (b *AgentBackend) Name() string { return model.BackendAgent }

// Implement delegates the feature to the agent CLI, retrying once on failure.
func (b *AgentBackend) Implement(ctx context.Context, req Request) []model.CommandResult {
	prompt := flattenPrompt(b.buildPrompt(req))
	args := b.buildArgs(req.WorkDir, prompt)
	commandText := formatCommand(append([]string{b.cliPath}, args...))

	if req.DryRun {
		return []model.CommandResult{dryRunResult(commandText, model.PhaseImplementAgent, "dry-run: agent implementation skipped")}
	}

	first := b.invoke(ctx, args, commandText, req.WorkDir, model.PhaseImplementAgent)
	if first.ExitCode == 0 || !b.retryOnce {
		return []model.CommandResult{first}
	}
	retry := b.invoke(ctx, args, commandText, req.WorkDir, model.PhaseAgentRetry)
	return []model.CommandResult{first, retry}
}

func (b *AgentBackend) buildArgs(workDir, prompt string) []string {
	args := []string{
		"exec",
		"-m", b.model,
		"-c", fmt.Sprintf("model_reasoning_effort=%q", b.reasoningEffort),
		"-C", workDir,
		"-s", b.sandboxMode,
	}
	if b.fullAuto {
		args = append(args, "--full-auto")
	}
	if b.skipGitCheck {
		args = append(args, "--skip-git-repo-check")
	}
	return append(args, prompt)
}

func (b *AgentBackend) buildPrompt(req Request) string {
	f := req.Feature
	lines := []string{
		"You are a coding worker in an autonomous engineering loop.",
		"Implement exactly one feature in the current repository.",
		"Do not ask interactive questions. Choose pragmatic defaults and continue.",
		"Do not reply with readiness text like 'provide next task'; execute this feature now.",
		"Make concrete filesystem changes for this feature (create/update/delete files as needed).",
		"If the repository is empty, scaffold minimal runnable files first, then implement the feature.",
		"Do not run git commit or create branches. The outer system manages commits.",
		"After changes, run relevant checks/tests and fix obvious failures before finishing.",
		"",
		"Feature ID: " + f.ID,
		"Feature Category: " + f.Category,
		fmt.Sprintf("Feature Priority: %d", f.Priority),
		"Feature Description: " + f.Description,
	}
	if req.Objective != "" {
		lines = append(lines, "Project Objective: "+req.Objective)
	}
	if req.Iteration > 0 {
		lines = append(lines, fmt.Sprintf("Iteration: %d", req.Iteration))
	}
	if req.TeamID != "" {
		lines = append(lines, "Assigned Team: "+req.TeamID)
	}
	if len(f.ImplementationCommands) > 0 {
		lines = append(lines, "", "Implementation constraints/instructions from backlog item:")
		for _, item := range f.ImplementationCommands {
			lines = append(lines, "- "+item)
		}
	}
	if f.VerificationCommand != "" {
		lines = append(lines,
			"",
			"A separate verification phase will run this command after your step:",
			"- "+f.VerificationCommand,
		)
	}
	lines = append(lines,
		"",
		"Output a short summary that includes:",
		"- files changed",
		"- checks run",
		"- remaining risks",
	)
	return strings.Join(lines, "\n")
}

func (b *AgentBackend) invoke(ctx context.Context, args []string, commandText, workDir, phase string) model.CommandResult {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := ExecCommandContext(ctx, b.cliPath, args...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("[Backend] Invoking agent CLI: %s (model=%s, timeout=%s)", b.cliPath, b.model, b.timeout)

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	result := model.CommandResult{
		Command:         commandText,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		DurationSeconds: duration.Seconds(),
		Phase:           phase,
	}
	switch {
	case err == nil:
		log.Printf("[Backend] Agent CLI completed in %v, output length: %d bytes", duration, stdout.Len())
	case ctx.Err() == context.DeadlineExceeded:
		result.ExitCode = exitTimeout
		result.Stderr = appendNote(result.Stderr, "timed out")
		log.Printf("[Backend] Agent CLI timed out after %v", duration)
	default:
		result.ExitCode = exitCodeOf(err)
		if result.ExitCode == exitNotFound && stderr.Len() == 0 {
			result.Stderr = b.cliPath + " CLI not found in PATH"
		}
		log.Printf("[Backend] Agent CLI failed after %v: %v", duration, err)
	}
	return result
}

// flattenPrompt collapses a multi-line prompt to a single line. Some agent
// CLIs in exec mode act on the first line only and answer with readiness text
// for the rest.
func flattenPrompt(prompt string) string {
	var segments []string
	for _, line := range strings.Split(prompt, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	if len(segments) == 0 {
		return strings.TrimSpace(prompt)
	}
	return strings.Join(segments, " | ")
}

func formatCommand(parts []string) string {
	rendered := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || strings.ContainsAny(part, " \"\t") {
			rendered = append(rendered, fmt.Sprintf("%q", part))
			continue
		}
		rendered = append(rendered, part)
	}
	return strings.Join(rendered, " ")
}
