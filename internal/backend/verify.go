package backend

import (
	"context"
	"strings"

	"github.com/cexll/autoloop/internal/model"
)

// Verifier runs a feature's verification command with retry-once and an
// environment-adaptation fallback for hosts without a container runtime.
type Verifier struct {
	runner    Runner
	retryOnce bool
}

// NewVerifier returns a verification backend.
func NewVerifier(runner Runner, retryOnce bool) *Verifier {
	return &Verifier{runner: runner, retryOnce: retryOnce}
}

// Verify runs the feature's verification command, if any. Returns an empty
// slice when the feature has no verification command.
func (v *Verifier) Verify(ctx context.Context, feature *model.Feature, workDir string, dryRun bool) []model.CommandResult {
	command := feature.VerificationCommand
	if command == "" {
		return nil
	}
	if dryRun {
		return []model.CommandResult{dryRunResult(command, model.PhaseVerify, "dry-run: verification skipped")}
	}

	result := v.runner.Run(ctx, command, workDir, model.PhaseVerify, DefaultCommandTimeout)
	if result.ExitCode == 0 || !v.retryOnce {
		return []model.CommandResult{result}
	}

	if IsMissingDockerError(result.Stderr + result.Stdout) {
		if adapted := AdaptVerificationCommand(command, false); adapted != command {
			fallback := v.runner.Run(ctx, adapted, workDir, model.PhaseVerifyAdapted, DefaultCommandTimeout)
			if fallback.ExitCode == 0 {
				return []model.CommandResult{adapterNotice(adapted), fallback}
			}
			retryFallback := v.runner.Run(ctx, adapted, workDir, model.PhaseVerifyRetry, DefaultCommandTimeout)
			if retryFallback.ExitCode == 0 {
				return []model.CommandResult{adapterNotice(adapted), retryFallback}
			}
			return []model.CommandResult{result, fallback, retryFallback}
		}
	}

	retry := v.runner.Run(ctx, command, workDir, model.PhaseVerifyRetry, DefaultCommandTimeout)
	return []model.CommandResult{result, retry}
}

func adapterNotice(adapted string) model.CommandResult {
	return model.CommandResult{
		Command: "verify-env-adapter",
		Stdout:  "container runtime unavailable; switched to environment-compatible verification: " + adapted,
		Phase:   model.PhaseVerify,
	}
}

// IsMissingDockerError reports whether the output indicates the docker binary
// itself is absent, as opposed to a failing containerized check.
func IsMissingDockerError(text string) bool {
	lower := strings.ToLower(text)
	markers := []string{
		"'docker' is not recognized",
		"docker: command not found",
		"no such file or directory: 'docker'",
		"docker-compose: command not found",
	}
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// AdaptVerificationCommand strips docker-compose segments from a compound
// command when no container runtime is available. When every segment depends
// on docker the command degrades to an explicit skip notice.
func AdaptVerificationCommand(command string, dockerAvailable bool) string {
	normalized := strings.TrimSpace(command)
	if normalized == "" || dockerAvailable {
		return normalized
	}
	lower := strings.ToLower(normalized)
	if !strings.Contains(lower, "docker compose") && !strings.Contains(lower, "docker-compose") {
		return normalized
	}

	var kept []string
	for _, segment := range strings.Split(normalized, "&&") {
		segment = strings.TrimSpace(segment)
		if segment == "" || isDockerComposeSegment(segment) {
			continue
		}
		kept = append(kept, segment)
	}
	if len(kept) > 0 {
		return strings.Join(kept, " && ")
	}
	return "echo 'docker unavailable, skipped docker-only verification'"
}

func isDockerComposeSegment(segment string) bool {
	lower := strings.ToLower(segment)
	return strings.Contains(lower, "docker compose") || strings.Contains(lower, "docker-compose")
}
