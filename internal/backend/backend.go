package backend

import (
	"context"
	"time"

	"github.com/cexll/autoloop/internal/model"
)

// Request carries everything an implementation backend needs for one feature.
type Request struct {
	Feature   model.Feature
	WorkDir   string
	DryRun    bool
	Objective string
	TeamID    string
	Iteration int
}

// Implementation runs one feature's implementation work and returns the
// ordered command results. Retry-once is applied inside the strategy: the
// shell backend retries each failed command once, the agent backend retries
// the whole delegated call once.
type Implementation interface {
	Implement(ctx context.Context, req Request) []model.CommandResult
	Name() string
}

// Select returns the implementation backend for one feature: explicit policy
// selection wins, otherwise commands present means shell and absent means
// agent delegation.
func Select(policy model.AgentPolicy, feature *model.Feature, runner Runner) Implementation {
	switch policy.ImplementationBackend {
	case model.BackendShell:
		return NewShellBackend(runner, policy.RetryFailedCommandsOnce)
	case model.BackendAgent:
		return NewAgentBackend(policy)
	default:
		if len(feature.ImplementationCommands) > 0 {
			return NewShellBackend(runner, policy.RetryFailedCommandsOnce)
		}
		return NewAgentBackend(policy)
	}
}

// ShellBackend executes each implementation command as an independent shell
// invocation, stopping at the first failure after one retry.
type ShellBackend struct {
	runner    Runner
	retryOnce bool
}

// NewShellBackend returns a shell-strategy implementation backend.
func NewShellBackend(runner Runner, retryOnce bool) *ShellBackend {
	return &ShellBackend{runner: runner, retryOnce: retryOnce}
}

// Name returns the backend name.
func (b *ShellBackend) Name() string { return model.BackendShell }

// Implement runs the feature's implementation commands in order.
func (b *ShellBackend) Implement(ctx context.Context, req Request) []model.CommandResult {
	var results []model.CommandResult
	for _, command := range req.Feature.ImplementationCommands {
		if req.DryRun {
			results = append(results, dryRunResult(command, model.PhaseImplement, "dry-run: command skipped"))
			continue
		}
		result := b.runner.Run(ctx, command, req.WorkDir, model.PhaseImplement, DefaultCommandTimeout)
		results = append(results, result)
		if result.ExitCode == 0 {
			continue
		}
		if !b.retryOnce {
			break
		}
		retry := b.runner.Run(ctx, command, req.WorkDir, model.PhaseImplementRetry, DefaultCommandTimeout)
		results = append(results, retry)
		if retry.ExitCode != 0 {
			break
		}
	}
	return results
}

// AgentTimeout resolves the policy's agent timeout with a sane floor.
func AgentTimeout(policy model.AgentPolicy) time.Duration {
	seconds := policy.AgentTimeoutSeconds
	if seconds <= 0 {
		seconds = 1800
	}
	return time.Duration(seconds) * time.Second
}
