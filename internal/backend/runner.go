package backend

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/cexll/autoloop/internal/model"
)

// Default subprocess timeouts.
const (
	DefaultCommandTimeout = 120 * time.Second
	SmokeTimeout          = 300 * time.Second
	BootstrapTimeout      = 30 * time.Second
)

// Exit codes used when the process never produced one.
const (
	exitTimeout  = 124
	exitNotFound = 127
)

// ExecCommandContext is the subprocess launch seam shared by everything that
// shells out; tests swap it for a stub binary.
var ExecCommandContext = exec.CommandContext

// Runner executes one opaque command and reports a CommandResult. A timed-out
// or unlaunchable command is a failing result, not an error.
type Runner interface {
	Run(ctx context.Context, command, dir, phase string, timeout time.Duration) model.CommandResult
}

// ShellRunner runs commands through the system shell, mirroring how delegated
// work instructions are written in the backlog.
type ShellRunner struct{}

// Run executes command in dir with the given timeout.
func (ShellRunner) Run(ctx context.Context, command, dir, phase string, timeout time.Duration) model.CommandResult {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := ExecCommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	result := model.CommandResult{
		Command:         command,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		DurationSeconds: duration.Seconds(),
		Phase:           phase,
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	case ctx.Err() == context.DeadlineExceeded:
		result.ExitCode = exitTimeout
		result.Stderr = appendNote(result.Stderr, "timed out")
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = exitNotFound
			result.Stderr = appendNote(result.Stderr, err.Error())
		}
	}
	return result
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return exitNotFound
}

func appendNote(stderr, note string) string {
	if stderr == "" {
		return note
	}
	return stderr + "; " + note
}

func dryRunResult(command, phase, note string) model.CommandResult {
	return model.CommandResult{
		Command: command,
		Stdout:  note,
		Phase:   phase,
	}
}
