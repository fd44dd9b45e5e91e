package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/storage"
)

// attemptGitCommit records the state artifacts in git after an iteration.
// Commit errors must not crash the loop; they go to the progress log.
func (e *Engine) attemptGitCommit(ctx context.Context, featureIDs []string, success bool, iteration int) {
	prefix := "fix"
	if success {
		prefix = "feat"
	}
	featurePart := strings.Join(featureIDs, ",")
	if len(featureIDs) > 5 {
		featurePart = strings.Join(featureIDs[:5], ",") + ",..."
	}
	message := fmt.Sprintf("%s: iteration %d processed [%s]", prefix, iteration, featurePart)

	commands := []string{
		fmt.Sprintf("git add %s %s %s", storage.StatusMarkdown, storage.FeaturesFile, storage.ProgressLog),
		fmt.Sprintf("git commit -m %q", message),
	}
	for _, command := range commands {
		result := e.runner.Run(ctx, command, e.root, model.PhaseBootstrap, backend.BootstrapTimeout)
		if result.ExitCode != 0 {
			detail := strings.TrimSpace(result.Stderr)
			if detail == "" {
				detail = strings.TrimSpace(result.Stdout)
			}
			_ = e.store.AppendProgress(fmt.Sprintf("Git command failed: %s :: %s", command, detail))
			return
		}
	}
}
