package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/storage"
)

// RunQualityGate performs the preflight checks before any feature execution:
// required artifacts (with best-effort restore), feature-id uniqueness, stale
// in-progress markers, and the optional smoke command. Checks never
// short-circuit; the gate is ok iff no failure accumulated.
func (e *Engine) RunQualityGate(ctx context.Context, dryRun bool, runSmoke *bool) (*model.HygieneReport, error) {
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return nil, err
	}

	report := &model.HygieneReport{}

	for _, required := range policy.RequiredContextFiles {
		path := filepath.Join(e.root, required)
		if _, statErr := os.Stat(path); statErr == nil {
			report.Checks = append(report.Checks, "required file present: "+required)
			continue
		}
		if restoreErr := e.restoreArtifact(required); restoreErr == nil {
			report.Checks = append(report.Checks, "required file restored: "+required)
			log.Printf("[QualityGate] Restored missing artifact %s", required)
			continue
		}
		report.Failures = append(report.Failures, "required file missing: "+required)
	}

	features, err := e.store.LoadFeatures()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(features))
	duplicate := false
	for _, f := range features {
		if seen[f.ID] {
			duplicate = true
			break
		}
		seen[f.ID] = true
	}
	if duplicate {
		report.Failures = append(report.Failures, "feature_list.json contains duplicate feature ids")
	} else {
		report.Checks = append(report.Checks, "feature ids are unique")
	}

	status, err := e.store.LoadStatus()
	if err != nil {
		return nil, err
	}
	if len(status.InProgress) > 0 && status.Iteration > 0 {
		report.Failures = append(report.Failures, "status has stale In Progress entries from a previous run (possible interrupted iteration)")
	} else {
		report.Checks = append(report.Checks, "status has no stale In Progress entries")
	}

	shouldRunSmoke := policy.RunSmokeBeforeIteration
	if runSmoke != nil {
		shouldRunSmoke = *runSmoke
	}
	switch {
	case !shouldRunSmoke || policy.SmokeTestCommand == "":
		report.Checks = append(report.Checks, "smoke test disabled by policy")
	case dryRun:
		report.CommandResults = append(report.CommandResults, model.CommandResult{
			Command: policy.SmokeTestCommand,
			Stdout:  "dry-run: smoke test skipped",
			Phase:   model.PhaseQualityGate,
		})
		report.Checks = append(report.Checks, "smoke test dry-run completed")
	default:
		result := e.runner.Run(ctx, policy.SmokeTestCommand, e.root, model.PhaseQualityGate, backend.SmokeTimeout)
		report.CommandResults = append(report.CommandResults, result)
		if result.ExitCode == 0 {
			report.Checks = append(report.Checks, "smoke test passed")
		} else {
			report.Failures = append(report.Failures, "smoke test failed")
		}
	}

	report.OK = len(report.Failures) == 0
	return report, nil
}

// restoreArtifact regenerates one missing required artifact from current
// in-memory state. Only the enumerated artifact kinds are recoverable.
func (e *Engine) restoreArtifact(name string) error {
	switch name {
	case storage.StatusMarkdown:
		status, err := e.store.LoadStatus()
		if err != nil {
			return err
		}
		return e.store.SaveStatus(status)
	case storage.PolicyMarkdown:
		policy, err := e.store.LoadPolicy()
		if err != nil {
			return err
		}
		return e.store.SavePolicy(policy)
	case storage.FeaturesFile:
		features, err := e.store.LoadFeatures()
		if err != nil {
			return err
		}
		return e.store.SaveFeatures(features)
	default:
		return fmt.Errorf("artifact %q is not restorable", name)
	}
}
