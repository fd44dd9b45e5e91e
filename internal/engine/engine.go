// Package engine implements the autonomous plan -> implement -> verify ->
// observe -> decide loop over a backlog of features, delegating execution to
// external coding and verification backends.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/autoloop/internal/backend"
	"github.com/cexll/autoloop/internal/guard"
	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/registry"
	"github.com/cexll/autoloop/internal/storage"
)

// Validator is the external validation collaborator consumed at the
// stop-decision boundary. Never called inside per-feature execution.
type Validator interface {
	Validate(ctx context.Context, target, expectText string, dryRun bool) (bool, string)
}

// Test seams, following the package-var convention used for subprocess entry
// points elsewhere in this codebase.
var (
	snapshotWorkspace = guard.Snapshot
	selectBackend     = backend.Select
)

// Engine drives the iteration loop for one workspace root.
type Engine struct {
	root      string
	store     *storage.Store
	runner    backend.Runner
	registry  *registry.Registry
	validator Validator
}

// New constructs an engine over the given workspace root.
func New(root string, runner backend.Runner, validator Validator) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if runner == nil {
		runner = backend.ShellRunner{}
	}
	return &Engine{
		root:      abs,
		store:     storage.New(abs),
		runner:    runner,
		registry:  registry.New(),
		validator: validator,
	}, nil
}

// Root returns the absolute workspace root.
func (e *Engine) Root() string { return e.root }

// Registry exposes the best-effort active-worker side table for display.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Initialize seeds the workspace artifacts and records the objective.
func (e *Engine) Initialize(objective string) (*model.AgentStatus, error) {
	if err := os.MkdirAll(e.root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(filepath.Join(e.root, "tests")); os.IsNotExist(statErr) {
		policy.RunSmokeBeforeIteration = false
		policy.SmokeTestCommand = ""
	}
	if err := e.store.SavePolicy(policy); err != nil {
		return nil, err
	}

	status, err := e.store.LoadStatus()
	if err != nil {
		return nil, err
	}
	status.CurrentObjective = strings.TrimSpace(objective)
	status.InProgress = []string{"System initialized and ready for iteration 1."}
	status.NextSteps = []string{"Add or review feature_list.json, then run an iteration."}
	status.LastCommandSummary = []string{fmt.Sprintf("Initialization completed. zero_ask=%t", policy.ZeroAsk)}
	status.LastTestSummary = "No tests executed yet."
	if err := e.store.SaveStatus(status); err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(filepath.Join(e.root, storage.FeaturesFile)); os.IsNotExist(statErr) {
		if err := e.store.SaveFeatures([]model.Feature{}); err != nil {
			return nil, err
		}
	}
	if err := e.store.AppendProgress("Initialized objective: " + status.CurrentObjective); err != nil {
		return nil, err
	}
	log.Printf("[Engine] Initialized workspace %s", e.root)
	return status, nil
}

// AddFeature appends one feature to the backlog. Duplicate ids are rejected
// unless the policy allows auto-resolution, in which case a -N suffix is
// probed until the id is free.
func (e *Engine) AddFeature(feature model.Feature) (model.Feature, error) {
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return model.Feature{}, err
	}
	features, err := e.store.LoadFeatures()
	if err != nil {
		return model.Feature{}, err
	}
	existing := make(map[string]bool, len(features))
	for _, item := range features {
		existing[item.ID] = true
	}
	if existing[feature.ID] {
		if !(policy.ZeroAsk && policy.AutoResolveDuplicateFeatures) {
			return model.Feature{}, fmt.Errorf("feature %q already exists", feature.ID)
		}
		original := feature.ID
		feature.ID = resolveFeatureID(original, existing)
		if err := e.store.AppendProgress(fmt.Sprintf("Auto-resolved duplicate feature id: %s -> %s", original, feature.ID)); err != nil {
			return model.Feature{}, err
		}
	}
	features = append(features, feature)
	if err := e.store.SaveFeatures(features); err != nil {
		return model.Feature{}, err
	}
	if err := e.store.AppendProgress("Feature added: " + feature.ID); err != nil {
		return model.Feature{}, err
	}
	return feature, nil
}

func resolveFeatureID(baseID string, existing map[string]bool) string {
	for index := 1; ; index++ {
		candidate := fmt.Sprintf("%s-%d", baseID, index)
		if !existing[candidate] {
			return candidate
		}
	}
}

// ListFeatures returns the full backlog.
func (e *Engine) ListFeatures() ([]model.Feature, error) {
	return e.store.LoadFeatures()
}

// GetStatus returns the persisted run state.
func (e *Engine) GetStatus() (*model.AgentStatus, error) {
	return e.store.LoadStatus()
}

// GetPolicy returns the current persisted policy snapshot.
func (e *Engine) GetPolicy() (model.AgentPolicy, error) {
	return e.store.LoadPolicy()
}

// UpdateSettings applies a mutation to a fresh policy snapshot and persists
// the result. This is the only path that mutates policy.
func (e *Engine) UpdateSettings(mutate func(*model.AgentPolicy)) (model.AgentPolicy, error) {
	policy, err := e.store.LoadPolicy()
	if err != nil {
		return model.AgentPolicy{}, err
	}
	mutate(&policy)
	if err := e.store.SavePolicy(policy); err != nil {
		return model.AgentPolicy{}, err
	}
	return policy, nil
}

// bootstrapSession collects lightweight state notes to reduce context drift
// across sessions, plus a recent git summary when a repository is present.
func (e *Engine) bootstrapSession(ctx context.Context, dryRun bool) ([]string, []model.CommandResult, error) {
	status, err := e.store.LoadStatus()
	if err != nil {
		return nil, nil, err
	}
	features, err := e.store.LoadFeatures()
	if err != nil {
		return nil, nil, err
	}
	pending := 0
	for _, f := range features {
		if !f.Passes {
			pending++
		}
	}
	notes := []string{
		"cwd: " + e.root,
		fmt.Sprintf("iteration: %d", status.Iteration),
		fmt.Sprintf("features: pending=%d, done=%d", pending, len(features)-pending),
	}
	if tail := e.store.ReadProgressTail(5); len(tail) > 0 {
		notes = append(notes, "progress_tail: "+tail[len(tail)-1])
	}

	var results []model.CommandResult
	if _, statErr := os.Stat(filepath.Join(e.root, ".git")); statErr == nil {
		const gitLog = "git log --oneline -5"
		if dryRun {
			results = append(results, model.CommandResult{
				Command: gitLog,
				Stdout:  "dry-run: git log skipped",
				Phase:   model.PhaseBootstrap,
			})
		} else {
			results = append(results, e.runner.Run(ctx, gitLog, e.root, model.PhaseBootstrap, backend.BootstrapTimeout))
		}
	}
	return notes, results, nil
}
