package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/storage"
)

// fakeRunner returns scripted exit codes per command, consumed in call order.
// Unscripted commands succeed.
type fakeRunner struct {
	mu    sync.Mutex
	codes map[string][]int
	calls []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{codes: map[string][]int{}}
}

func (r *fakeRunner) script(command string, codes ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[command] = append(r.codes[command], codes...)
}

func (r *fakeRunner) Run(ctx context.Context, command, dir, phase string, timeout time.Duration) model.CommandResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, phase+"|"+command)
	code := 0
	if queue, ok := r.codes[command]; ok && len(queue) > 0 {
		code = queue[0]
		r.codes[command] = queue[1:]
	}
	result := model.CommandResult{Command: command, ExitCode: code, Phase: phase}
	if code == 0 {
		result.Stdout = "executed " + command
	} else {
		result.Stderr = "command failed"
	}
	return result
}

type fakeValidator struct {
	ok     bool
	note   string
	called bool
}

func (v *fakeValidator) Validate(ctx context.Context, target, expectText string, dryRun bool) (bool, string) {
	v.called = true
	return v.ok, v.note
}

func newTestEngine(t *testing.T) (*Engine, *fakeRunner) {
	t.Helper()
	runner := newFakeRunner()
	eng, err := New(t.TempDir(), runner, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := eng.Initialize("Test objective"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return eng, runner
}

func addTestFeature(t *testing.T, eng *Engine, feature model.Feature) {
	t.Helper()
	if _, err := eng.AddFeature(feature); err != nil {
		t.Fatalf("AddFeature(%s) failed: %v", feature.ID, err)
	}
}

func shellFeature(id string, priority int, parallelSafe bool) model.Feature {
	return model.Feature{
		ID:                     id,
		Category:               "core",
		Description:            "implement " + id,
		Priority:               priority,
		ParallelSafe:           parallelSafe,
		ImplementationCommands: []string{"build " + id},
		VerificationCommand:    "verify " + id,
	}
}

func TestInitializeSeedsArtifacts(t *testing.T) {
	eng, _ := newTestEngine(t)

	for _, name := range []string{storage.StatusMarkdown, storage.PolicyMarkdown, storage.FeaturesFile, storage.ProgressLog} {
		if _, err := os.Stat(filepath.Join(eng.Root(), name)); err != nil {
			t.Errorf("artifact %s missing after Initialize: %v", name, err)
		}
	}

	status, err := eng.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.CurrentObjective != "Test objective" {
		t.Errorf("objective = %q", status.CurrentObjective)
	}

	// No tests/ directory means the smoke step is disabled.
	policy, err := eng.GetPolicy()
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if policy.RunSmokeBeforeIteration {
		t.Error("smoke should be disabled when no tests directory exists")
	}
}

func TestAddFeatureAutoResolvesDuplicateID(t *testing.T) {
	eng, _ := newTestEngine(t)

	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	resolved, err := eng.AddFeature(shellFeature("F-1", 2, true))
	if err != nil {
		t.Fatalf("AddFeature duplicate failed: %v", err)
	}
	if resolved.ID != "F-1-1" {
		t.Fatalf("resolved id = %q, want F-1-1", resolved.ID)
	}

	// Second collision probes the next suffix.
	resolved, err = eng.AddFeature(shellFeature("F-1", 3, true))
	if err != nil {
		t.Fatalf("AddFeature second duplicate failed: %v", err)
	}
	if resolved.ID != "F-1-2" {
		t.Fatalf("resolved id = %q, want F-1-2", resolved.ID)
	}
}

func TestAddFeatureDuplicateRejectedWhenAutoResolveOff(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.AutoResolveDuplicateFeatures = false
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	if _, err := eng.AddFeature(shellFeature("F-1", 2, true)); err == nil {
		t.Fatal("duplicate id accepted with auto-resolve disabled")
	}
}

func TestUpdateSettingsPersists(t *testing.T) {
	eng, _ := newTestEngine(t)

	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.MaxIterationsPerRun = 42
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	policy, err := eng.GetPolicy()
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if policy.MaxIterationsPerRun != 42 {
		t.Fatalf("MaxIterationsPerRun = %d, want 42", policy.MaxIterationsPerRun)
	}
}
