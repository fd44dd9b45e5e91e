package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/autoloop/internal/model"
	"github.com/cexll/autoloop/internal/storage"
)

func TestQualityGateRestoresMissingArtifact(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := os.Remove(filepath.Join(eng.Root(), storage.StatusMarkdown)); err != nil {
		t.Fatalf("remove status markdown failed: %v", err)
	}

	report, err := eng.RunQualityGate(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("RunQualityGate failed: %v", err)
	}
	if !report.OK {
		t.Fatalf("gate failed: %+v", report.Failures)
	}
	restored := false
	for _, check := range report.Checks {
		if strings.Contains(check, "restored: "+storage.StatusMarkdown) {
			restored = true
		}
	}
	if !restored {
		t.Fatalf("checks = %v, want restore entry", report.Checks)
	}
	if _, err := os.Stat(filepath.Join(eng.Root(), storage.StatusMarkdown)); err != nil {
		t.Fatalf("status markdown not restored: %v", err)
	}
}

func TestQualityGateFailsOnUnrestorableFile(t *testing.T) {
	eng, _ := newTestEngine(t)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.RequiredContextFiles = append(p.RequiredContextFiles, "ARCHITECTURE.md")
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	report, err := eng.RunQualityGate(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("RunQualityGate failed: %v", err)
	}
	if report.OK {
		t.Fatal("gate passed despite missing unrestorable file")
	}
	found := false
	for _, failure := range report.Failures {
		if strings.Contains(failure, "ARCHITECTURE.md") {
			found = true
		}
	}
	if !found {
		t.Fatalf("failures = %v, want ARCHITECTURE.md entry", report.Failures)
	}
}

func TestQualityGateFlagsDuplicateFeatureIDs(t *testing.T) {
	eng, _ := newTestEngine(t)
	// Write duplicates directly; AddFeature would auto-resolve them.
	err := eng.store.SaveFeatures([]model.Feature{
		{ID: "F-1", Description: "a", Priority: 1},
		{ID: "F-1", Description: "b", Priority: 2},
	})
	if err != nil {
		t.Fatalf("SaveFeatures failed: %v", err)
	}

	report, err := eng.RunQualityGate(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("RunQualityGate failed: %v", err)
	}
	if report.OK {
		t.Fatal("gate passed despite duplicate feature ids")
	}
}

func TestQualityGateFlagsStaleInProgress(t *testing.T) {
	eng, _ := newTestEngine(t)
	status, err := eng.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	status.Iteration = 2
	status.InProgress = []string{"Iteration 2: F-1 interrupted"}
	if err := eng.store.SaveStatus(status); err != nil {
		t.Fatalf("SaveStatus failed: %v", err)
	}

	report, err := eng.RunQualityGate(context.Background(), false, nil)
	if err != nil {
		t.Fatalf("RunQualityGate failed: %v", err)
	}
	if report.OK {
		t.Fatal("gate passed despite stale in-progress entries")
	}
}

func TestQualityGateSmoke(t *testing.T) {
	eng, runner := newTestEngine(t)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.RunSmokeBeforeIteration = true
		p.SmokeTestCommand = "make smoke"
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	t.Run("dry run records placeholder without executing", func(t *testing.T) {
		report, err := eng.RunQualityGate(context.Background(), true, nil)
		if err != nil {
			t.Fatalf("RunQualityGate failed: %v", err)
		}
		if !report.OK {
			t.Fatalf("gate failed: %v", report.Failures)
		}
		if len(runner.calls) != 0 {
			t.Fatalf("dry-run executed commands: %v", runner.calls)
		}
		if len(report.CommandResults) != 1 || report.CommandResults[0].ExitCode != 0 {
			t.Fatalf("command results = %+v, want one dry-run placeholder", report.CommandResults)
		}
	})

	t.Run("smoke failure fails the gate", func(t *testing.T) {
		runner.script("make smoke", 1)
		report, err := eng.RunQualityGate(context.Background(), false, nil)
		if err != nil {
			t.Fatalf("RunQualityGate failed: %v", err)
		}
		if report.OK {
			t.Fatal("gate passed despite smoke failure")
		}
	})

	t.Run("run-smoke override disables the step", func(t *testing.T) {
		disabled := false
		report, err := eng.RunQualityGate(context.Background(), false, &disabled)
		if err != nil {
			t.Fatalf("RunQualityGate failed: %v", err)
		}
		if !report.OK {
			t.Fatalf("gate failed with smoke disabled: %v", report.Failures)
		}
	})
}
