package engine

import (
	"context"
	"testing"

	"github.com/cexll/autoloop/internal/model"
)

func disableHandoff(t *testing.T, eng *Engine) {
	t.Helper()
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.HandoffIterationInterval = 0
		p.HandoffNoProgressInterval = 0
		p.HandoffContextCharLimit = 0
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
}

func TestRunProjectLoopStopsWhenAllFeaturesPass(t *testing.T) {
	eng, _ := newTestEngine(t)
	disableHandoff(t, eng)
	addTestFeature(t, eng, shellFeature("F-1", 1, true))

	report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{})
	if err != nil {
		t.Fatalf("RunProjectLoop failed: %v", err)
	}
	if report.StopReason != model.StopAllFeaturesPassed {
		t.Fatalf("stop reason = %s, want all_features_passed", report.StopReason)
	}
	if !report.Success {
		t.Fatal("report not successful")
	}
	if report.Epochs != 1 {
		t.Fatalf("epochs = %d, want 1", report.Epochs)
	}
	if report.FinalPassed != 1 || report.TotalFeatures != 1 {
		t.Fatalf("pass counts = %d/%d, want 1/1", report.FinalPassed, report.TotalFeatures)
	}
}

func TestRunProjectLoopStopsOnStagnation(t *testing.T) {
	eng, runner := newTestEngine(t)
	disableHandoff(t, eng)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.MaxNoProgressIterations = 2
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	// F-1 fails every attempt: two epochs of implement plus retry.
	runner.script("build F-1", 1, 1, 1, 1)

	report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{})
	if err != nil {
		t.Fatalf("RunProjectLoop failed: %v", err)
	}
	if report.StopReason != model.StopStagnation {
		t.Fatalf("stop reason = %s, want stagnation_no_progress", report.StopReason)
	}
	if report.Success {
		t.Fatal("stagnated run reported success")
	}
	if report.Epochs != 2 {
		t.Fatalf("epochs = %d, want 2 no-progress epochs before stopping", report.Epochs)
	}
}

func TestRunProjectLoopStagnatesUnderDefaultPolicy(t *testing.T) {
	eng, runner := newTestEngine(t)
	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	// F-1 fails every attempt: three epochs of implement plus retry.
	runner.script("build F-1", 1, 1, 1, 1, 1, 1)

	report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{})
	if err != nil {
		t.Fatalf("RunProjectLoop failed: %v", err)
	}
	if report.StopReason != model.StopStagnation {
		t.Fatalf("stop reason = %s, want stagnation_no_progress", report.StopReason)
	}
	if report.Epochs != 3 {
		t.Fatalf("epochs = %d, want 3 no-progress epochs before stopping", report.Epochs)
	}
	// The no-progress handoff fires at the threshold without masking the stop.
	if len(report.HandoffEvents) != 1 || report.HandoffEvents[0].Reason != HandoffNoProgress {
		t.Fatalf("handoff events = %+v, want one no-progress handoff", report.HandoffEvents)
	}
}

func TestRunProjectLoopParallelDisabledRoundFailsEpoch(t *testing.T) {
	eng, _ := newTestEngine(t)
	disableHandoff(t, eng)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.EnableParallelTeams = false
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{Mode: ModeParallel, MaxEpochs: 1})
	if err != nil {
		t.Fatalf("RunProjectLoop failed: %v", err)
	}
	if report.StopReason != model.StopMaxIterations {
		t.Fatalf("stop reason = %s, want max_iterations_reached", report.StopReason)
	}
	if report.Success {
		t.Fatal("run with only hard-failed rounds reported success")
	}
	if report.EpochReports[0].Success {
		t.Fatal("epoch with a hard-failed empty round reported success")
	}
}

func TestRunProjectLoopEpochAttemptsEachPendingFeatureOnce(t *testing.T) {
	eng, runner := newTestEngine(t)
	disableHandoff(t, eng)
	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	addTestFeature(t, eng, shellFeature("F-2", 2, true))
	// F-1 keeps failing; the epoch must still reach F-2.
	runner.script("build F-1", 1, 1)

	report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{MaxEpochs: 1})
	if err != nil {
		t.Fatalf("RunProjectLoop failed: %v", err)
	}
	if len(report.EpochReports) != 1 {
		t.Fatalf("epoch reports = %d, want 1", len(report.EpochReports))
	}
	attempted := report.EpochReports[0].AttemptedIDs
	if len(attempted) != 2 || attempted[0] != "F-1" || attempted[1] != "F-2" {
		t.Fatalf("attempted = %v, want [F-1 F-2]", attempted)
	}
	if report.FinalPassed != 1 {
		t.Fatalf("final passed = %d, want F-2 to have passed", report.FinalPassed)
	}
	if report.StopReason != model.StopMaxIterations {
		t.Fatalf("stop reason = %s, want max_iterations_reached", report.StopReason)
	}
}

func TestRunProjectLoopRecordsHandoffEvent(t *testing.T) {
	eng, runner := newTestEngine(t)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.HandoffIterationInterval = 1
		p.HandoffNoProgressInterval = 0
		p.HandoffContextCharLimit = 0
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	runner.script("build F-1", 1, 1)

	report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{MaxEpochs: 1})
	if err != nil {
		t.Fatalf("RunProjectLoop failed: %v", err)
	}
	if len(report.HandoffEvents) != 1 {
		t.Fatalf("handoff events = %d, want 1", len(report.HandoffEvents))
	}
	event := report.HandoffEvents[0]
	if event.Epoch != 1 || event.Reason != HandoffIterationInterval {
		t.Fatalf("event = %+v", event)
	}
}

func TestRunProjectLoopExternalValidation(t *testing.T) {
	t.Run("validation failure stops the run unsuccessfully", func(t *testing.T) {
		validator := &fakeValidator{ok: false, note: "expected text missing"}
		eng := newValidatedEngine(t, validator)

		report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{})
		if err != nil {
			t.Fatalf("RunProjectLoop failed: %v", err)
		}
		if !validator.called {
			t.Fatal("validator was never invoked")
		}
		if report.StopReason != model.StopValidationFailed {
			t.Fatalf("stop reason = %s, want browser_validation_failed", report.StopReason)
		}
		if report.Success {
			t.Fatal("failed validation reported success")
		}
		if report.ValidationNote != "expected text missing" {
			t.Fatalf("validation note = %q", report.ValidationNote)
		}
	})

	t.Run("validation pass confirms the stop", func(t *testing.T) {
		validator := &fakeValidator{ok: true, note: "validated"}
		eng := newValidatedEngine(t, validator)

		report, err := eng.RunProjectLoop(context.Background(), ProjectLoopOptions{})
		if err != nil {
			t.Fatalf("RunProjectLoop failed: %v", err)
		}
		if report.StopReason != model.StopAllFeaturesPassed || !report.Success {
			t.Fatalf("report = %+v, want successful all-passed stop", report)
		}
	})
}

// newValidatedEngine builds an engine with one passing feature and a policy
// that requires external validation before stopping.
func newValidatedEngine(t *testing.T, validator Validator) *Engine {
	t.Helper()
	eng, err := New(t.TempDir(), newFakeRunner(), validator)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := eng.Initialize("Validated objective"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	disableHandoff(t, eng)
	if _, err := eng.UpdateSettings(func(p *model.AgentPolicy) {
		p.RequireValidationOnStop = true
		p.ValidationURL = "http://localhost:8080/health"
		p.ValidationExpectText = "ok"
	}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	addTestFeature(t, eng, shellFeature("F-1", 1, true))
	return eng
}
